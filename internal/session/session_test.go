package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/whalesalpha/custody-api/internal/database"
)

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return NewService(db)
}

func TestSetGetClear(t *testing.T) {
	s := testService(t)

	if err := s.Set("ACC_1", "withdraw_amount", "500000000"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	payload, err := s.Get("ACC_1", "withdraw_amount")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if payload != "500000000" {
		t.Fatalf("expected payload 500000000, got %q", payload)
	}

	if err := s.Clear("ACC_1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := s.Get("ACC_1", "withdraw_amount"); err != ErrNoState {
		t.Fatalf("expected ErrNoState after clear, got %v", err)
	}
}

func TestSetReplacesPreviousState(t *testing.T) {
	s := testService(t)

	if err := s.Set("ACC_1", "withdraw_amount", "100"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set("ACC_1", "withdraw_amount", "200"); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	payload, err := s.Get("ACC_1", "withdraw_amount")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if payload != "200" {
		t.Fatalf("stale payload survived: %q", payload)
	}
}

func TestGetWrongState(t *testing.T) {
	s := testService(t)

	if err := s.Set("ACC_1", "withdraw_amount", "100"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := s.Get("ACC_1", "other_flow"); err != ErrNoState {
		t.Fatalf("expected ErrNoState for foreign state, got %v", err)
	}
}

func TestExpiredStateIsGone(t *testing.T) {
	s := testService(t)

	if err := s.Set("ACC_1", "withdraw_amount", "100"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// Force the entry past its TTL.
	if err := s.db.Exec("UPDATE interaction_states SET expires_at = ? WHERE account_id = ?",
		time.Now().Add(-time.Minute), "ACC_1").Error; err != nil {
		t.Fatalf("failed to age entry: %v", err)
	}

	if _, err := s.Get("ACC_1", "withdraw_amount"); err != ErrNoState {
		t.Fatalf("expected ErrNoState for expired entry, got %v", err)
	}
}
