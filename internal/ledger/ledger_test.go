package ledger

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/whalesalpha/custody-api/internal/database"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

const sol = types.LamportsPerSOL

func testService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return NewService(db), db
}

func fundedAccount(t *testing.T, s *Service, accountID string, balance int64) {
	t.Helper()
	if _, err := s.UpsertAccount(accountID, "tester"); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if balance > 0 {
		if err := s.Credit(accountID, balance); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
	}
}

func queueExecution(t *testing.T, db *gorm.DB, accountID string, stake int64, status string) {
	t.Helper()
	execution := types.Execution{
		ExecutionID: "EXE_test_" + status + "_" + time.Now().Format("150405.000000000"),
		CallID:      "CALL_test",
		AccountID:   accountID,
		Stake:       stake,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := db.Create(&execution).Error; err != nil {
		t.Fatalf("failed to insert execution: %v", err)
	}
}

func TestCreditAndDebit(t *testing.T) {
	s, _ := testService(t)
	fundedAccount(t, s, "ACC_1", sol)

	if err := s.Debit("ACC_1", 4*sol/10); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	account, err := s.GetAccount("ACC_1")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if account.Balance != 6*sol/10 {
		t.Fatalf("expected balance %d, got %d", 6*sol/10, account.Balance)
	}

	if err := s.Debit("ACC_1", sol); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	s, _ := testService(t)
	if err := s.Credit("ACC_missing", sol); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	s, _ := testService(t)
	fundedAccount(t, s, "ACC_1", sol)

	if err := s.Credit("ACC_1", 0); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for zero credit, got %v", err)
	}
	if err := s.Debit("ACC_1", -5); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for negative debit, got %v", err)
	}
}

func TestAvailableExcludesQueuedStakes(t *testing.T) {
	s, db := testService(t)
	fundedAccount(t, s, "ACC_1", sol)
	queueExecution(t, db, "ACC_1", 35*sol/100, types.ExecutionStatusQueued)

	available, err := s.AvailableBalance("ACC_1")
	if err != nil {
		t.Fatalf("available balance failed: %v", err)
	}
	if available != 65*sol/100 {
		t.Fatalf("expected available %d, got %d", 65*sol/100, available)
	}

	// Open positions already converted their stake into a debit; they
	// must not reduce availability a second time.
	queueExecution(t, db, "ACC_1", 20*sol/100, types.ExecutionStatusOpen)
	available, err = s.AvailableBalance("ACC_1")
	if err != nil {
		t.Fatalf("available balance failed: %v", err)
	}
	if available != 65*sol/100 {
		t.Fatalf("open execution changed availability: got %d", available)
	}
}

func TestDebitAvailableRespectsReservations(t *testing.T) {
	s, db := testService(t)
	fundedAccount(t, s, "ACC_1", sol)
	queueExecution(t, db, "ACC_1", 35*sol/100, types.ExecutionStatusQueued)

	if err := s.DebitAvailable("ACC_1", 70*sol/100); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := s.DebitAvailable("ACC_1", 65*sol/100); err != nil {
		t.Fatalf("debit within available failed: %v", err)
	}

	account, _ := s.GetAccount("ACC_1")
	if account.Balance != 35*sol/100 {
		t.Fatalf("expected balance %d, got %d", 35*sol/100, account.Balance)
	}
}

func TestDebitAvailableExactlyOnce(t *testing.T) {
	s, _ := testService(t)
	fundedAccount(t, s, "ACC_1", sol)

	// Two withdrawals of 0.6 against 1.0: the conditional UPDATE lets
	// exactly one through.
	first := s.DebitAvailable("ACC_1", 6*sol/10)
	second := s.DebitAvailable("ACC_1", 6*sol/10)

	if first != nil {
		t.Fatalf("first debit failed: %v", first)
	}
	if second != ErrInsufficientFunds {
		t.Fatalf("expected second debit to fail, got %v", second)
	}
	account, _ := s.GetAccount("ACC_1")
	if account.Balance != 4*sol/10 {
		t.Fatalf("expected balance %d, got %d", 4*sol/10, account.Balance)
	}
}

func TestUpsertAccountKeepsBalance(t *testing.T) {
	s, _ := testService(t)
	fundedAccount(t, s, "ACC_1", sol)

	account, err := s.UpsertAccount("ACC_1", "renamed")
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if account.Balance != sol {
		t.Fatalf("upsert reset balance: got %d", account.Balance)
	}
	if account.Username != "renamed" {
		t.Fatalf("expected username update, got %q", account.Username)
	}
}

func TestBalancesBreakdown(t *testing.T) {
	s, db := testService(t)
	fundedAccount(t, s, "ACC_1", sol)
	queueExecution(t, db, "ACC_1", 10*sol/100, types.ExecutionStatusQueued)

	balances, err := s.Balances("ACC_1")
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}
	if balances.Balance != sol || balances.Reserved != 10*sol/100 || balances.Available != 90*sol/100 {
		t.Fatalf("unexpected breakdown: %+v", balances)
	}
}

func TestDepositUnknownAccountReturnsNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := testService(t)
	h := NewGinHandlers(s)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/internal/deposits",
		strings.NewReader(`{"account_id":"ACC_missing","amount":1000}`))
	c.Request.Header.Set("Content-Type", "application/json")

	h.CreditDepositHandler()(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d: %s", w.Code, w.Body.String())
	}
}
