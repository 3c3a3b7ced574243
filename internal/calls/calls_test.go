package calls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/whalesalpha/custody-api/internal/config"
	"github.com/whalesalpha/custody-api/internal/database"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

const sol = types.LamportsPerSOL

func testTradingConfig() config.Trading {
	return config.Trading{
		MinStakeLamports: sol / 100, // 0.01 SOL
		RiskFractions: map[string]float64{
			types.RiskTierLow:    0.05,
			types.RiskTierMedium: 0.35,
			types.RiskTierHigh:   0.50,
		},
		TargetMultiple: 2.0,
	}
}

func testService(t *testing.T) (*Service, *ledger.Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	ledgerService := ledger.NewService(db)
	return NewService(db, ledgerService, notify.NopNotifier{}, testTradingConfig()), ledgerService, db
}

func automatedAccount(t *testing.T, ledgerService *ledger.Service, accountID, tier string, balance int64) {
	t.Helper()
	if _, err := ledgerService.UpsertAccount(accountID, ""); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if balance > 0 {
		if err := ledgerService.Credit(accountID, balance); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
	}
	if err := ledgerService.SetRiskTier(accountID, tier); err != nil {
		t.Fatalf("failed to set risk tier: %v", err)
	}
	if err := ledgerService.SetAutomation(accountID, true); err != nil {
		t.Fatalf("failed to enable automation: %v", err)
	}
}

func TestCreateCallIdempotency(t *testing.T) {
	s, _, _ := testService(t)

	first, err := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if err != nil {
		t.Fatalf("create call failed: %v", err)
	}
	second, err := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if err != nil {
		t.Fatalf("retried create failed: %v", err)
	}
	if first.CallID != second.CallID {
		t.Fatalf("idempotency key produced two calls: %s vs %s", first.CallID, second.CallID)
	}

	third, err := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-2")
	if err != nil {
		t.Fatalf("create with new key failed: %v", err)
	}
	if third.CallID == first.CallID {
		t.Fatalf("distinct keys returned the same call")
	}
}

func TestBroadcastStakeSizing(t *testing.T) {
	s, ledgerService, db := testService(t)
	automatedAccount(t, ledgerService, "ACC_1", types.RiskTierMedium, sol)

	call, err := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if err != nil {
		t.Fatalf("create call failed: %v", err)
	}
	result, err := s.Broadcast(call.CallID)
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if result.QueuedAccounts != 1 {
		t.Fatalf("expected 1 queued account, got %d", result.QueuedAccounts)
	}

	var execution types.Execution
	if err := db.Where("call_id = ?", call.CallID).First(&execution).Error; err != nil {
		t.Fatalf("queued execution not found: %v", err)
	}
	// 1 SOL available at a 0.35 medium fraction.
	if execution.Stake != 35*sol/100 {
		t.Fatalf("expected stake %d, got %d", 35*sol/100, execution.Stake)
	}
	if execution.Status != types.ExecutionStatusQueued {
		t.Fatalf("expected QUEUED, got %s", execution.Status)
	}

	// The stake is an advisory hold, not yet a debit.
	account, _ := ledgerService.GetAccount("ACC_1")
	if account.Balance != sol {
		t.Fatalf("broadcast mutated balance: %d", account.Balance)
	}
	available, _ := ledgerService.AvailableBalance("ACC_1")
	if available != 65*sol/100 {
		t.Fatalf("expected available %d, got %d", 65*sol/100, available)
	}
}

func TestBroadcastSkipsUnderfundedAccounts(t *testing.T) {
	s, ledgerService, _ := testService(t)
	automatedAccount(t, ledgerService, "ACC_poor", types.RiskTierMedium, sol/1000)
	automatedAccount(t, ledgerService, "ACC_rich", types.RiskTierMedium, sol)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	result, err := s.Broadcast(call.CallID)
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if result.QueuedAccounts != 1 {
		t.Fatalf("expected underfunded account skipped, queued %d", result.QueuedAccounts)
	}
}

func TestBroadcastSkipsManualAccounts(t *testing.T) {
	s, ledgerService, _ := testService(t)
	automatedAccount(t, ledgerService, "ACC_1", types.RiskTierMedium, sol)
	if err := ledgerService.SetAutomation("ACC_1", false); err != nil {
		t.Fatalf("failed to disable automation: %v", err)
	}

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	result, err := s.Broadcast(call.CallID)
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if result.QueuedAccounts != 0 {
		t.Fatalf("manual account was queued")
	}
}

func TestBroadcastStakeNeverExceedsAvailable(t *testing.T) {
	s, ledgerService, db := testService(t)
	// High tier on a balance barely above the minimum: the fraction
	// rounds below the floor, the floor clamps to the minimum.
	automatedAccount(t, ledgerService, "ACC_1", types.RiskTierHigh, sol/100+1)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if _, err := s.Broadcast(call.CallID); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	var execution types.Execution
	if err := db.Where("call_id = ?", call.CallID).First(&execution).Error; err != nil {
		t.Fatalf("queued execution not found: %v", err)
	}
	if execution.Stake != sol/100 {
		t.Fatalf("expected minimum stake %d, got %d", sol/100, execution.Stake)
	}
}

func TestBroadcastClosedCall(t *testing.T) {
	s, _, _ := testService(t)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if _, err := s.CloseCall(context.Background(), call.CallID, false); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := s.Broadcast(call.CallID); err != ErrCallClosed {
		t.Fatalf("expected ErrCallClosed, got %v", err)
	}
}

func TestBroadcastClosedCallReturnsBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _, _ := testService(t)
	h := NewGinHandlers(s)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if _, err := s.CloseCall(context.Background(), call.CallID, false); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/calls/"+call.CallID+"/broadcast", nil)
	c.Params = gin.Params{{Key: "call_id", Value: call.CallID}}

	h.BroadcastCallHandler()(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for closed call, got %d: %s", w.Code, w.Body.String())
	}
}

type recordingCloser struct {
	calls []string
}

func (r *recordingCloser) CloseExecutionsForCall(_ context.Context, callID string) (int, error) {
	r.calls = append(r.calls, callID)
	return 0, nil
}

func TestForceCloseInvokesCloser(t *testing.T) {
	s, _, _ := testService(t)
	closer := &recordingCloser{}
	s.SetCloser(closer)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")

	closed, err := s.CloseCall(context.Background(), call.CallID, true)
	if err != nil {
		t.Fatalf("force close failed: %v", err)
	}
	if !closed.ForceClosed || closed.Status != types.CallStatusClosed {
		t.Fatalf("unexpected call state: %+v", closed)
	}
	if len(closer.calls) != 1 || closer.calls[0] != call.CallID {
		t.Fatalf("closer not invoked for call: %v", closer.calls)
	}
}

func TestCloseWithoutForceLeavesPositions(t *testing.T) {
	s, _, _ := testService(t)
	closer := &recordingCloser{}
	s.SetCloser(closer)

	call, _ := s.CreateCall("OP_1", "MintAAA", "COIN", "", "key-1")
	if _, err := s.CloseCall(context.Background(), call.CallID, false); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if len(closer.calls) != 0 {
		t.Fatalf("non-force close invoked the closer")
	}
}
