package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/whalesalpha/custody-api/internal/database"
	"github.com/whalesalpha/custody-api/internal/gateway"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

const (
	sol      = types.LamportsPerSOL
	baseMint = "So11111111111111111111111111111111111111112"
)

// fakeGateway scripts quote and execute outcomes.
type fakeGateway struct {
	quoteErr   error
	executeErr error
	outAmount  uint64
	quotes     int
	executes   int
}

func (f *fakeGateway) Quote(_ context.Context, inputMint, outputMint string, amount uint64) (*gateway.Route, error) {
	f.quotes++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &gateway.Route{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   amount,
		OutAmount:  f.outAmount,
	}, nil
}

func (f *fakeGateway) Execute(_ context.Context, route *gateway.Route) (*gateway.SwapResult, error) {
	f.executes++
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &gateway.SwapResult{TxRef: "TX_fake", OutputAmount: route.OutAmount}, nil
}

func testWorker(t *testing.T, gw gateway.SwapGateway) (*Worker, *ledger.Service, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	ledgerService := ledger.NewService(db)
	worker := NewWorker(db, ledgerService, gw, notify.NopNotifier{}, baseMint, 100, time.Second, 5*time.Second)
	return worker, ledgerService, db
}

func seedExecution(t *testing.T, db *gorm.DB, ledgerService *ledger.Service, asset string, balance, stake int64) *types.Execution {
	t.Helper()
	if _, err := ledgerService.UpsertAccount("ACC_1", ""); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if balance > 0 {
		if err := ledgerService.Credit("ACC_1", balance); err != nil {
			t.Fatalf("failed to fund account: %v", err)
		}
	}
	call := types.Call{
		CallID:    "CALL_1",
		CreatedBy: "OP_1",
		Asset:     asset,
		Label:     "COIN",
		Status:    types.CallStatusOpen,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&call).Error; err != nil {
		t.Fatalf("failed to create call: %v", err)
	}
	execution := types.Execution{
		ExecutionID: "EXE_1",
		CallID:      call.CallID,
		AccountID:   "ACC_1",
		Stake:       stake,
		Status:      types.ExecutionStatusQueued,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := db.Create(&execution).Error; err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	return &execution
}

func fetchExecution(t *testing.T, db *gorm.DB, executionID string) *types.Execution {
	t.Helper()
	var execution types.Execution
	if err := db.Where("execution_id = ?", executionID).First(&execution).Error; err != nil {
		t.Fatalf("execution not found: %v", err)
	}
	return &execution
}

func TestRunOnceFillsQueuedExecution(t *testing.T) {
	gw := &fakeGateway{outAmount: 123456}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "MintAAA", sol, 35*sol/100)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusOpen {
		t.Fatalf("expected OPEN, got %s", execution.Status)
	}
	if execution.TxRef != "TX_fake" || execution.TokenQuantity != 123456 {
		t.Fatalf("fill details not recorded: %+v", execution)
	}
	if execution.FilledAt == nil {
		t.Fatalf("filled_at not set")
	}

	account, _ := ledgerService.GetAccount("ACC_1")
	if account.Balance != 65*sol/100 {
		t.Fatalf("expected stake debited, balance %d", account.Balance)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	gw := &fakeGateway{outAmount: 1}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "MintAAA", sol, sol/10)

	claimed, err := worker.db.Claim("EXE_1")
	if err != nil || !claimed {
		t.Fatalf("first claim failed: claimed=%v err=%v", claimed, err)
	}
	claimed, err = worker.db.Claim("EXE_1")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if claimed {
		t.Fatalf("execution claimed twice")
	}
}

func TestMissingAssetFailsWithoutDebit(t *testing.T) {
	gw := &fakeGateway{outAmount: 1}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "", sol, sol/10)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusError {
		t.Fatalf("expected ERROR, got %s", execution.Status)
	}
	if execution.FailReason != reasonNoTargetAsset {
		t.Fatalf("expected %s, got %s", reasonNoTargetAsset, execution.FailReason)
	}
	if gw.quotes != 0 {
		t.Fatalf("gateway consulted for assetless call")
	}
	account, _ := ledgerService.GetAccount("ACC_1")
	if account.Balance != sol {
		t.Fatalf("balance mutated: %d", account.Balance)
	}
}

func TestInsufficientBalanceFailsWithoutGatewayCall(t *testing.T) {
	gw := &fakeGateway{outAmount: 1}
	worker, ledgerService, db := testWorker(t, gw)
	// Stake was sized when the balance was higher; by fill time the
	// account cannot cover it.
	seedExecution(t, db, ledgerService, "MintAAA", sol/100, sol/10)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusError {
		t.Fatalf("expected ERROR, got %s", execution.Status)
	}
	if execution.FailReason != reasonInsufficientBalance {
		t.Fatalf("expected %s, got %s", reasonInsufficientBalance, execution.FailReason)
	}
	if gw.quotes != 0 {
		t.Fatalf("gateway consulted despite failed debit")
	}
}

func TestNoRouteReversesDebit(t *testing.T) {
	gw := &fakeGateway{quoteErr: gateway.ErrNoRoute}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "MintAAA", sol, sol/10)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusError || execution.FailReason != reasonNoRoute {
		t.Fatalf("unexpected outcome: %+v", execution)
	}
	account, _ := ledgerService.GetAccount("ACC_1")
	if account.Balance != sol {
		t.Fatalf("debit not reversed: %d", account.Balance)
	}
}

func TestSwapFailureReversesDebit(t *testing.T) {
	gw := &fakeGateway{outAmount: 1, executeErr: errors.New("venue down")}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "MintAAA", sol, sol/10)

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusError || execution.FailReason != reasonGatewayFailure {
		t.Fatalf("unexpected outcome: %+v", execution)
	}
	account, _ := ledgerService.GetAccount("ACC_1")
	if account.Balance != sol {
		t.Fatalf("debit not reversed: %d", account.Balance)
	}
}

func TestQueuedBatchSkipsClosedCalls(t *testing.T) {
	gw := &fakeGateway{outAmount: 1}
	worker, ledgerService, db := testWorker(t, gw)
	seedExecution(t, db, ledgerService, "MintAAA", sol, sol/10)

	if err := db.Model(&types.Call{}).Where("call_id = ?", "CALL_1").
		Update("status", types.CallStatusClosed).Error; err != nil {
		t.Fatalf("failed to close call: %v", err)
	}

	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	execution := fetchExecution(t, db, "EXE_1")
	if execution.Status != types.ExecutionStatusQueued {
		t.Fatalf("execution of closed call processed: %s", execution.Status)
	}
}
