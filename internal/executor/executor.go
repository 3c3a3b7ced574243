// Package executor drains queued executions, invokes the swap gateway,
// and keeps the ledger consistent with real-world outcomes.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/whalesalpha/custody-api/internal/gateway"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

const (
	reasonNoTargetAsset       = "no_target_asset"
	reasonInsufficientBalance = "insufficient_balance"
	reasonGatewayFailure      = "gateway_failure"
	reasonNoRoute             = "no_route"
)

type Worker struct {
	db          *Database
	ledger      *ledger.Service
	gateway     gateway.SwapGateway
	notif       notify.Notifier
	baseMint    string
	batchSize   int
	interval    time.Duration
	swapTimeout time.Duration
}

func NewWorker(gormDB *gorm.DB, ledgerSvc *ledger.Service, gw gateway.SwapGateway, notifier notify.Notifier,
	baseMint string, batchSize int, interval, swapTimeout time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Worker{
		db:          NewDatabase(gormDB),
		ledger:      ledgerSvc,
		gateway:     gw,
		notif:       notifier,
		baseMint:    baseMint,
		batchSize:   batchSize,
		interval:    interval,
		swapTimeout: swapTimeout,
	}
}

// Start begins the execution processing loop
func (w *Worker) Start(ctx context.Context) {
	logger := log.With().Str("component", "execution_worker").Logger()
	logger.Info().Dur("interval", w.interval).Msg("starting execution worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down execution worker")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				// A store failure halts the cycle; the worker resumes on
				// the next tick rather than proceeding with partial state.
				logger.Error().Err(err).Msg("execution cycle failed")
			}
		}
	}
}

// RunOnce claims and processes one bounded batch of queued executions.
func (w *Worker) RunOnce(ctx context.Context) error {
	logger := log.With().Str("component", "execution_worker").Logger()

	batch, err := w.db.GetQueuedBatch(w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to select queued executions: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	logger.Info().Int("batch", len(batch)).Msg("processing queued executions")

	for i := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, &batch[i])
	}
	return nil
}

// process drives one execution from QUEUED to OPEN or ERROR. The stake
// is debited before the gateway is invoked, and credited back on any
// gateway failure, so a crash mid-flight never leaves funds both
// debited-nowhere and traded.
func (w *Worker) process(ctx context.Context, execution *types.Execution) {
	logger := log.With().
		Str("execution_id", execution.ExecutionID).
		Str("call_id", execution.CallID).
		Str("account_id", execution.AccountID).
		Int64("stake", execution.Stake).
		Str("component", "execution_worker").
		Logger()

	// Claim before any network call; a lost claim means another worker
	// instance owns this execution.
	claimed, err := w.db.Claim(execution.ExecutionID)
	if err != nil {
		logger.Error().Err(err).Msg("claim failed")
		return
	}
	if !claimed {
		logger.Debug().Msg("execution already claimed, skipping")
		return
	}

	call, err := w.db.GetCall(execution.CallID)
	if err != nil || call == nil {
		logger.Error().Err(err).Msg("failed to fetch parent call")
		w.fail(execution, reasonGatewayFailure, "trade failed: call unavailable")
		return
	}

	// A call with no target asset is an immediate ERROR without any
	// balance mutation.
	if call.Asset == "" {
		logger.Warn().Msg("call has no target asset")
		w.fail(execution, reasonNoTargetAsset, "trade failed: call has no target asset")
		return
	}

	// Convert the reservation into a real debit. The claim above already
	// released the advisory hold, so this check is against funds not
	// encumbered by other queued executions.
	if err := w.ledger.DebitAvailable(execution.AccountID, execution.Stake); err != nil {
		if err == ledger.ErrInsufficientFunds {
			logger.Warn().Msg("stake no longer covered by available balance")
			w.fail(execution, reasonInsufficientBalance, "trade skipped: insufficient available balance")
			return
		}
		logger.Error().Err(err).Msg("debit failed")
		w.fail(execution, reasonGatewayFailure, "trade failed: ledger unavailable")
		return
	}

	swapCtx, cancel := context.WithTimeout(ctx, w.swapTimeout)
	defer cancel()

	route, err := w.gateway.Quote(swapCtx, w.baseMint, call.Asset, uint64(execution.Stake))
	if err != nil {
		reason := reasonGatewayFailure
		if err == gateway.ErrNoRoute {
			reason = reasonNoRoute
		}
		logger.Warn().Err(err).Msg("quote failed, reversing debit")
		w.reverseAndFail(execution, reason, "trade failed: no route to target asset")
		return
	}

	// A timed-out execute is treated as failure and the debit reversed;
	// the stake is never silently retried against the venue.
	result, err := w.gateway.Execute(swapCtx, route)
	if err != nil {
		logger.Warn().Err(err).Msg("swap failed, reversing debit")
		w.reverseAndFail(execution, reasonGatewayFailure, "trade failed: swap did not execute")
		return
	}

	if err := w.db.MarkOpen(execution.ExecutionID, result.TxRef, result.OutputAmount); err != nil {
		logger.Error().Err(err).
			Str("tx_ref", result.TxRef).
			Msg("swap broadcast but status update failed")
		return
	}

	logger.Info().
		Str("tx_ref", result.TxRef).
		Uint64("token_quantity", result.OutputAmount).
		Msg("execution filled, position open")

	w.notif.Notify(execution.AccountID, "execution_filled",
		fmt.Sprintf("Filled: %d lamports into %s (tx %s)", execution.Stake, call.Label, result.TxRef))
}

// fail terminates an execution without touching the ledger.
func (w *Worker) fail(execution *types.Execution, reason, message string) {
	if err := w.db.MarkError(execution.ExecutionID, reason); err != nil {
		log.Error().Err(err).
			Str("execution_id", execution.ExecutionID).
			Msg("failed to mark execution error")
		return
	}
	w.notif.Notify(execution.AccountID, "execution_error", message)
}

// reverseAndFail credits the stake back before terminating.
func (w *Worker) reverseAndFail(execution *types.Execution, reason, message string) {
	if err := w.ledger.Credit(execution.AccountID, execution.Stake); err != nil {
		// The debit stands until an operator reconciles; surface loudly.
		log.Error().Err(err).
			Str("execution_id", execution.ExecutionID).
			Str("account_id", execution.AccountID).
			Int64("stake", execution.Stake).
			Msg("failed to reverse debit after gateway failure")
	}
	w.fail(execution, reason, message)
}
