// Package monitor re-evaluates open positions against the target profit
// multiple and drives closing sells through the swap gateway.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/whalesalpha/custody-api/internal/gateway"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/types"
	"gorm.io/gorm"
)

type Service struct {
	db             *Database
	ledger         *ledger.Service
	gateway        gateway.SwapGateway
	notif          notify.Notifier
	baseMint       string
	targetMultiple float64
	interval       time.Duration
	swapTimeout    time.Duration
}

func NewService(gormDB *gorm.DB, ledgerSvc *ledger.Service, gw gateway.SwapGateway, notifier notify.Notifier,
	baseMint string, targetMultiple float64, interval, swapTimeout time.Duration) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		ledger:         ledgerSvc,
		gateway:        gw,
		notif:          notifier,
		baseMint:       baseMint,
		targetMultiple: targetMultiple,
		interval:       interval,
		swapTimeout:    swapTimeout,
	}
}

// Start begins the position scanning loop
func (s *Service) Start(ctx context.Context) {
	logger := log.With().Str("component", "position_monitor").Logger()
	logger.Info().
		Float64("target_multiple", s.targetMultiple).
		Dur("interval", s.interval).
		Msg("starting position monitor")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down position monitor")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("monitor cycle failed")
			}
		}
	}
}

// RunOnce scans every open position once. Positions that fail to close
// stay OPEN and are retried on the next cycle; they are never abandoned
// since they still hold value.
func (s *Service) RunOnce(ctx context.Context) error {
	logger := log.With().Str("component", "position_monitor").Logger()

	executions, err := s.db.GetOpenExecutions()
	if err != nil {
		return fmt.Errorf("failed to select open executions: %w", err)
	}
	if len(executions) == 0 {
		return nil
	}

	logger.Debug().Int("open_positions", len(executions)).Msg("scanning open positions")

	for i := range executions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		execution := &executions[i]

		call, err := s.db.GetCall(execution.CallID)
		if err != nil || call == nil {
			logger.Error().Err(err).
				Str("execution_id", execution.ExecutionID).
				Msg("failed to fetch parent call")
			continue
		}

		shouldClose := call.ForceClosed
		if !shouldClose {
			estimated, err := s.estimateValue(ctx, execution, call)
			if err != nil {
				logger.Debug().Err(err).
					Str("execution_id", execution.ExecutionID).
					Msg("quote unavailable, retrying next cycle")
				continue
			}
			shouldClose = estimated >= s.targetValue(execution.Stake)
			if shouldClose {
				logger.Info().
					Str("execution_id", execution.ExecutionID).
					Int64("estimated_value", estimated).
					Int64("entry_spent", execution.Stake).
					Msg("position reached target multiple")
			}
		}

		if !shouldClose {
			continue
		}
		if err := s.closePosition(ctx, execution, call); err != nil {
			logger.Warn().Err(err).
				Str("execution_id", execution.ExecutionID).
				Msg("close failed, position stays open")
		}
	}
	return nil
}

// estimateValue asks the gateway for a quote-only liquidation value of
// the held quantity. Quotes never gate a financial decision other than
// triggering the actual sell.
func (s *Service) estimateValue(ctx context.Context, execution *types.Execution, call *types.Call) (int64, error) {
	quoteCtx, cancel := context.WithTimeout(ctx, s.swapTimeout)
	defer cancel()

	route, err := s.gateway.Quote(quoteCtx, call.Asset, s.baseMint, execution.TokenQuantity)
	if err != nil {
		return 0, err
	}
	return int64(route.OutAmount), nil
}

func (s *Service) targetValue(stake int64) int64 {
	return decimal.NewFromInt(stake).
		Mul(decimal.NewFromFloat(s.targetMultiple)).
		Round(0).IntPart()
}

// closePosition claims the position, sells the held quantity, credits
// realized proceeds, and records the outcome.
func (s *Service) closePosition(ctx context.Context, execution *types.Execution, call *types.Call) error {
	logger := log.With().
		Str("execution_id", execution.ExecutionID).
		Str("account_id", execution.AccountID).
		Str("component", "position_monitor").
		Logger()

	// Claim before any network call; the scan loop and the registry's
	// force-close can race over the same position, and only the claim
	// winner sells.
	claimed, err := s.db.ClaimForClose(execution.ExecutionID)
	if err != nil {
		return fmt.Errorf("close claim failed: %w", err)
	}
	if !claimed {
		logger.Debug().Msg("position already closing, skipping")
		return nil
	}

	swapCtx, cancel := context.WithTimeout(ctx, s.swapTimeout)
	defer cancel()

	route, err := s.gateway.Quote(swapCtx, call.Asset, s.baseMint, execution.TokenQuantity)
	if err != nil {
		s.releaseClaim(execution.ExecutionID)
		return fmt.Errorf("sell quote failed: %w", err)
	}

	result, err := s.gateway.Execute(swapCtx, route)
	if err != nil {
		s.releaseClaim(execution.ExecutionID)
		return fmt.Errorf("sell failed: %w", err)
	}

	proceeds := int64(result.OutputAmount)
	pnl := proceeds - execution.Stake
	pnlPercent := 0.0
	if execution.Stake > 0 {
		pnlPercent, _ = decimal.NewFromInt(pnl).
			Div(decimal.NewFromInt(execution.Stake)).
			Mul(decimal.NewFromInt(100)).
			Round(2).Float64()
	}

	if err := s.ledger.Credit(execution.AccountID, proceeds); err != nil {
		// The tokens are already sold; releasing the claim would sell
		// again. The position stays CLOSING for operator reconciliation.
		logger.Error().Err(err).
			Str("tx_ref", result.TxRef).
			Int64("proceeds", proceeds).
			Msg("sell executed but proceeds not credited")
		return fmt.Errorf("failed to credit proceeds: %w", err)
	}

	if err := s.db.MarkClosed(execution.ExecutionID, result.TxRef, proceeds, pnl, pnlPercent); err != nil {
		logger.Error().Err(err).
			Str("tx_ref", result.TxRef).
			Msg("proceeds credited but close not recorded")
		return err
	}

	logger.Info().
		Int64("proceeds", proceeds).
		Int64("pnl", pnl).
		Float64("pnl_percent", pnlPercent).
		Str("tx_ref", result.TxRef).
		Msg("position closed")

	s.notif.Notify(execution.AccountID, "execution_closed",
		fmt.Sprintf("Closed %s: proceeds %d lamports, pnl %d (%.2f%%)", call.Label, proceeds, pnl, pnlPercent))
	return nil
}

// releaseClaim puts a claimed position back to OPEN after a failed sell.
func (s *Service) releaseClaim(executionID string) {
	if err := s.db.Reopen(executionID); err != nil {
		log.Error().Err(err).
			Str("execution_id", executionID).
			Str("component", "position_monitor").
			Msg("failed to release close claim")
	}
}

// CloseExecutionsForCall force-closes every open position of a call
// regardless of its estimated value. Used by the registry's force-close
// path; positions that fail to sell stay OPEN for the scan loop to
// retry.
func (s *Service) CloseExecutionsForCall(ctx context.Context, callID string) (int, error) {
	executions, err := s.db.GetOpenExecutionsByCall(callID)
	if err != nil {
		return 0, err
	}
	call, err := s.db.GetCall(callID)
	if err != nil {
		return 0, err
	}
	if call == nil {
		return 0, fmt.Errorf("call %s not found", callID)
	}

	closed := 0
	var firstErr error
	for i := range executions {
		if err := s.closePosition(ctx, &executions[i], call); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed++
	}
	return closed, firstErr
}
