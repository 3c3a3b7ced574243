package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/whalesalpha/custody-api/internal/config"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/types"
	"github.com/whalesalpha/custody-api/pkg/response"
	"gorm.io/gorm"
)

var (
	ErrCallNotFound = errors.New("call not found")
	ErrCallClosed   = errors.New("call is closed")
)

// PositionCloser is the monitor's force-close path, injected so a
// closed call's open positions are sold regardless of profit target.
type PositionCloser interface {
	CloseExecutionsForCall(ctx context.Context, callID string) (int, error)
}

// Service records operator trade calls and fans them out to eligible
// accounts as queued executions.
type Service struct {
	db     *Database
	ledger *ledger.Service
	notif  notify.Notifier
	cfg    config.Trading
	closer PositionCloser
}

func NewService(gormDB *gorm.DB, ledgerSvc *ledger.Service, notifier notify.Notifier, cfg config.Trading) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		ledger: ledgerSvc,
		notif:  notifier,
		cfg:    cfg,
	}
}

// SetCloser wires the monitor's close path after construction; the
// registry and the monitor are built independently in main.
func (s *Service) SetCloser(closer PositionCloser) {
	s.closer = closer
}

// CreateCall records an operator trade opportunity with idempotency
// support. Retried requests with the same key return the original call.
func (s *Service) CreateCall(operator, asset, label, notes, idempotencyKey string) (*types.Call, error) {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ResourceID != "" && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetCall(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrCallNotFound
		}
		return existing, nil
	}

	call := &types.Call{
		CallID:    "CALL_" + uuid.New().String(),
		CreatedBy: operator,
		Asset:     asset,
		Label:     label,
		Notes:     notes,
		Status:    types.CallStatusOpen,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.db.CreateCallWithIdempotency(call, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("call_id", call.CallID).
		Str("asset", asset).
		Str("label", label).
		Str("created_by", operator).
		Str("service", "calls").
		Msg("call created")

	return call, nil
}

func (s *Service) GetCall(callID string) (*types.Call, error) {
	return s.db.GetCall(callID)
}

func (s *Service) ListOpenCalls() ([]types.Call, error) {
	return s.db.ListOpenCalls()
}

func (s *Service) GetAccountExecutions(accountID string) ([]types.Execution, error) {
	return s.db.GetAccountExecutions(accountID)
}

// Broadcast fans a call out to every automated account with enough
// available balance, inserting one QUEUED execution per account. The
// stake is an advisory reservation until the worker fills it.
func (s *Service) Broadcast(callID string) (*types.BroadcastResponse, error) {
	logger := log.With().
		Str("call_id", callID).
		Str("service", "calls").
		Logger()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, ErrCallNotFound
	}
	if call.Status != types.CallStatusOpen {
		return nil, ErrCallClosed
	}

	accounts, err := s.ledger.ListAutomatedAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible accounts: %w", err)
	}

	logger.Info().Int("candidates", len(accounts)).Msg("starting call fan-out")

	queued := 0
	var totalStake int64
	for _, account := range accounts {
		stake, err := s.stakeFor(account)
		if err != nil {
			logger.Error().Err(err).
				Str("account_id", account.AccountID).
				Msg("failed to size stake, skipping account")
			continue
		}
		// Stakes below the configured minimum are rejected at queue
		// time, not at fill time.
		if stake < s.cfg.MinStakeLamports {
			continue
		}

		execution := &types.Execution{
			ExecutionID: "EXE_" + uuid.New().String(),
			CallID:      call.CallID,
			AccountID:   account.AccountID,
			Stake:       stake,
			Status:      types.ExecutionStatusQueued,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := s.db.CreateExecution(execution); err != nil {
			logger.Error().Err(err).
				Str("account_id", account.AccountID).
				Msg("failed to queue execution")
			continue
		}
		queued++
		totalStake += stake

		s.notif.Notify(account.AccountID, "call_queued",
			fmt.Sprintf("New call %s (%s): %d lamports reserved for auto-entry", call.Label, call.Asset, stake))
	}

	logger.Info().
		Int("queued", queued).
		Int64("total_stake", totalStake).
		Msg("call fan-out completed")

	return &types.BroadcastResponse{
		CallID:         call.CallID,
		QueuedAccounts: queued,
		TotalStake:     totalStake,
		Timestamp:      time.Now(),
	}, nil
}

// stakeFor computes the per-account stake:
// clamp(available * tierFraction, minimum stake, available).
// The tier fraction mapping is operator-configurable and deterministic.
func (s *Service) stakeFor(account types.Account) (int64, error) {
	available, err := s.ledger.AvailableBalance(account.AccountID)
	if err != nil {
		return 0, err
	}
	if available < s.cfg.MinStakeLamports {
		return 0, nil
	}

	fraction, ok := s.cfg.RiskFractions[account.RiskTier]
	if !ok {
		fraction = s.cfg.RiskFractions[types.RiskTierMedium]
	}

	stake := decimal.NewFromInt(available).
		Mul(decimal.NewFromFloat(fraction)).
		Round(0).IntPart()
	if stake < s.cfg.MinStakeLamports {
		stake = s.cfg.MinStakeLamports
	}
	if stake > available {
		stake = available
	}
	return stake, nil
}

// CloseCall terminates a call. With force, every still-open execution is
// closed through the monitor's close path regardless of profit target.
func (s *Service) CloseCall(ctx context.Context, callID string, force bool) (*types.Call, error) {
	logger := log.With().
		Str("call_id", callID).
		Bool("force", force).
		Str("service", "calls").
		Logger()

	call, err := s.db.GetCall(callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, ErrCallNotFound
	}

	call.Status = types.CallStatusClosed
	if force {
		call.ForceClosed = true
	}
	call.UpdatedAt = time.Now()
	if err := s.db.UpdateCall(call); err != nil {
		return nil, err
	}

	logger.Info().Msg("call closed")

	if force && s.closer != nil {
		closed, err := s.closer.CloseExecutionsForCall(ctx, call.CallID)
		if err != nil {
			// Positions that failed to close stay OPEN; the monitor
			// retries them because the call is flagged force-closed.
			logger.Warn().Err(err).Int("closed", closed).Msg("force-close left open positions for retry")
		} else {
			logger.Info().Int("closed", closed).Msg("force-closed open positions")
		}
	}

	return call, nil
}

// GinHandlers contains HTTP handlers for operator call endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateCallHandler handles POST requests creating operator calls.
// Requires an operator token and idempotency key in headers.
func (h *GinHandlers) CreateCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var body struct {
			Asset string `json:"asset"`
			Label string `json:"label" binding:"required"`
			Notes string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		call, err := h.service.CreateCall(c.GetString("clientID"), body.Asset, body.Label, body.Notes, idempotencyKey)
		response.Handle(c, call, err)
	}
}

// ListOpenCallsHandler returns calls still accepting fan-out.
func (h *GinHandlers) ListOpenCallsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		openCalls, err := h.service.ListOpenCalls()
		response.Handle(c, openCalls, err)
	}
}

// GetCallHandler returns one call by ID.
func (h *GinHandlers) GetCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		call, err := h.service.GetCall(c.Param("call_id"))
		if err == nil && call == nil {
			response.NotFound(c, ErrCallNotFound.Error())
			return
		}
		response.Handle(c, call, err)
	}
}

// BroadcastCallHandler fans a call out to eligible accounts.
func (h *GinHandlers) BroadcastCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Param("call_id")

		result, err := h.service.Broadcast(callID)
		switch {
		case errors.Is(err, ErrCallNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrCallClosed):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, result, err)
		}
	}
}

// CloseCallHandler closes a call; ?force=true also closes its open
// positions.
func (h *GinHandlers) CloseCallHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		callID := c.Param("call_id")
		force := c.Query("force") == "true"

		call, err := h.service.CloseCall(c.Request.Context(), callID, force)
		if errors.Is(err, ErrCallNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Handle(c, call, err)
	}
}

// ListExecutionsHandler returns the calling account's executions.
func (h *GinHandlers) ListExecutionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		executions, err := h.service.GetAccountExecutions(c.GetString("clientID"))
		response.Handle(c, executions, err)
	}
}
