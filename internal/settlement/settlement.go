// Package settlement turns withdrawal requests into net payouts under
// the lockup/fee schedule. Every payout debits the ledger before any
// funds move, and every failed transfer reverses its debit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/whalesalpha/custody-api/internal/config"
	"github.com/whalesalpha/custody-api/internal/gateway"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/session"
	"github.com/whalesalpha/custody-api/internal/types"
	"github.com/whalesalpha/custody-api/pkg/response"
	"gorm.io/gorm"
)

// stateWithdrawAmount is the interaction state between the amount step
// and the tier confirmation step of a withdrawal.
const stateWithdrawAmount = "withdraw_amount"

type Service struct {
	db       *Database
	ledger   *ledger.Service
	transfer gateway.TransferClient
	notif    notify.Notifier
	sessions *session.Service
	cfg      config.Settlement
}

func NewService(gormDB *gorm.DB, ledgerSvc *ledger.Service, transfer gateway.TransferClient,
	notifier notify.Notifier, sessions *session.Service, cfg config.Settlement) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		ledger:   ledgerSvc,
		transfer: transfer,
		notif:    notifier,
		sessions: sessions,
		cfg:      cfg,
	}
}

// SeedFeeTiers writes the configured lockup/fee schedule into the store
// on startup so tier lookups and the display endpoint read one source.
func (s *Service) SeedFeeTiers() error {
	for _, tier := range s.cfg.SortedFeeTiers() {
		if err := s.db.UpsertFeeTier(tier.LockupDays, tier.FeePercent); err != nil {
			return fmt.Errorf("failed to seed fee tier %d: %w", tier.LockupDays, err)
		}
	}
	return nil
}

// ListTiers returns the fee schedule ascending by lockup duration.
func (s *Service) ListTiers() ([]types.FeeTier, error) {
	return s.db.ListFeeTiers()
}

// GetDB exposes the settlement store to the reminder processor.
func (s *Service) GetDB() *Database {
	return s.db
}

func (s *Service) GetPayout(payoutID string) (*types.Payout, error) {
	return s.db.GetPayout(payoutID)
}

func (s *Service) ListAccountPayouts(accountID string) ([]types.Payout, error) {
	return s.db.ListAccountPayouts(accountID)
}

// RequestWithdrawal debits the gross amount from the account's available
// balance, records the payout, and unless an approval gate is configured
// immediately sends the net amount to the account's payout address.
//
// The fee is computed from the chosen lockup tier:
// fee = round(gross * percent / 100), net = gross - fee.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID string, gross int64, lockupDays int) (*types.PayoutReceipt, error) {
	logger := log.With().
		Str("account_id", accountID).
		Int64("gross", gross).
		Int("lockup_days", lockupDays).
		Str("service", "settlement").
		Logger()

	if gross <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	account, err := s.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account.PayoutAddress == "" {
		return nil, ErrNoPayoutAddress
	}

	tier, err := s.db.GetFeeTier(lockupDays)
	if err != nil {
		return nil, err
	}

	fee := decimal.NewFromInt(gross).
		Mul(decimal.NewFromFloat(tier.FeePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()
	net := gross - fee

	// The debit happens against available balance, so funds reserved for
	// queued executions can never leave as a payout.
	if err := s.ledger.DebitAvailable(accountID, gross); err != nil {
		return nil, err
	}

	payout := &types.Payout{
		PayoutID:   "PAY_" + uuid.New().String(),
		AccountID:  accountID,
		Gross:      gross,
		LockupDays: tier.LockupDays,
		FeePercent: tier.FeePercent,
		Fee:        fee,
		Net:        net,
		Status:     types.PayoutStatusRequested,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := s.db.CreatePayout(payout); err != nil {
		// The payout was never recorded; give the funds back.
		if cerr := s.ledger.Credit(accountID, gross); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to reverse debit after store failure")
		}
		return nil, fmt.Errorf("failed to record payout: %w", err)
	}

	logger.Info().
		Str("payout_id", payout.PayoutID).
		Int64("fee", fee).
		Int64("net", net).
		Msg("withdrawal requested")

	if s.cfg.RequireApproval {
		s.notif.Notify(accountID, "payout_requested",
			fmt.Sprintf("Withdrawal of %d lamports requested, awaiting approval (fee %d, net %d)", gross, fee, net))
		return receipt(payout), nil
	}

	if err := s.send(ctx, payout, account.PayoutAddress, types.PayoutStatusRequested); err != nil {
		return nil, err
	}
	return receipt(payout), nil
}

// send claims the payout, transfers the net amount and records the
// outcome. A failed transfer reverses the gross debit and rejects the
// payout so the account is left exactly as before the request.
func (s *Service) send(ctx context.Context, payout *types.Payout, destAddress, fromStatus string) error {
	logger := log.With().
		Str("payout_id", payout.PayoutID).
		Str("account_id", payout.AccountID).
		Str("service", "settlement").
		Logger()

	claimed, err := s.db.ClaimForSending(payout.PayoutID, fromStatus)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrPayoutNotPending
	}

	txRef, err := s.transfer.Transfer(ctx, destAddress, uint64(payout.Net))
	if err != nil {
		logger.Warn().Err(err).Msg("transfer failed, reversing debit")
		if cerr := s.ledger.Credit(payout.AccountID, payout.Gross); cerr != nil {
			logger.Error().Err(cerr).
				Int64("gross", payout.Gross).
				Msg("failed to reverse debit after transfer failure")
		}
		if merr := s.db.MarkRejected(payout.PayoutID, "transfer failed: "+err.Error()); merr != nil {
			logger.Error().Err(merr).Msg("failed to mark payout rejected")
		}
		s.notif.Notify(payout.AccountID, "payout_failed",
			fmt.Sprintf("Withdrawal of %d lamports failed; funds returned to your balance", payout.Gross))
		return fmt.Errorf("transfer failed: %w", err)
	}

	if err := s.db.MarkSent(payout.PayoutID, txRef); err != nil {
		logger.Error().Err(err).Str("tx_ref", txRef).Msg("payout sent but status update failed")
		return err
	}
	payout.Status = types.PayoutStatusSent
	payout.TxRef = txRef

	logger.Info().
		Int64("net", payout.Net).
		Str("tx_ref", txRef).
		Msg("payout sent")

	s.notif.Notify(payout.AccountID, "payout_sent",
		fmt.Sprintf("Sent %d lamports (fee %d) to your payout address, tx %s", payout.Net, payout.Fee, txRef))
	return nil
}

// ApprovePayout releases a pending payout for sending.
func (s *Service) ApprovePayout(ctx context.Context, payoutID string) (*types.Payout, error) {
	payout, err := s.db.GetPayout(payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != types.PayoutStatusRequested {
		return nil, ErrPayoutNotPending
	}

	account, err := s.ledger.GetAccount(payout.AccountID)
	if err != nil {
		return nil, err
	}
	if account.PayoutAddress == "" {
		return nil, ErrNoPayoutAddress
	}

	if err := s.send(ctx, payout, account.PayoutAddress, types.PayoutStatusRequested); err != nil {
		return nil, err
	}
	return payout, nil
}

// RejectPayout cancels a pending payout and returns the gross debit.
func (s *Service) RejectPayout(payoutID, reason string) (*types.Payout, error) {
	payout, err := s.db.GetPayout(payoutID)
	if err != nil {
		return nil, err
	}

	// Compare-and-set so a reject can never race an approval that
	// already claimed the payout for sending.
	rejected, err := s.db.RejectRequested(payoutID, reason)
	if err != nil {
		return nil, err
	}
	if !rejected {
		return nil, ErrPayoutNotPending
	}
	if err := s.ledger.Credit(payout.AccountID, payout.Gross); err != nil {
		log.Error().Err(err).
			Str("payout_id", payoutID).
			Int64("gross", payout.Gross).
			Msg("failed to return funds for rejected payout")
		return nil, err
	}
	payout.Status = types.PayoutStatusRejected
	payout.Reason = reason

	s.notif.Notify(payout.AccountID, "payout_rejected",
		fmt.Sprintf("Withdrawal of %d lamports rejected: %s", payout.Gross, reason))
	return payout, nil
}

func receipt(payout *types.Payout) *types.PayoutReceipt {
	return &types.PayoutReceipt{
		PayoutID:   payout.PayoutID,
		AccountID:  payout.AccountID,
		Gross:      payout.Gross,
		LockupDays: payout.LockupDays,
		FeePercent: payout.FeePercent,
		Fee:        payout.Fee,
		Net:        payout.Net,
		Status:     payout.Status,
		TxRef:      payout.TxRef,
		Timestamp:  time.Now(),
	}
}

// GinHandlers contains HTTP handlers for withdrawal endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTiersHandler returns the lockup/fee schedule, shortest lockup
// first.
func (h *GinHandlers) ListTiersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tiers, err := h.service.ListTiers()
		response.Handle(c, tiers, err)
	}
}

// StartWithdrawalHandler records the requested amount and waits for the
// tier confirmation step. The pending amount expires with the session.
func (h *GinHandlers) StartWithdrawalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")

		var body struct {
			Amount int64 `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if body.Amount <= 0 {
			response.BadRequest(c, "amount must be positive")
			return
		}

		available, err := h.service.ledger.AvailableBalance(accountID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if body.Amount > available {
			response.BadRequest(c, ledger.ErrInsufficientFunds.Error())
			return
		}

		if err := h.service.sessions.Set(accountID, stateWithdrawAmount,
			strconv.FormatInt(body.Amount, 10)); err != nil {
			response.Handle(c, nil, err)
			return
		}

		tiers, err := h.service.ListTiers()
		response.Handle(c, gin.H{"amount": body.Amount, "tiers": tiers}, err)
	}
}

// ConfirmWithdrawalHandler completes the two-step flow: the stored
// amount plus the chosen lockup tier become a payout request.
func (h *GinHandlers) ConfirmWithdrawalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")

		var body struct {
			LockupDays *int `json:"lockup_days" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payload, err := h.service.sessions.Get(accountID, stateWithdrawAmount)
		if errors.Is(err, session.ErrNoState) {
			response.BadRequest(c, "no pending withdrawal; start with the amount step")
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		amount, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			response.InternalError(c, "corrupt withdrawal state")
			return
		}

		payoutReceipt, err := h.service.RequestWithdrawal(c.Request.Context(), accountID, amount, *body.LockupDays)
		if err != nil {
			handleWithdrawalError(c, err)
			return
		}
		_ = h.service.sessions.Clear(accountID)
		response.Success(c, payoutReceipt)
	}
}

// RequestWithdrawalHandler is the single-step variant for API clients
// that already know their tier.
func (h *GinHandlers) RequestWithdrawalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")

		var body struct {
			Amount     int64 `json:"amount" binding:"required"`
			LockupDays *int  `json:"lockup_days" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		payoutReceipt, err := h.service.RequestWithdrawal(c.Request.Context(), accountID, body.Amount, *body.LockupDays)
		if err != nil {
			handleWithdrawalError(c, err)
			return
		}
		response.Success(c, payoutReceipt)
	}
}

// GetPayoutHandler returns one payout belonging to the calling account.
func (h *GinHandlers) GetPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payout, err := h.service.GetPayout(c.Param("payout_id"))
		if err != nil {
			handleWithdrawalError(c, err)
			return
		}
		if payout.AccountID != c.GetString("clientID") {
			response.NotFound(c, ErrPayoutNotFound.Error())
			return
		}
		response.Success(c, payout)
	}
}

// ListPayoutsHandler returns the calling account's payout history.
func (h *GinHandlers) ListPayoutsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payouts, err := h.service.ListAccountPayouts(c.GetString("clientID"))
		response.Handle(c, payouts, err)
	}
}

// ApprovePayoutHandler releases a pending payout. Operator only.
func (h *GinHandlers) ApprovePayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payout, err := h.service.ApprovePayout(c.Request.Context(), c.Param("payout_id"))
		if err != nil {
			handleWithdrawalError(c, err)
			return
		}
		response.Success(c, payout)
	}
}

// RejectPayoutHandler cancels a pending payout. Operator only.
func (h *GinHandlers) RejectPayoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		if body.Reason == "" {
			body.Reason = "rejected by operator"
		}

		payout, err := h.service.RejectPayout(c.Param("payout_id"), body.Reason)
		if err != nil {
			handleWithdrawalError(c, err)
			return
		}
		response.Success(c, payout)
	}
}

// handleWithdrawalError maps the settlement engine's sentinel errors to
// client-facing responses.
func handleWithdrawalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ErrUnknownTier),
		errors.Is(err, ErrNoPayoutAddress),
		errors.Is(err, ErrPayoutNotPending):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrPayoutNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		response.NotFound(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}
