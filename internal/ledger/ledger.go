package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/whalesalpha/custody-api/internal/types"
	"github.com/whalesalpha/custody-api/pkg/response"
	"gorm.io/gorm"
)

// Service owns every balance mutation in the system. No other component
// reads or writes the raw balance column.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// UpsertAccount registers an account on first interaction and refreshes
// the username on subsequent ones. Balance and settings are untouched
// for existing accounts.
func (s *Service) UpsertAccount(accountID, username string) (*types.Account, error) {
	account, err := s.db.GetAccount(accountID)
	if err == nil {
		if username != "" && username != account.Username {
			account.Username = username
			account.UpdatedAt = time.Now()
			if err := s.db.UpdateAccount(account); err != nil {
				return nil, err
			}
		}
		return account, nil
	}
	if err != ErrAccountNotFound {
		return nil, err
	}

	account = &types.Account{
		AccountID: accountID,
		Username:  username,
		RiskTier:  types.RiskTierMedium,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) GetAccount(accountID string) (*types.Account, error) {
	return s.db.GetAccount(accountID)
}

// ListAutomatedAccounts enumerates accounts eligible for call fan-out.
func (s *Service) ListAutomatedAccounts() ([]types.Account, error) {
	return s.db.ListAutomatedAccounts()
}

// Credit increases the balance unconditionally. Callers are responsible
// for not crediting the same real-world event twice.
func (s *Service) Credit(accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := s.db.Credit(accountID, amount); err != nil {
		return err
	}
	log.Debug().
		Str("account_id", accountID).
		Int64("amount", amount).
		Str("service", "ledger").
		Msg("credited account")
	return nil
}

// Debit decreases the balance, failing when the amount exceeds it.
func (s *Service) Debit(accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.db.Debit(accountID, amount)
}

// DebitAvailable decreases the balance, failing when the amount exceeds
// the available balance (balance minus reserved stakes). This is the
// only debit the settlement engine and the execution worker use, so
// funds encumbered by in-flight trades can never be spent twice.
func (s *Service) DebitAvailable(accountID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.db.DebitAvailable(accountID, amount)
}

// ReservedBalance returns the total advisory hold of queued executions.
func (s *Service) ReservedBalance(accountID string) (int64, error) {
	return s.db.Reserved(accountID)
}

// AvailableBalance is the only number stake sizing and withdrawals may
// authorize against, never the raw balance.
func (s *Service) AvailableBalance(accountID string) (int64, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return 0, err
	}
	reserved, err := s.db.Reserved(accountID)
	if err != nil {
		return 0, err
	}
	available := account.Balance - reserved
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Balances bundles the three numbers the front-end shows together.
func (s *Service) Balances(accountID string) (*types.BalanceResponse, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.db.Reserved(accountID)
	if err != nil {
		return nil, err
	}
	available := account.Balance - reserved
	if available < 0 {
		available = 0
	}
	return &types.BalanceResponse{
		AccountID:     account.AccountID,
		Balance:       account.Balance,
		Reserved:      reserved,
		Available:     available,
		AutomationOn:  account.AutomationOn,
		RiskTier:      account.RiskTier,
		PayoutAddress: account.PayoutAddress,
	}, nil
}

func (s *Service) SetAutomation(accountID string, on bool) error {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return err
	}
	account.AutomationOn = on
	account.UpdatedAt = time.Now()
	return s.db.UpdateAccount(account)
}

func (s *Service) SetRiskTier(accountID, tier string) error {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return err
	}
	account.RiskTier = tier
	account.UpdatedAt = time.Now()
	return s.db.UpdateAccount(account)
}

func (s *Service) SetPayoutAddress(accountID, address string) error {
	account, err := s.db.GetAccount(accountID)
	if err != nil {
		return err
	}
	account.PayoutAddress = address
	account.UpdatedAt = time.Now()
	return s.db.UpdateAccount(account)
}

// handleAccountError maps ledger sentinels onto HTTP envelopes so
// callers get a specific reason instead of a generic failure.
func handleAccountError(c *gin.Context, data interface{}, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInsufficientFunds):
		response.BadRequest(c, err.Error())
	default:
		response.Handle(c, data, err)
	}
}

// GinHandlers contains HTTP handlers for account and deposit endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterAccountHandler handles POST requests registering the calling
// client's account on first interaction.
func (h *GinHandlers) RegisterAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		if accountID == "" {
			response.Unauthorized(c, "Missing client ID")
			return
		}

		var body struct {
			Username string `json:"username"`
		}
		_ = c.ShouldBindJSON(&body)

		account, err := h.service.UpsertAccount(accountID, body.Username)
		response.Handle(c, account, err)
	}
}

// GetBalanceHandler reports balance, reserved and available funds.
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetString("clientID")
		balances, err := h.service.Balances(accountID)
		handleAccountError(c, balances, err)
	}
}

// SetAutomationHandler toggles automatic call participation.
func (h *GinHandlers) SetAutomationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Enabled *bool `json:"enabled" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		err := h.service.SetAutomation(c.GetString("clientID"), *body.Enabled)
		handleAccountError(c, gin.H{"automation_on": *body.Enabled}, err)
	}
}

// SetRiskTierHandler selects the stake fraction tier.
func (h *GinHandlers) SetRiskTierHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Tier string `json:"tier" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		switch body.Tier {
		case types.RiskTierLow, types.RiskTierMedium, types.RiskTierHigh:
		default:
			response.BadRequest(c, "unknown risk tier")
			return
		}
		err := h.service.SetRiskTier(c.GetString("clientID"), body.Tier)
		handleAccountError(c, gin.H{"risk_tier": body.Tier}, err)
	}
}

// SetPayoutAddressHandler stores the withdrawal destination.
func (h *GinHandlers) SetPayoutAddressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Address string `json:"address" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !isProbablySolanaAddress(body.Address) {
			response.BadRequest(c, "not a valid payout address")
			return
		}
		err := h.service.SetPayoutAddress(c.GetString("clientID"), body.Address)
		handleAccountError(c, gin.H{"payout_address": body.Address}, err)
	}
}

// CreditDepositHandler handles POST requests from the deposit watcher
// once a verified inbound transfer has been observed. The watcher is
// responsible for calling this exactly once per on-chain event.
func (h *GinHandlers) CreditDepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			AccountID string `json:"account_id" binding:"required"`
			Amount    int64  `json:"amount" binding:"required"`
			TxRef     string `json:"tx_ref"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Credit(body.AccountID, body.Amount); err != nil {
			handleAccountError(c, nil, err)
			return
		}

		log.Info().
			Str("account_id", body.AccountID).
			Int64("amount", body.Amount).
			Str("tx_ref", body.TxRef).
			Msg("deposit credited")
		response.Success(c, gin.H{"account_id": body.AccountID, "amount": body.Amount})
	}
}

// isProbablySolanaAddress applies the base58 shape check used for payout
// destinations.
func isProbablySolanaAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	const allowed = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for _, ch := range addr {
		if !strings.ContainsRune(allowed, ch) {
			return false
		}
	}
	return true
}
