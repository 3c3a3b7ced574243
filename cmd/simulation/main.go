package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/whalesalpha/custody-api/internal/calls"
	"github.com/whalesalpha/custody-api/internal/config"
	"github.com/whalesalpha/custody-api/internal/database"
	"github.com/whalesalpha/custody-api/internal/executor"
	"github.com/whalesalpha/custody-api/internal/gateway"
	"github.com/whalesalpha/custody-api/internal/ledger"
	"github.com/whalesalpha/custody-api/internal/monitor"
	"github.com/whalesalpha/custody-api/internal/notify"
	"github.com/whalesalpha/custody-api/internal/session"
	"github.com/whalesalpha/custody-api/internal/settlement"
	"github.com/whalesalpha/custody-api/internal/types"
)

const (
	numAccounts = 25
	numCalls    = 4
	maxCycles   = 40
)

var riskTiers = []string{types.RiskTierLow, types.RiskTierMedium, types.RiskTierHigh}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulatedVenue is an in-process stand-in for the swap venue. Each
// asset carries a price multiplier that drifts upward every monitor
// cycle, so positions eventually cross the profit target.
type simulatedVenue struct {
	multipliers map[string]float64
	failRate    float64
	txCounter   atomic.Int64
}

func newSimulatedVenue(assets []string) *simulatedVenue {
	m := make(map[string]float64, len(assets))
	for _, asset := range assets {
		m[asset] = 1.0
	}
	return &simulatedVenue{multipliers: m, failRate: 0.05}
}

// drift moves every asset's price. Mostly up, sometimes down.
func (v *simulatedVenue) drift() {
	for asset := range v.multipliers {
		v.multipliers[asset] *= 1.0 + (rand.Float64()*0.25 - 0.05)
	}
}

func (v *simulatedVenue) Quote(_ context.Context, inputMint, outputMint string, amount uint64) (*gateway.Route, error) {
	mult, buying := v.multipliers[outputMint], true
	if _, ok := v.multipliers[inputMint]; ok {
		// Selling the asset back to base currency.
		mult, buying = v.multipliers[inputMint], false
	}
	if mult == 0 {
		return nil, gateway.ErrNoRoute
	}

	var out uint64
	if buying {
		// Token quantity bought for lamports at the current multiplier.
		out = uint64(float64(amount) / mult * 1000)
	} else {
		out = uint64(float64(amount) * mult / 1000)
	}
	raw, _ := json.Marshal(map[string]string{"inputMint": inputMint, "outputMint": outputMint})
	return &gateway.Route{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   amount,
		OutAmount:  out,
		RawQuote:   raw,
	}, nil
}

func (v *simulatedVenue) Execute(_ context.Context, route *gateway.Route) (*gateway.SwapResult, error) {
	if rand.Float64() < v.failRate {
		return nil, fmt.Errorf("venue rejected swap")
	}
	return &gateway.SwapResult{
		TxRef:        fmt.Sprintf("SIM_TX_%d", v.txCounter.Add(1)),
		OutputAmount: route.OutAmount,
	}, nil
}

func (v *simulatedVenue) Transfer(_ context.Context, destAddress string, lamports uint64) (string, error) {
	if rand.Float64() < v.failRate {
		return "", fmt.Errorf("transfer rejected")
	}
	return fmt.Sprintf("SIM_PAYOUT_%d", v.txCounter.Add(1)), nil
}

// main runs the full custody flow in process: deposits, call fan-out,
// fills, profit-target closes and withdrawals, then prints a summary.
func main() {
	db, err := database.NewDatabase("file::memory:?cache=shared")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	cfg := config.Default()
	ctx := context.Background()

	assets := make([]string, numCalls)
	for i := range assets {
		assets[i] = solana.NewWallet().PublicKey().String()
	}
	venue := newSimulatedVenue(assets)

	notifier := notify.NopNotifier{}
	sessions := session.NewService(db)
	ledgerService := ledger.NewService(db)
	callsService := calls.NewService(db, ledgerService, notifier, cfg.Trading)
	settlementService := settlement.NewService(db, ledgerService, venue, notifier, sessions, cfg.Settlement)
	if err := settlementService.SeedFeeTiers(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed fee tiers")
	}

	swapTimeout := 5 * time.Second
	monitorService := monitor.NewService(db, ledgerService, venue, notifier,
		cfg.Gateway.BaseMint, cfg.Trading.TargetMultiple, time.Second, swapTimeout)
	callsService.SetCloser(monitorService)
	worker := executor.NewWorker(db, ledgerService, venue, notifier,
		cfg.Gateway.BaseMint, cfg.Trading.BatchSize, time.Second, swapTimeout)

	start := time.Now()

	// Fund accounts with deposits between 0.1 and 5 SOL.
	accountIDs := make([]string, numAccounts)
	var totalDeposited int64
	for i := range accountIDs {
		accountID := fmt.Sprintf("SIM_CLIENT_%d", i)
		accountIDs[i] = accountID
		if _, err := ledgerService.UpsertAccount(accountID, fmt.Sprintf("simuser%d", i)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register account")
		}
		deposit := int64(rand.Float64()*4.9*float64(types.LamportsPerSOL)) + types.LamportsPerSOL/10
		if err := ledgerService.Credit(accountID, deposit); err != nil {
			log.Fatal().Err(err).Msg("Failed to credit deposit")
		}
		totalDeposited += deposit
		_ = ledgerService.SetRiskTier(accountID, riskTiers[rand.Intn(len(riskTiers))])
		_ = ledgerService.SetAutomation(accountID, true)
		_ = ledgerService.SetPayoutAddress(accountID, solana.NewWallet().PublicKey().String())
	}
	log.Info().
		Int("accounts", numAccounts).
		Int64("total_deposited", totalDeposited).
		Msg("Accounts funded")

	// Operator issues calls and fans them out.
	for i, asset := range assets {
		call, err := callsService.CreateCall("SIM_OPERATOR", asset,
			fmt.Sprintf("SIMCOIN%d", i), "simulated opportunity", fmt.Sprintf("sim-key-%d", i))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create call")
		}
		result, err := callsService.Broadcast(call.CallID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to broadcast call")
		}
		log.Info().
			Str("call_id", call.CallID).
			Int("queued", result.QueuedAccounts).
			Int64("total_stake", result.TotalStake).
			Msg("Call broadcast")
	}

	// Fill the queue, then let prices drift until positions close.
	if err := worker.RunOnce(ctx); err != nil {
		log.Fatal().Err(err).Msg("Execution cycle failed")
	}
	for cycle := 0; cycle < maxCycles; cycle++ {
		venue.drift()
		if err := monitorService.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Monitor cycle failed")
		}
		var open int64
		db.Model(&types.Execution{}).Where("status = ?", types.ExecutionStatusOpen).Count(&open)
		if open == 0 {
			log.Info().Int("cycles", cycle+1).Msg("All positions closed")
			break
		}
	}

	// Everyone withdraws half of whatever is available, random tier.
	tiers, _ := settlementService.ListTiers()
	payoutsSent, payoutsFailed := 0, 0
	var feesCollected int64
	for _, accountID := range accountIDs {
		available, err := ledgerService.AvailableBalance(accountID)
		if err != nil || available/2 <= 0 {
			continue
		}
		tier := tiers[rand.Intn(len(tiers))]
		receipt, err := settlementService.RequestWithdrawal(ctx, accountID, available/2, tier.LockupDays)
		if err != nil {
			payoutsFailed++
			continue
		}
		payoutsSent++
		feesCollected += receipt.Fee
	}

	printSummary(db, totalDeposited, payoutsSent, payoutsFailed, feesCollected, time.Since(start))
}

// printSummary renders the end-of-run report from stored state.
func printSummary(db *gorm.DB, totalDeposited int64, payoutsSent, payoutsFailed int, feesCollected int64, duration time.Duration) {
	var filled, errored, closed, stillOpen int64
	db.Model(&types.Execution{}).Where("status IN ?",
		[]string{types.ExecutionStatusOpen, types.ExecutionStatusClosed}).Count(&filled)
	db.Model(&types.Execution{}).Where("status = ?", types.ExecutionStatusError).Count(&errored)
	db.Model(&types.Execution{}).Where("status = ?", types.ExecutionStatusClosed).Count(&closed)
	db.Model(&types.Execution{}).Where("status = ?", types.ExecutionStatusOpen).Count(&stillOpen)

	type pnlRow struct {
		TotalPnL int64
		Winners  int64
	}
	var pnl pnlRow
	db.Model(&types.Execution{}).
		Select("COALESCE(SUM(pnl), 0) AS total_pn_l, COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0) AS winners").
		Where("status = ?", types.ExecutionStatusClosed).
		Scan(&pnl)

	var balanceLeft int64
	db.Model(&types.Account{}).Select("COALESCE(SUM(balance), 0)").Scan(&balanceLeft)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CUSTODY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Trading
-------
Accounts:         %d
Deposited:        %.4f SOL
Executions filled:%d
Execution errors: %d
Positions closed: %d
Still open:       %d
Winners:          %d
Realized PnL:     %.4f SOL

Settlement
----------
Payouts sent:     %d
Payouts failed:   %d
Fees collected:   %.4f SOL
Balances held:    %.4f SOL
Duration:         %v

`, numAccounts, sol(totalDeposited), filled, errored, closed, stillOpen,
		pnl.Winners, sol(pnl.TotalPnL),
		payoutsSent, payoutsFailed, sol(feesCollected), sol(balanceLeft),
		duration.Round(time.Millisecond))

	// Risk tier distribution with a simple ASCII bar chart
	fmt.Println("Risk Tier Distribution")
	fmt.Println("----------------------")
	for _, tier := range riskTiers {
		var count int64
		db.Model(&types.Account{}).Where("risk_tier = ?", tier).Count(&count)
		bar := strings.Repeat("#", int(count))
		fmt.Printf("%-7s: %s (%d)\n", tier, bar, count)
	}
	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int64("closed", closed).
		Int64("realized_pnl", pnl.TotalPnL).
		Int("payouts_sent", payoutsSent).
		Dur("duration", duration).
		Msg("Simulation completed")
}

func sol(lamports int64) float64 {
	return float64(lamports) / float64(types.LamportsPerSOL)
}
