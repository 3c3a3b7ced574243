package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	solana "github.com/gagliardetto/solana-go"
	"github.com/whalesalpha/custody-api/internal/auth"
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
	"github.com/whalesalpha/custody-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the custody API server with graceful
// shutdown support. It sets up all services, the three background
// workers, and the API routes.
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// The custody wallet signs every swap and payout transfer.
	if cfg.Gateway.SignerSecret == "" {
		zlog.Fatal().Msg("GATEWAY_SIGNER_SECRET is required")
	}
	owner, err := solana.PrivateKeyFromBase58(cfg.Gateway.SignerSecret)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to parse custody wallet key")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Server.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterOperatorCredentials("operator-api-key", "operator-api-secret")

	notifier := notify.NewStoreNotifier(db)
	sessions := session.NewService(db)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	swapGateway := gateway.NewJupiterClient(
		cfg.Gateway.RPCURL, cfg.Gateway.JupiterBase, owner,
		cfg.Gateway.Commitment, cfg.Gateway.SlippageBps, cfg.Gateway.TimeoutMs)
	transferClient := gateway.NewSolTransferClient(cfg.Gateway.RPCURL, owner, cfg.Gateway.Commitment)

	callsService := calls.NewService(db, ledgerService, notifier, cfg.Trading)
	callsHandlers := calls.NewGinHandlers(callsService)

	settlementService := settlement.NewService(db, ledgerService, transferClient, notifier, sessions, cfg.Settlement)
	settlementHandlers := settlement.NewGinHandlers(settlementService)
	if err := settlementService.SeedFeeTiers(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed fee tiers")
	}

	swapTimeout := time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond

	monitorService := monitor.NewService(db, ledgerService, swapGateway, notifier,
		cfg.Gateway.BaseMint, cfg.Trading.TargetMultiple,
		time.Duration(cfg.Trading.MonitorIntervalMs)*time.Millisecond, swapTimeout)
	callsService.SetCloser(monitorService)

	executionWorker := executor.NewWorker(db, ledgerService, swapGateway, notifier,
		cfg.Gateway.BaseMint, cfg.Trading.BatchSize,
		time.Duration(cfg.Trading.ExecutorIntervalMs)*time.Millisecond, swapTimeout)

	settlementProcessor := settlement.NewProcessor(settlementService.GetDB(),
		time.Duration(cfg.Settlement.ReminderIntervalMs)*time.Millisecond)

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go executionWorker.Start(workerCtx)
	go monitorService.Start(workerCtx)
	go settlementProcessor.Start(workerCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Server.JWTSecret, authHandlers, ledgerHandlers, callsHandlers, settlementHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop workers before the listener so no new swaps start mid-shutdown
	workerCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Account and withdrawal routes: Protected by JWT authentication
// - Admin routes: Protected by JWT plus the operator permission
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	callsHandlers *calls.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account routes
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth(jwtSecret))
		{
			accounts.POST("", ledgerHandlers.RegisterAccountHandler())
			accounts.GET("/me", ledgerHandlers.GetBalanceHandler())
			accounts.PUT("/me/automation", ledgerHandlers.SetAutomationHandler())
			accounts.PUT("/me/risk-tier", ledgerHandlers.SetRiskTierHandler())
			accounts.PUT("/me/payout-address", ledgerHandlers.SetPayoutAddressHandler())
			accounts.GET("/me/payouts", settlementHandlers.ListPayoutsHandler())
		}

		// Execution routes
		executions := v1.Group("/executions")
		executions.Use(middleware.JWTAuth(jwtSecret))
		{
			executions.GET("", callsHandlers.ListExecutionsHandler())
		}

		// Withdrawal routes
		withdrawals := v1.Group("/withdrawals")
		withdrawals.Use(middleware.JWTAuth(jwtSecret))
		{
			withdrawals.GET("/tiers", settlementHandlers.ListTiersHandler())
			withdrawals.GET("/:payout_id", settlementHandlers.GetPayoutHandler())
			withdrawals.POST("", settlementHandlers.RequestWithdrawalHandler())
			withdrawals.POST("/amount", settlementHandlers.StartWithdrawalHandler())
			withdrawals.POST("/confirm", settlementHandlers.ConfirmWithdrawalHandler())
		}

		// Admin routes (operator tokens only)
		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(jwtSecret), middleware.OperatorAuth())
		{
			admin.POST("/calls", callsHandlers.CreateCallHandler())
			admin.GET("/calls", callsHandlers.ListOpenCallsHandler())
			admin.GET("/calls/:call_id", callsHandlers.GetCallHandler())
			admin.POST("/calls/:call_id/broadcast", callsHandlers.BroadcastCallHandler())
			admin.POST("/calls/:call_id/close", callsHandlers.CloseCallHandler())
			admin.POST("/payouts/:payout_id/approve", settlementHandlers.ApprovePayoutHandler())
			admin.POST("/payouts/:payout_id/reject", settlementHandlers.RejectPayoutHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/deposits", ledgerHandlers.CreditDepositHandler())
		}
	}
}
