package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hweilin/moneybook/internal/account"
	"github.com/hweilin/moneybook/internal/auth"
	"github.com/hweilin/moneybook/internal/emailauth"
	"github.com/hweilin/moneybook/internal/importer"
	"github.com/hweilin/moneybook/internal/importer/parser"
	"github.com/hweilin/moneybook/internal/importer/suggest"
	"github.com/hweilin/moneybook/internal/infra/gateway/gmail"
	"github.com/hweilin/moneybook/internal/infra/postgres"
	infraRedis "github.com/hweilin/moneybook/internal/infra/redis"
	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/internal/llm"
	"github.com/hweilin/moneybook/internal/mailscan"
	"github.com/hweilin/moneybook/internal/recurring"
	"github.com/hweilin/moneybook/internal/report"
	"github.com/hweilin/moneybook/internal/scheduler"
	"github.com/hweilin/moneybook/internal/transaction"
	"github.com/hweilin/moneybook/internal/transport/httpapi"
	"github.com/hweilin/moneybook/internal/transport/httpapi/handler"
	"github.com/hweilin/moneybook/internal/transport/httpapi/middleware"
	"github.com/hweilin/moneybook/internal/user"
	"github.com/hweilin/moneybook/pkg/config"
	"github.com/hweilin/moneybook/pkg/crypto"
	"github.com/hweilin/moneybook/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault(cfg.Env)
	log.Info("Starting MoneyBook API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Database pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Redis holds import scratch data between preview and execute
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Redis connection established")

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	reportRepo := postgres.NewReportRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)
	bindingRepo := postgres.NewBindingRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	importRepo := postgres.NewImportRepository(db)
	recurringRepo := postgres.NewRecurringRepository(db)
	emailAuthRepo := postgres.NewEmailAuthRepository(db)

	txManager := postgres.NewTxManager(db)

	// Core services
	userSvc := user.NewService(userRepo, log)
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret, 24*time.Hour)
	ledgerSvc := ledger.NewService(ledgerRepo, txManager, auditRepo)
	accountSvc := account.NewService(accountRepo, txManager, auditRepo)
	transactionSvc := transaction.NewService(transactionRepo, txManager, auditRepo)
	reportSvc := report.NewService(reportRepo)
	recurringSvc := recurring.NewService(recurringRepo, txManager, auditRepo)

	tokenSvc := auth.NewTokenService(tokenRepo, cfg.MaxTokensPerUser)
	codeStore := auth.NewCodeStore(cfg.OTPCodeTTL)
	bindingSvc := auth.NewBindingService(bindingRepo, codeStore)

	// Import pipeline
	registry := parser.DefaultRegistry()
	suggester := suggest.NewSuggester()
	scratch := infraRedis.NewScratchStore(redisClient, log)

	var enhancer importer.Enhancer
	if cfg.LLMAPIKey != "" {
		provider := llm.NewOpenAIProvider(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
		enhancer = llm.NewCategoryEnhancer(provider)
		log.Info("LLM category enhancement enabled", "provider", provider.ProviderName())
	} else {
		log.Info("LLM_API_KEY not configured, category enhancement disabled")
	}

	importSvc := importer.NewService(importRepo, txManager, auditRepo, scratch,
		registry, suggester, enhancer, log, importer.Config{
			MaxFileSize: int(cfg.ImportMaxFileSize),
			MaxRows:     cfg.ImportMaxRows,
			ScratchTTL:  cfg.ImportScratchTTL,
		})

	// Email authorization needs the envelope key for refresh tokens
	// held at rest; mail scanning additionally needs OAuth credentials.
	var emailAuthSvc *emailauth.Service
	var runner scheduler.ScanRunner
	if cfg.EncryptionKey != "" {
		envelope, err := crypto.NewEnvelope(cfg.EncryptionKey)
		if err != nil {
			log.Error("Invalid ENCRYPTION_KEY", "error", err)
			os.Exit(1)
		}
		emailAuthSvc = emailauth.NewService(emailAuthRepo, envelope)

		if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
			fetcher := gmail.NewClient(cfg.GoogleClientID, cfg.GoogleClientSecret)
			runner = mailscan.NewScanner(emailAuthSvc, emailAuthRepo, importSvc, registry, fetcher, log)
		} else {
			log.Warn("Google OAuth credentials not configured, mail scanning disabled")
		}
	} else {
		log.Warn("ENCRYPTION_KEY not configured, email authorization disabled")
	}

	// The scheduler always runs: the daily tick surfaces due recurring
	// occurrences even when mail scanning is off.
	notifier := recurring.NewNotifier(recurringRepo, log)
	sched := scheduler.New(emailAuthRepo, runner, notifier, log)
	if err := sched.Start(ctx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started")

	// HTTP handlers
	authHandler := handler.NewAuthHandler(userSvc, jwtSvc)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)
	transactionHandler := handler.NewTransactionHandler(transactionSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	recurringHandler := handler.NewRecurringHandler(recurringSvc)
	importHandler := handler.NewImportHandler(importSvc)
	tokenHandler := handler.NewTokenHandler(tokenSvc, bindingSvc)
	auditHandler := handler.NewAuditHandler(ledgerSvc, auditRepo)
	healthHandler := handler.NewHealthHandler(db)

	var emailAuthHandler *handler.EmailAuthHandler
	if emailAuthSvc != nil {
		emailAuthHandler = handler.NewEmailAuthHandler(emailAuthSvc, sched)
	}

	allowedOrigins := []string{"http://localhost:5173", "http://localhost:5174"}
	if cfg.IsProduction() {
		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = []string{origins}
		}
	}

	r := httpapi.NewRouter(httpapi.Config{
		Logger:             log,
		AllowedOrigins:     allowedOrigins,
		AuthHandler:        authHandler,
		LedgerHandler:      ledgerHandler,
		AccountHandler:     accountHandler,
		TransactionHandler: transactionHandler,
		ReportHandler:      reportHandler,
		RecurringHandler:   recurringHandler,
		ImportHandler:      importHandler,
		TokenHandler:       tokenHandler,
		EmailAuthHandler:   emailAuthHandler,
		AuditHandler:       auditHandler,
		HealthHandler:      healthHandler,
		AuthMiddleware:     middleware.Auth(jwtSvc, tokenSvc),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	sched.Stop()
	log.Info("Scheduler stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped gracefully")
}
