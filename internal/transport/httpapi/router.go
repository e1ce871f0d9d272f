package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hweilin/moneybook/internal/transport/httpapi/handler"
	"github.com/hweilin/moneybook/internal/transport/httpapi/middleware"
	"github.com/hweilin/moneybook/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger         *logger.Logger
	AllowedOrigins []string

	AuthHandler        *handler.AuthHandler
	LedgerHandler      *handler.LedgerHandler
	AccountHandler     *handler.AccountHandler
	TransactionHandler *handler.TransactionHandler
	ReportHandler      *handler.ReportHandler
	RecurringHandler   *handler.RecurringHandler
	ImportHandler      *handler.ImportHandler
	TokenHandler       *handler.TokenHandler
	EmailAuthHandler   *handler.EmailAuthHandler
	AuditHandler       *handler.AuditHandler
	HealthHandler      *handler.HealthHandler

	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit())

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		if cfg.AuthHandler != nil {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
		}
		// Binding verification is submitted by the chat side, which
		// has no platform credential yet.
		if cfg.TokenHandler != nil {
			r.Post("/bindings/verify", cfg.TokenHandler.VerifyCode)
		}

		// Protected routes accept a JWT or an API token
		if cfg.AuthMiddleware != nil {
			r.Group(func(r chi.Router) {
				r.Use(cfg.AuthMiddleware)

				if cfg.LedgerHandler != nil {
					r.Post("/ledgers", cfg.LedgerHandler.CreateLedger)
					r.Get("/ledgers", cfg.LedgerHandler.ListLedgers)
					r.Get("/ledgers/{id}", cfg.LedgerHandler.GetLedger)
					r.Put("/ledgers/{id}", cfg.LedgerHandler.UpdateLedger)
					r.Delete("/ledgers/{id}", cfg.LedgerHandler.DeleteLedger)
					r.Post("/ledgers/{id}/clear-transactions", cfg.LedgerHandler.ClearTransactions)
					r.Post("/ledgers/{id}/clear-accounts", cfg.LedgerHandler.ClearAccounts)
				}

				if cfg.AccountHandler != nil {
					r.Post("/accounts", cfg.AccountHandler.CreateAccount)
					r.Put("/accounts/{id}", cfg.AccountHandler.UpdateAccount)
					r.Post("/accounts/{id}/archive", cfg.AccountHandler.ArchiveAccount)
					r.Get("/accounts/{id}/delete-preview", cfg.AccountHandler.PreviewDelete)
					r.Delete("/accounts/{id}", cfg.AccountHandler.DeleteAccount)
					r.Get("/ledgers/{id}/accounts", cfg.AccountHandler.ListAccounts)
					r.Get("/ledgers/{id}/balances", cfg.AccountHandler.LedgerBalances)
				}

				if cfg.TransactionHandler != nil {
					r.Post("/transactions", cfg.TransactionHandler.CreateTransaction)
					r.Get("/transactions/{id}", cfg.TransactionHandler.GetTransaction)
					r.Put("/transactions/{id}", cfg.TransactionHandler.UpdateTransaction)
					r.Delete("/transactions/{id}", cfg.TransactionHandler.DeleteTransaction)
					r.Get("/ledgers/{id}/transactions", cfg.TransactionHandler.ListTransactions)
				}

				if cfg.ReportHandler != nil {
					r.Get("/ledgers/{id}/reports/balance-sheet", cfg.ReportHandler.BalanceSheet)
					r.Get("/ledgers/{id}/reports/income-statement", cfg.ReportHandler.IncomeStatement)
				}

				if cfg.RecurringHandler != nil {
					r.Post("/recurring/templates", cfg.RecurringHandler.CreateTemplate)
					r.Post("/recurring/templates/{id}/approve", cfg.RecurringHandler.ApproveTemplate)
					r.Post("/recurring/templates/{id}/skip", cfg.RecurringHandler.SkipTemplate)
					r.Delete("/recurring/templates/{id}", cfg.RecurringHandler.DeleteTemplate)
					r.Post("/recurring/plans", cfg.RecurringHandler.CreatePlan)
					r.Get("/ledgers/{id}/recurring/templates", cfg.RecurringHandler.ListTemplates)
					r.Get("/ledgers/{id}/recurring/due", cfg.RecurringHandler.ListDue)
					r.Get("/ledgers/{id}/recurring/plans", cfg.RecurringHandler.ListPlans)
				}

				if cfg.ImportHandler != nil {
					r.Post("/imports/preview", cfg.ImportHandler.Preview)
					r.Post("/imports/{id}/execute", cfg.ImportHandler.Execute)
					r.Get("/imports/{id}", cfg.ImportHandler.GetSession)
					r.Get("/ledgers/{id}/imports", cfg.ImportHandler.ListSessions)
				}

				if cfg.TokenHandler != nil {
					r.Post("/tokens", cfg.TokenHandler.CreateToken)
					r.Get("/tokens", cfg.TokenHandler.ListTokens)
					r.Delete("/tokens/{id}", cfg.TokenHandler.RevokeToken)
					r.Post("/bindings/code", cfg.TokenHandler.GenerateCode)
					r.Get("/bindings", cfg.TokenHandler.ListBindings)
					r.Delete("/bindings/{id}", cfg.TokenHandler.Unbind)
				}

				if cfg.EmailAuthHandler != nil {
					r.Post("/email/authorizations", cfg.EmailAuthHandler.Connect)
					r.Get("/email/authorizations", cfg.EmailAuthHandler.ListAuthorizations)
					r.Delete("/email/authorizations/{id}", cfg.EmailAuthHandler.Disconnect)
					r.Post("/email/scan-configs", cfg.EmailAuthHandler.CreateScanConfig)
					r.Get("/email/scan-configs", cfg.EmailAuthHandler.ListScanConfigs)
					r.Delete("/email/scan-configs/{id}", cfg.EmailAuthHandler.DeactivateScanConfig)
					r.Get("/email/scan-configs/{id}/runs", cfg.EmailAuthHandler.ListScanRuns)
				}

				if cfg.AuditHandler != nil {
					r.Get("/ledgers/{id}/audit", cfg.AuditHandler.ListByLedger)
				}
			})
		}
	})

	return r
}
