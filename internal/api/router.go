// Package api assembles the HTTP surface of the ledger service.
package api

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/attachments"
	"github.com/dvloznov/finance-ledger/internal/auth"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/recurring"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Ledger      *ledger.Service
	Recurring   *recurring.Service
	Attachments *attachments.Service
	Dispatcher  *jobs.Dispatcher
	Jobs        jobs.JobStore
	Verifier    *auth.Verifier
}

// NewRouter builds the routes. Everything under /api requires a bearer token.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r := mux.NewRouter()
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed

	r.HandleFunc("/health", handlers.NewHealthHandler().Health).Methods(http.MethodGet)

	// Subrouters do not inherit the fallback handlers.
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed
	api.Use(middleware.Auth(deps.Verifier))

	txns := handlers.NewTransactionsHandler(deps.Ledger)
	api.HandleFunc("/transactions", txns.CreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/transactions", txns.ListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{txnId}", txns.GetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{txnId}", txns.AmendTransaction).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{txnId}", txns.DeleteTransaction).Methods(http.MethodDelete)

	accounts := handlers.NewAccountsHandler(deps.Ledger)
	api.HandleFunc("/accounts", accounts.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts", accounts.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}", accounts.GetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}", accounts.UpdateAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{accountId}", accounts.DeleteAccount).Methods(http.MethodDelete)

	categories := handlers.NewCategoriesHandler(deps.Ledger)
	api.HandleFunc("/categories", categories.CreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories", categories.ListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/{categoryId}", categories.GetCategory).Methods(http.MethodGet)
	api.HandleFunc("/categories/{categoryId}", categories.UpdateCategory).Methods(http.MethodPut)
	api.HandleFunc("/categories/{categoryId}", categories.DeleteCategory).Methods(http.MethodDelete)

	budgets := handlers.NewBudgetsHandler(deps.Ledger)
	api.HandleFunc("/budgets", budgets.CreateBudget).Methods(http.MethodPost)
	api.HandleFunc("/budgets", budgets.ListBudgets).Methods(http.MethodGet)
	for _, path := range []string{"/budgets/{month}", "/budgets/{month}/{categoryId}"} {
		api.HandleFunc(path, budgets.GetBudget).Methods(http.MethodGet)
		api.HandleFunc(path, budgets.UpdateBudget).Methods(http.MethodPut)
		api.HandleFunc(path, budgets.DeleteBudget).Methods(http.MethodDelete)
	}

	rules := handlers.NewRecurringHandler(deps.Recurring)
	api.HandleFunc("/recurring", rules.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/recurring", rules.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/recurring/{ruleId}", rules.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/recurring/{ruleId}", rules.DeleteRule).Methods(http.MethodDelete)

	files := handlers.NewAttachmentsHandler(deps.Attachments)
	api.HandleFunc("/attachments/presign", files.Presign).Methods(http.MethodPost)
	api.HandleFunc("/attachments/download-url", files.PresignDownload).Methods(http.MethodPost)

	jobsHandler := handlers.NewJobsHandler(deps.Dispatcher, deps.Jobs)
	api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{type}", jobsHandler.TriggerJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobId}", jobsHandler.GetJob).Methods(http.MethodGet)

	// Outermost first: the request ID must exist before the logger reads it.
	return middleware.RequestID(
		middleware.Recovery(log)(
			middleware.Logger(log)(
				middleware.CORS(r),
			),
		),
	)
}
