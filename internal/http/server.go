package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cadence/internal/auth"
	"cadence/internal/core"
	applog "cadence/internal/log"
	"cadence/internal/middleware/ratelimit"
	"cadence/internal/middleware/security"
	"cadence/internal/middleware/trace"
)

// RecurringAPI is the service surface the JSON API exposes.
type RecurringAPI interface {
	CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error)
	GetRule(ctx context.Context, ruleID string) (core.RecurrenceRule, error)
	DeactivateRule(ctx context.Context, ruleID string) error
	GetRuleForTransaction(ctx context.Context, transactionID string) (*core.RecurrenceRule, error)
	MaterializeForRange(ctx context.Context, start, end core.Date) (int, error)
	ListTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error)
	UpdateRecurringTransaction(ctx context.Context, transactionID string, edit core.Edit) error
	SkipOccurrence(ctx context.Context, transactionID string) error
}

type Options struct {
	// UserHeader names the trusted upstream header carrying the user id.
	UserHeader        string
	RequestsPerMinute int
	Logger            *applog.Logger
}

type Server struct {
	http.Server
	svc          RecurringAPI
	logger       *applog.Logger
	limiter      *ratelimit.Limiter
	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, svc RecurringAPI, opts Options) *Server {
	if opts.UserHeader == "" {
		opts.UserHeader = "X-User-ID"
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	limiterCfg := ratelimit.DefaultConfig()
	if opts.RequestsPerMinute > 0 {
		limiterCfg.RequestsPerMinute = opts.RequestsPerMinute
	}

	s := &Server{
		svc:     svc,
		logger:  logger,
		limiter: ratelimit.NewLimiter(limiterCfg),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /rules", s.handleCreateRule)
	mux.HandleFunc("GET /rules/{id}", s.handleGetRule)
	mux.HandleFunc("POST /rules/{id}/deactivate", s.handleDeactivateRule)
	mux.HandleFunc("POST /materialize", s.handleMaterialize)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("GET /transactions/{id}/rule", s.handleRuleForTransaction)
	mux.HandleFunc("PATCH /transactions/{id}/recurring", s.handleUpdateRecurring)
	mux.HandleFunc("POST /transactions/{id}/skip", s.handleSkip)

	clientIP := security.NewClientIP()
	var h http.Handler = mux
	h = auth.HeaderMiddleware(opts.UserHeader)(h)
	h = s.limiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
	})(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.NewMiddleware(logger, clientIP.Extract).Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.limiter.Stop)
	return s.Server.Shutdown(ctx)
}
