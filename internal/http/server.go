package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fintrack/internal/auth"
	"fintrack/internal/core"
	"fintrack/internal/currency"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
)

// ServerDeps are the collaborators the API needs.
type ServerDeps struct {
	Sessions  *services.SessionManager
	Auth      *auth.Manager
	Rates     *currency.Provider
	Logger    *applog.Logger
	RateLimit ratelimit.Config
	Location  *time.Location
	Now       func() time.Time
}

type Server struct {
	http.Server

	sessions   *services.SessionManager
	auth       *auth.Manager
	rates      *currency.Provider
	formatter  *currency.Formatter
	logger     *applog.Logger
	structured *applog.StructuredLogger
	limiter    *ratelimit.Limiter
	clientIPs  *security.ClientIPResolver
	tracer     *trace.Middleware
	loc        *time.Location
	now        func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)
	rates := deps.Rates
	if rates == nil {
		rates = currency.NewProvider(nil, currency.DefaultTable(), 0, logger.Slog())
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rl := deps.RateLimit
	if rl.RequestsPerMinute == 0 {
		rl = ratelimit.DefaultConfig()
	}

	s := &Server{
		sessions:   deps.Sessions,
		auth:       deps.Auth,
		rates:      rates,
		formatter:  currency.NewFormatter(rates.Table()),
		logger:     logger,
		structured: applog.NewStructuredLogger(logger),
		limiter:    ratelimit.NewLimiter(rl),
		clientIPs:  security.NewClientIPResolver(),
		loc:        loc,
		now:        now,
	}
	s.tracer = trace.NewMiddleware(logger, s.clientIPs.ClientIP)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.tracer.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError("method not allowed").Write(w)
	})

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware(s.authFailed))
		r.Use(s.limiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, r *http.Request) {
			TooManyRequestsError("rate limit exceeded, please try again later").Write(w)
		}))
		r.Use(s.withSession)

		r.Get("/summary", s.handleSummary)
		r.Get("/report", s.handleReport)
		r.Get("/rates", s.handleRates)

		r.Get("/transactions", s.handleListTransactions)
		r.Post("/transactions", s.handleCreateTransaction)
		r.Delete("/transactions/{id}", s.handleDeleteTransaction)

		r.Get("/recurring", s.handleListRecurring)
		r.Post("/recurring", s.handleCreateRecurring)
		r.Post("/recurring/run", s.handleRunRecurring)
		r.Delete("/recurring/{id}", s.handleDeleteRecurring)

		r.Get("/categories", s.handleListCategories)
		r.Post("/categories", s.handleCreateCategory)
		r.Delete("/categories/{type}/{name}", s.handleDeleteCategory)

		r.Get("/goal", s.handleGetGoal)
		r.Put("/goal", s.handlePutGoal)

		r.Post("/reset", s.handleReset)
	})
	return r
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Authentication failed",
		applog.FieldComponent, applog.ComponentSecurity,
		applog.FieldError, err)
	UnauthorizedError(err.Error()).Write(w)
}

// rateLimitKey throttles per account; the client address is the fallback.
func (s *Server) rateLimitKey(r *http.Request) string {
	if account, ok := auth.AccountFromContext(r.Context()); ok {
		return "account:" + account
	}
	return "ip:" + s.clientIPs.ClientIP(r)
}

type trackerKey struct{}

// withSession resolves the authenticated account's tracker session.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := auth.AccountFromContext(r.Context())
		if !ok {
			UnauthorizedError(auth.ErrMissingToken.Error()).Write(w)
			return
		}
		tracker, err := s.sessions.Get(r.Context(), account)
		if err != nil {
			logger := applog.FromContext(r.Context())
			logger.ErrorContext(r.Context(), "Failed to open session",
				applog.FieldAccount, account,
				applog.FieldError, err)
			if errors.Is(err, services.ErrSessionsClosed) {
				ServiceUnavailableError("server is shutting down").Write(w)
				return
			}
			BadGatewayError("failed to load account data").Write(w)
			return
		}
		logger := applog.FromContext(r.Context()).With(applog.FieldAccount, account)
		ctx := context.WithValue(r.Context(), applog.LoggerContextKey, logger)
		ctx = context.WithValue(ctx, trackerKey{}, tracker)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func trackerFrom(r *http.Request) *services.TrackerService {
	return r.Context().Value(trackerKey{}).(*services.TrackerService)
}

// writeServiceError maps a service error onto a status code.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		BadRequestError(ve.Error()).Write(w)
	case errors.Is(err, core.ErrRemoteWrite), errors.Is(err, core.ErrRemoteSubscription):
		s.structured.LogError(ctx, "Store write failed", err, applog.ComponentTracker, op, nil)
		TracedErrorResponse(http.StatusBadGateway, "failed to save changes, please retry", trace.GetRequestID(ctx)).Write(w)
	case errors.Is(err, services.ErrSessionsClosed):
		ServiceUnavailableError("server is shutting down").Write(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		applog.FromContext(ctx).WarnContext(ctx, "Request cancelled",
			applog.FieldOperation, op,
			applog.FieldError, err)
		ServiceUnavailableError("request cancelled").Write(w)
	default:
		s.structured.LogError(ctx, "Unexpected error", err, applog.ComponentHTTP, op, nil)
		TracedErrorResponse(http.StatusInternalServerError, "internal error", trace.GetRequestID(ctx)).Write(w)
	}
}
