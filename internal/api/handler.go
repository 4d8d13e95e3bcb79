package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/auth"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/models"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Ledger is the subset of the ledger engine the HTTP layer calls.
type Ledger interface {
	CreateAccount(ctx context.Context, in service.NewAccount) (domain.Account, error)
	Deposit(ctx context.Context, number string, amt decimal.Decimal) error
	Withdraw(ctx context.Context, number string, amt decimal.Decimal) error
	Transfer(ctx context.Context, src, dst string, amt decimal.Decimal) error
	Save(ctx context.Context, number string, amt decimal.Decimal) error
	WithdrawSavings(ctx context.Context, number string, amt decimal.Decimal) error
	ApplyInterest(ctx context.Context, number string) (decimal.Decimal, error)
	BuyAirtime(ctx context.Context, number string, amt decimal.Decimal, phone string) error
	DeleteAccount(ctx context.Context, number string) error
	Account(ctx context.Context, number string) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	History(ctx context.Context, number string, limit int) ([]domain.TransactionRecord, error)
}

// Gate is the subset of the auth gate the HTTP layer calls.
type Gate interface {
	AuthenticateStaff(ctx context.Context, id, password string, role domain.Role) (string, bool, error)
	AuthenticateClient(ctx context.Context, number, password string) (string, bool, error)
	SessionCurrent(ctx context.Context, p auth.Principal) (bool, error)
	ChangePassword(ctx context.Context, number, oldPassword, newPassword string) error
	AgentResetPassword(ctx context.Context, number, newPassword string) error
}

type Handler struct {
	ledger  Ledger
	gate    Gate
	tokens  *auth.TokenManager
	limiter auth.Limiter
	logger  *slog.Logger
	ttl     time.Duration
	started time.Time
}

func NewHandler(ledger Ledger, gate Gate, tokens *auth.TokenManager, limiter auth.Limiter, ttl time.Duration, logger *slog.Logger) *Handler {
	if limiter == nil {
		limiter = auth.NopLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ledger:  ledger,
		gate:    gate,
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
		ttl:     ttl,
		started: time.Now(),
	}
}

// Router wires every route and the request middleware.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/sessions/client", h.ClientLogin).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/staff", h.StaffLogin).Methods(http.MethodPost)

	client := h.requireKinds(auth.KindClient)
	v1.Handle("/me", client(h.Me)).Methods(http.MethodGet)
	v1.Handle("/me/balance", client(h.MyBalance)).Methods(http.MethodGet)
	v1.Handle("/me/history", client(h.MyHistory)).Methods(http.MethodGet)
	v1.Handle("/me/transfers", client(h.MyTransfer)).Methods(http.MethodPost)
	v1.Handle("/me/savings", client(h.MySave)).Methods(http.MethodPost)
	v1.Handle("/me/savings/withdrawals", client(h.MyWithdrawSavings)).Methods(http.MethodPost)
	v1.Handle("/me/interest", client(h.MyInterest)).Methods(http.MethodPost)
	v1.Handle("/me/airtime", client(h.MyAirtime)).Methods(http.MethodPost)
	v1.Handle("/me/password", client(h.MyPassword)).Methods(http.MethodPut)

	staff := h.requireKinds(auth.KindAgent, auth.KindAdmin)
	admin := h.requireKinds(auth.KindAdmin)
	v1.Handle("/accounts", staff(h.CreateAccount)).Methods(http.MethodPost)
	v1.Handle("/accounts", admin(h.ListAccounts)).Methods(http.MethodGet)
	v1.Handle("/accounts/{number}", staff(h.GetAccount)).Methods(http.MethodGet)
	v1.Handle("/accounts/{number}", admin(h.DeleteAccount)).Methods(http.MethodDelete)
	v1.Handle("/accounts/{number}/history", staff(h.AccountHistory)).Methods(http.MethodGet)
	v1.Handle("/accounts/{number}/deposits", staff(h.AgentDeposit)).Methods(http.MethodPost)
	v1.Handle("/accounts/{number}/withdrawals", staff(h.AgentWithdraw)).Methods(http.MethodPost)
	v1.Handle("/accounts/{number}/password", staff(h.AgentResetPassword)).Methods(http.MethodPut)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	})
}

// requireKinds admits requests bearing a valid, still current session of
// one of kinds and stores the principal in the request context.
func (h *Handler) requireKinds(kinds ...auth.PrincipalKind) func(http.HandlerFunc) http.Handler {
	return func(next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				h.respondError(w, http.StatusUnauthorized, "missing bearer token", "unauthenticated")
				return
			}
			p, err := h.tokens.Parse(raw)
			if err != nil {
				h.respondError(w, http.StatusUnauthorized, "invalid or expired session", "unauthenticated")
				return
			}
			if !slices.Contains(kinds, p.Kind) {
				h.respondError(w, http.StatusForbidden, "operation not permitted for this session", "forbidden")
				return
			}
			current, err := h.gate.SessionCurrent(r.Context(), p)
			if err != nil {
				h.respondOutcome(w, err)
				return
			}
			if !current {
				h.respondError(w, http.StatusUnauthorized, "session is no longer valid, log in again", "session_revoked")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request metrics and an access log line.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		httpLatency.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		h.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"endpoint", endpoint,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// statusFor maps an operation outcome onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrSourceNotFound),
		errors.Is(err, service.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidPassword):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidOldPassword):
		return http.StatusForbidden
	case errors.Is(err, service.ErrSameAccount),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrInsufficientSavings),
		errors.Is(err, service.ErrNoBalanceForInterest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrAccountNumbersExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondOutcome writes the error reply for a failed operation. Storage
// failures never leak their cause to the caller.
func (h *Handler) respondOutcome(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	h.respondError(w, status, msg, service.Reason(err))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON payload", "invalid_input")
		return false
	}
	return true
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("respondJSON: encode failed", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, reason string) {
	h.respondJSON(w, code, models.ErrorResponse{Error: msg, Reason: reason})
}
