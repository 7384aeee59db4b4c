// Package httpapi exposes the raffle over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/app/metrics"
	"github.com/R3E-Network/raffle/internal/engine/events"
	svcerrors "github.com/R3E-Network/raffle/internal/errors"
	"github.com/R3E-Network/raffle/internal/gasbank"
	"github.com/R3E-Network/raffle/internal/httputil"
	"github.com/R3E-Network/raffle/internal/middleware"
	"github.com/R3E-Network/raffle/internal/serviceauth"
	automation "github.com/R3E-Network/raffle/packages/com.r3e.services.automation/service"
	lottery "github.com/R3E-Network/raffle/packages/com.r3e.services.lottery/service"
	vrf "github.com/R3E-Network/raffle/packages/com.r3e.services.vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Options configures the HTTP surface.
type Options struct {
	// CallbackSecret enables POST /v1/raffle/fulfill for holders of a service token
	// signed with it. Empty leaves the route unmounted.
	CallbackSecret  string
	CallbackClients []string
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
	// Checks are run by /health, keyed by dependency name.
	Checks map[string]CheckFunc
	Logger *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	checks map[string]CheckFunc
	log    *logger.Logger
}

// NewHandler returns a router exposing the raffle, vrf, gasbank, keeper and event APIs.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, checks: opts.Checks, log: log}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware(), middleware.LoggingMiddleware(log))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	raffle := v1.PathPrefix("/raffle").Subrouter()
	raffle.HandleFunc("", h.snapshot).Methods(http.MethodGet)
	raffle.HandleFunc("/state", h.state).Methods(http.MethodGet)
	raffle.HandleFunc("/entrance-fee", h.entranceFee).Methods(http.MethodGet)
	raffle.HandleFunc("/interval", h.interval).Methods(http.MethodGet)
	raffle.HandleFunc("/players/count", h.playerCount).Methods(http.MethodGet)
	raffle.HandleFunc("/players/{index}", h.player).Methods(http.MethodGet)
	raffle.HandleFunc("/recent-winner", h.recentWinner).Methods(http.MethodGet)
	raffle.HandleFunc("/last-timestamp", h.lastTimestamp).Methods(http.MethodGet)
	raffle.HandleFunc("/balance", h.balance).Methods(http.MethodGet)
	raffle.HandleFunc("/pending-request", h.pendingRequest).Methods(http.MethodGet)
	raffle.HandleFunc("/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	raffle.HandleFunc("/upkeep", h.performUpkeep).Methods(http.MethodPost)

	enter := http.Handler(http.HandlerFunc(h.enter))
	if opts.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit"))
		enter = limiter.Handler(enter)
	}
	raffle.Handle("/enter", enter).Methods(http.MethodPost)

	if opts.CallbackSecret != "" {
		validator, err := serviceauth.NewValidator([]byte(opts.CallbackSecret))
		if err != nil {
			return nil, fmt.Errorf("callback auth: %w", err)
		}
		auth := middleware.NewServiceAuthMiddleware(middleware.ServiceAuthConfig{
			Validator:       validator,
			Logger:          log.Named("serviceauth"),
			AllowedServices: opts.CallbackClients,
		})
		raffle.Handle("/fulfill", auth.Handler(http.HandlerFunc(h.fulfill))).Methods(http.MethodPost)
	}

	vrf.NewHTTPHandler(application.VRF).RegisterRoutes(v1.PathPrefix("/vrf").Subrouter())

	v1.HandleFunc("/gasbank/accounts/{owner}", h.gasAccount).Methods(http.MethodGet)
	v1.HandleFunc("/gasbank/accounts/{owner}/transactions", h.gasTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/keeper", h.keeperStatus).Methods(http.MethodGet)

	v1.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	v1.Handle("/events/ws", events.NewStreamHandler(application.Events, opts.CORSOrigins, log.Named("events")))

	return middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(r), nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.WithError(err).WithField("check", name).Warn("health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]interface{}{
		"status": "ok",
		"state":  h.app.Raffle.State(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	httputil.WriteJSON(w, status, body)
}

func (h *handler) gasAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.app.Bank.GetAccount(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		writeGasBankError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *handler) gasTransactions(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	if _, err := h.app.Bank.GetAccount(r.Context(), owner); err != nil {
		writeGasBankError(w, err)
		return
	}
	txs, err := h.app.Bank.GetTransactions(r.Context(), owner, limit)
	if err != nil {
		writeGasBankError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, txs)
}

func writeGasBankError(w http.ResponseWriter, err error) {
	if errors.Is(err, gasbank.ErrAccountNotFound) {
		httputil.WriteError(w, svcerrors.NotFound("gasbank account not found", err))
		return
	}
	httputil.WriteError(w, svcerrors.Internal("gasbank lookup failed", err))
}

func (h *handler) keeperStatus(w http.ResponseWriter, _ *http.Request) {
	if h.app.Keeper == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Enabled bool `json:"enabled"`
		automation.Status
	}{Enabled: true, Status: h.app.Keeper.Status()})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	if limit > events.DefaultHistory {
		limit = events.DefaultHistory
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		httputil.WriteJSON(w, http.StatusOK, h.app.Events.RecentByType(lottery.EventType(typ), limit))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

// queryInt reads a non-negative integer query parameter, writing a 400 on bad input.
func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httputil.WriteError(w, svcerrors.InvalidFormat(name, name+" must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
