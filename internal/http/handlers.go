// Package httpapi serves the engine's operational endpoints: liveness and
// readiness probes, plain-text metrics, and an admin-guarded Land listing.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/manager"
)

// ClientCountFunc reports the number of live gateway connections.
type ClientCountFunc func() int

// LandListFunc reports the live Land instances.
type LandListFunc func() []manager.LandInfo

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Clients     ClientCountFunc
	Lands       LandListFunc
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the engine's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	clients     ClientCountFunc
	lands       LandListFunc
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		clients:     opts.Clients,
		lands:       opts.Lands,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/healthz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/lands", h.LandListHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports engine health with connection and Land counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Lands         int     `json:"lands"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.started).Seconds()}
		if h.clients != nil {
			resp.Clients = h.clients()
		}
		if h.lands != nil {
			resp.Lands = len(h.lands())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP engine_uptime_seconds Engine uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE engine_uptime_seconds gauge\n")
		fmt.Fprintf(w, "engine_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		clients := 0
		if h.clients != nil {
			clients = h.clients()
		}
		fmt.Fprintf(w, "# HELP engine_clients Current connected WebSocket clients.\n")
		fmt.Fprintf(w, "# TYPE engine_clients gauge\n")
		fmt.Fprintf(w, "engine_clients %d\n", clients)

		if h.lands == nil {
			return
		}
		lands := h.lands()
		fmt.Fprintf(w, "# HELP engine_lands Live Land instances.\n")
		fmt.Fprintf(w, "# TYPE engine_lands gauge\n")
		fmt.Fprintf(w, "engine_lands %d\n", len(lands))

		fmt.Fprintf(w, "# HELP engine_land_players Distinct players per Land.\n")
		fmt.Fprintf(w, "# TYPE engine_land_players gauge\n")
		for _, info := range lands {
			fmt.Fprintf(w, "engine_land_players{land=%q,type=%q} %d\n", info.ID, info.Type, info.Players)
		}

		fmt.Fprintf(w, "# HELP engine_tick_average_seconds Average tick duration per Land.\n")
		fmt.Fprintf(w, "# TYPE engine_tick_average_seconds gauge\n")
		for _, info := range lands {
			fmt.Fprintf(w, "engine_tick_average_seconds{land=%q} %.6f\n", info.ID, info.Ticks.Average.Seconds())
		}

		fmt.Fprintf(w, "# HELP engine_tick_skipped_total Tick boundaries skipped because the previous tick overran.\n")
		fmt.Fprintf(w, "# TYPE engine_tick_skipped_total counter\n")
		for _, info := range lands {
			fmt.Fprintf(w, "engine_tick_skipped_total{land=%q} %d\n", info.ID, info.Ticks.Skipped)
		}
	}
}

// LandListHandler returns the full Land roster. Admin-token guarded because
// the listing exposes instance identifiers.
func (h *HandlerSet) LandListHandler() http.HandlerFunc {
	type landEntry struct {
		ID          string  `json:"id"`
		Type        string  `json:"type"`
		Players     int     `json:"players"`
		TickSamples int     `json:"tick_samples"`
		TickSkips   int64   `json:"tick_skips"`
		AverageTPS  float64 `json:"average_tps"`
	}
	type response struct {
		Lands []landEntry `json:"lands"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "land_list"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if h.adminToken == "" {
			reqLogger.Warn("land listing denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("land listing denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("land listing denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		resp := response{Lands: []landEntry{}}
		if h.lands != nil {
			for _, info := range h.lands() {
				resp.Lands = append(resp.Lands, landEntry{
					ID:          info.ID,
					Type:        info.Type,
					Players:     info.Players,
					TickSamples: info.Ticks.Samples,
					TickSkips:   info.Ticks.Skipped,
					AverageTPS:  info.Ticks.AverageTPS(),
				})
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
