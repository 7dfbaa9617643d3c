package network

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminConfig defines configuration for the admin HTTP server.
type AdminConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DefaultAdminConfig returns a configuration with sensible defaults.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Host: "127.0.0.1",
		Port: 7100,
	}
}

// StatsFunc produces the JSON document served on /stats.
type StatsFunc func() interface{}

// AdminServer serves health, stats and Prometheus metrics over HTTP,
// guarded by optional token authentication.
type AdminServer struct {
	cfg   AdminConfig
	auth  *Authenticator
	stats StatsFunc
	srv   *http.Server
}

// NewAdminServer creates an admin server. gatherer may be nil to serve
// the default Prometheus registry.
func NewAdminServer(cfg AdminConfig, auth *Authenticator, stats StatsFunc, gatherer prometheus.Gatherer) *AdminServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	a := &AdminServer{
		cfg:   cfg,
		auth:  auth,
		stats: stats,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/stats", a.requireAuth(http.HandlerFunc(a.handleStats)))
	mux.Handle("/metrics", a.requireAuth(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	a.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Start begins serving in the background.
func (a *AdminServer) Start() {
	go func() {
		log.Printf("network: admin server listening at %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("network: admin server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (a *AdminServer) Stop(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

// requireAuth wraps a handler with token validation.
func (a *AdminServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.auth.ValidateToken(bearerToken(r)); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header or the
// X-Auth-Token fallback.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-Auth-Token")
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *AdminServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
