// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for userserversd.
//
// The health check exposes per-service running state at /healthz as JSON,
// suitable for a systemd watchdog or an external monitoring probe. A
// Prometheus-compatible /metrics endpoint is also served. Neither endpoint
// participates in the IPC wire protocol; both are read-only views over the
// same registry state GetServiceStatus/ListServices expose on the socket.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ServiceInfo describes the health state of a single service.
type ServiceInfo struct {
	Name     string `json:"name"`
	Group    string `json:"group,omitempty"`
	Running  bool   `json:"running"`
	LogBytes int    `json:"log_bytes"`
}

// StatusProvider returns the current health status of all services. The
// daemon implements this interface to supply live registry data.
type StatusProvider interface {
	Services() []ServiceInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Services  []ServiceInfo `json:"services"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider StatusProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Timestamp: time.Now(),
	}

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}
	resp.Services = services

	healthy := len(services) > 0
	for _, svc := range services {
		if !svc.Running {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response without any
// external client library.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}

	fmt.Fprintln(&sb, "# HELP userserversd_service_running Is the service currently running (1=running, 0=stopped).")
	fmt.Fprintln(&sb, "# TYPE userserversd_service_running gauge")
	for _, svc := range services {
		v := 0
		if svc.Running {
			v = 1
		}
		fmt.Fprintf(&sb, "userserversd_service_running{service=%q} %d\n", svc.Name, v)
	}

	fmt.Fprintln(&sb, "# HELP userserversd_service_log_bytes Size of the in-memory log buffer for the service.")
	fmt.Fprintln(&sb, "# TYPE userserversd_service_log_bytes gauge")
	for _, svc := range services {
		fmt.Fprintf(&sb, "userserversd_service_log_bytes{service=%q} %d\n", svc.Name, svc.LogBytes)
	}

	fmt.Fprintln(&sb, "# HELP userserversd_services_total Total number of registered services.")
	fmt.Fprintln(&sb, "# TYPE userserversd_services_total gauge")
	fmt.Fprintf(&sb, "userserversd_services_total %d\n", len(services))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness once bound, so a caller can detect a bind failure (e.g. port
// already in use) immediately instead of only after ctx is cancelled.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
