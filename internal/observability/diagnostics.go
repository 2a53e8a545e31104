package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const diagMeterName = "vmtrack"

// DiagnosticsServer exposes health, readiness, and Prometheus metrics
// endpoints over HTTP for operational monitoring during long replays.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// NewDiagnosticsServer starts an HTTP server at addr with /healthz, /readyz,
// and /metrics endpoints. Runtime scheduler metrics are registered on the
// server's own meter; application instruments built from Meter() show up on
// the scrape endpoint. Checks gate /readyz.
func NewDiagnosticsServer(addr string, checks ...ReadyCheck) (*DiagnosticsServer, error) {
	mux := http.NewServeMux()

	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(checks...))

	metricsHandler, provider, err := PrometheusHandler()
	if err != nil {
		return nil, fmt.Errorf("create prometheus handler: %w", err)
	}

	mux.Handle("/metrics", metricsHandler)

	meter := provider.Meter(diagMeterName)

	_, err = NewRuntimeMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("register runtime metrics: %w", err)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: mux}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener, provider: provider, meter: meter}, nil
}

// Meter returns the meter feeding the /metrics endpoint.
func (d *DiagnosticsServer) Meter() metric.Meter {
	return d.meter
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close gracefully shuts down the diagnostics server and flushes the exporter.
func (d *DiagnosticsServer) Close() error {
	ctx := context.Background()

	err := errors.Join(d.server.Shutdown(ctx), d.provider.Shutdown(ctx))
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
