// Package gatewarden is the public facade over the game server monitor.
package gatewarden

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/gatewarden/internal/config"
	"github.com/loykin/gatewarden/internal/history"
	"github.com/loykin/gatewarden/internal/history/factory"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/monitor"
	iapi "github.com/loykin/gatewarden/internal/server"
	apitls "github.com/loykin/gatewarden/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config
type Status = monitor.Status
type Deps = monitor.Deps
type HistoryEvent = history.Event
type HistorySink = history.Sink

// Monitor watches one game server.
type Monitor struct{ inner *monitor.Monitor }

func New(c *Config, deps Deps) (*Monitor, error) {
	m, err := monitor.New(c, deps)
	if err != nil {
		return nil, err
	}
	return &Monitor{inner: m}, nil
}

func (m *Monitor) Run(ctx context.Context) error        { return m.inner.Run(ctx) }
func (m *Monitor) Status() Status                       { return m.inner.Status() }
func (m *Monitor) KillZombie(ctx context.Context) error { return m.inner.KillZombie(ctx) }
func LoadConfig(path string) (*Config, error)           { return cfg.Load(path) }
func DefaultConfig() (*Config, error)                   { return cfg.Default() }
func NewHistorySink(dsn string) (HistorySink, error)    { return factory.NewSinkFromDSN(dsn) }
func NewAPIServer(addr, basePath string, m *Monitor) *http.Server {
	return iapi.NewServer(addr, basePath, m.inner)
}

// NewAPIServerFromConfig builds the status API server described by [api].
// api.token guards the kill endpoint. TLSConfig is set when [api.tls] is
// enabled; certificates are generated on first use with auto_generate.
func NewAPIServerFromConfig(c *Config, m *Monitor) (*http.Server, error) {
	srv := iapi.NewRouter(m.inner, c.API.BasePath).WithToken(c.API.Token).Server(c.API.Listen)
	tc, err := apitls.Setup(c.API.TLS.Options())
	if err != nil {
		return nil, fmt.Errorf("api tls: %w", err)
	}
	srv.TLSConfig = tc
	return srv, nil
}

// NewHistoryPublisher opens every sink configured in [history]. It returns a
// nil publisher when history is disabled. Sinks opened before a failure are
// closed again.
func NewHistoryPublisher(c *Config, logger *slog.Logger) (*history.Publisher, error) {
	if !c.History.Enabled {
		return nil, nil
	}
	var sinks []history.Sink
	for _, dsn := range c.History.SinkDSNs() {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = history.NewPublisher(logger, sinks...).Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return history.NewPublisher(logger, sinks...), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewMetricsServer returns an HTTP server on addr exposing /metrics using the
// default registry.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
