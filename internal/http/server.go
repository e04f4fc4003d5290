// Package http serves the operational endpoints of the bot process: health,
// readiness, a JSON payment report and plain-text metrics.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"vpnshare/internal/core"
	"vpnshare/internal/log"
	"vpnshare/internal/middleware/ratelimit"
	"vpnshare/internal/middleware/trace"
)

// ReportSource computes payment reports on demand.
type ReportSource interface {
	CurrentMonth() core.Month
	BuildReport(ctx context.Context, month core.Month) (core.Report, error)
}

// Check probes one dependency. A nil error means ready.
type Check func(ctx context.Context) error

type Options struct {
	Addr               string
	Reports            ReportSource
	Checks             map[string]Check
	RateLimitPerMinute int
	Logger             *log.Logger
}

type Server struct {
	http.Server
	reports ReportSource
	checks  map[string]Check

	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	started time.Time

	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		reports: opts.Reports,
		checks:  opts.Checks,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		tracer:  trace.NewMiddleware(extractClientIP),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /api/report", s.limiter.Middleware(extractClientIP, nil)(http.HandlerFunc(s.handleReport)))

	var handler http.Handler = mux
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(logger.WithComponent(log.ComponentHTTP))(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops the listener and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
