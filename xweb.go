// Package xweb provides a high-level façade over the dispatch core of a web
// language-tooling backend. Most applications interact with this package by:
//  1. Creating a Server via New() (optionally overriding the default
//     in-memory session store and resource handler)
//  2. Serving Handler() over HTTP, or calling Dispatch directly
//  3. Running Sweep in the background to evict idle sessions
//
// The façade wires the service registry, the session store, the
// concurrency engine and the dispatcher together with Prometheus metrics and
// OpenTelemetry tracing. All defaults are safe for local development and
// testing.
package xweb

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/dispatch"
	"github.com/hupe1980/xweb/engine"
	"github.com/hupe1980/xweb/logging"
	"github.com/hupe1980/xweb/metrics"
	"github.com/hupe1980/xweb/registry"
	"github.com/hupe1980/xweb/resource"
	"github.com/hupe1980/xweb/service"
	"github.com/hupe1980/xweb/session"
	"github.com/hupe1980/xweb/transport/httpapi"
)

// Options configures the Server instance.
type Options struct {
	// EngineConfig bounds concurrent service execution.
	EngineConfig engine.Config

	// DisableDefaultServices skips registration of the built-in services.
	DisableDefaultServices bool
	// DefaultServices customizes the built-in services.
	DefaultServices []func(o *service.DefaultOptions)
	// Services are registered in addition to (or instead of) the defaults.
	Services map[string]core.Service

	// SessionStore defaults to an in-memory store.
	SessionStore core.SessionStore
	// Resources defaults to an in-memory handler.
	Resources core.ResourceHandler

	// SessionIdleTimeout is the idle time after which Sweep evicts a session.
	SessionIdleTimeout time.Duration
	// SweepInterval is the period of Sweep.
	SweepInterval time.Duration

	// HTTP configures Handler().
	HTTP []func(o *httpapi.Options)

	// Registry receives the Prometheus metrics. Defaults to a private
	// registry exposed via Gatherer().
	Registry *prometheus.Registry
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Server is the high-level façade aggregating the dispatch core.
type Server struct {
	opts       Options
	services   *registry.Registry
	store      core.SessionStore
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Collector
	handler    *httpapi.Handler
	logger     logging.Logger

	// ownStore is set when New built the store and wired its OnEvict hook.
	ownStore bool
}

// New creates a Server with optional overrides. The service registry is
// sealed before New returns.
func New(optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		EngineConfig:       engine.DefaultConfig,
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      time.Minute,
		Logger:             logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	collector := metrics.New(opts.Registry)

	services := registry.New()
	if !opts.DisableDefaultServices {
		if err := service.RegisterDefaults(services, opts.DefaultServices...); err != nil {
			return nil, err
		}
	}
	for name, svc := range opts.Services {
		if err := services.Register(name, svc); err != nil {
			return nil, fmt.Errorf("register service %q: %w", name, err)
		}
	}
	services.Seal()

	ownStore := opts.SessionStore == nil
	if ownStore {
		opts.SessionStore = session.NewInMemoryStore(func(o *session.Options) {
			o.OnEvict = collector.SessionsEvicted
			o.Logger = logger
		})
	}
	if opts.Resources == nil {
		opts.Resources = resource.NewInMemoryHandler()
	}

	eng := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Observer = collector
		o.Logger = logger
	})

	if err := metrics.RegisterGauges(opts.Registry, opts.SessionStore.Len, func() int { return eng.Stats().Lanes }); err != nil {
		return nil, fmt.Errorf("register gauges: %w", err)
	}

	d := dispatch.New(func(o *dispatch.Options) {
		o.Services = services
		o.Store = opts.SessionStore
		o.Engine = eng
		o.Resources = opts.Resources
		o.Metrics = collector
		o.TracerProvider = opts.TracerProvider
		o.Logger = logger
	})

	httpOpts := append([]func(o *httpapi.Options){func(o *httpapi.Options) {
		o.TracerProvider = opts.TracerProvider
		o.Logger = logger
	}}, opts.HTTP...)

	return &Server{
		opts:       opts,
		services:   services,
		store:      opts.SessionStore,
		engine:     eng,
		dispatcher: d,
		metrics:    collector,
		handler:    httpapi.New(d, httpOpts...),
		logger:     logger,
		ownStore:   ownStore,
	}, nil
}

// Dispatch parses raw parameters and dispatches the request.
func (s *Server) Dispatch(ctx context.Context, params map[string]string) core.Response {
	return s.dispatcher.Dispatch(ctx, params)
}

// DispatchRequest dispatches an already parsed request.
func (s *Server) DispatchRequest(ctx context.Context, req core.Request) core.Response {
	return s.dispatcher.DispatchRequest(ctx, req)
}

// RemoveSession cancels the session's pending work and drops it.
func (s *Server) RemoveSession(id string) bool { return s.dispatcher.RemoveSession(id) }

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler { return s.handler }

// Gatherer returns the registry holding the server metrics.
func (s *Server) Gatherer() prometheus.Gatherer { return s.opts.Registry }

// Services returns the sealed service registry.
func (s *Server) Services() *registry.Registry { return s.services }

// SessionStore returns the session store.
func (s *Server) SessionStore() core.SessionStore { return s.store }

// Engine returns the concurrency engine.
func (s *Server) Engine() *engine.Engine { return s.engine }

// sweeper is implemented by stores with their own eviction loop.
type sweeper interface {
	Sweep(ctx context.Context, interval, threshold time.Duration) error
}

// Sweep evicts idle sessions every SweepInterval until ctx is done. It
// blocks and returns ctx.Err().
func (s *Server) Sweep(ctx context.Context) error {
	if sw, ok := s.store.(sweeper); ok && s.ownStore {
		return sw.Sweep(ctx, s.opts.SweepInterval, s.opts.SessionIdleTimeout)
	}

	interval := s.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// EvictIdle runs one eviction pass and returns the evicted ids.
func (s *Server) EvictIdle() []string {
	return s.evictIdle()
}

func (s *Server) evictIdle() []string {
	ids := s.store.EvictIdle(s.opts.SessionIdleTimeout)
	if !s.ownStore && len(ids) > 0 {
		s.metrics.SessionsEvicted(ids)
		s.logger.Info("evicted idle sessions", "count", len(ids))
	}
	return ids
}
