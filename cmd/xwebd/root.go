package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/xweb"
	"github.com/hupe1980/xweb/config"
	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/engine"
	"github.com/hupe1980/xweb/internal/telemetry"
	"github.com/hupe1980/xweb/logging"
	"github.com/hupe1980/xweb/resource"
	"github.com/hupe1980/xweb/resource/badgerstore"
	"github.com/hupe1980/xweb/transport/httpapi"
)

const shutdownTimeout = 10 * time.Second

var version = "dev"

func newRootCmd() *cobra.Command {
	var flags struct {
		addr        string
		metricsAddr string
		backend     string
		resourceDir string
		badgerDir   string
		maxWorkers  int
		logLevel    string
		logFormat   string
	}

	cmd := &cobra.Command{
		Use:           "xwebd",
		Short:         "Serve language services for web editors",
		Long:          "xwebd dispatches editor service requests (load, update, validate, assist, ...) to per-session documents.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags that were set explicitly override the environment.
			f := cmd.Flags()
			if f.Changed("addr") {
				cfg.Addr = flags.addr
			}
			if f.Changed("metrics-addr") {
				cfg.MetricsAddr = flags.metricsAddr
			}
			if f.Changed("backend") {
				cfg.ResourceBackend = flags.backend
			}
			if f.Changed("resource-dir") {
				cfg.ResourceDir = flags.resourceDir
			}
			if f.Changed("badger-dir") {
				cfg.BadgerDir = flags.badgerDir
			}
			if f.Changed("max-workers") {
				cfg.MaxWorkers = flags.maxWorkers
			}
			if f.Changed("log-level") {
				cfg.LogLevel = flags.logLevel
			}
			if f.Changed("log-format") {
				cfg.LogFormat = flags.logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", "", "HTTP listen address (XWEB_ADDR)")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "metrics listen address, empty to disable (XWEB_METRICS_ADDR)")
	f.StringVar(&flags.backend, "backend", "", "resource backend: file, memory or badger (XWEB_RESOURCE_BACKEND)")
	f.StringVar(&flags.resourceDir, "resource-dir", "", "base directory of the file backend (XWEB_RESOURCE_DIR)")
	f.StringVar(&flags.badgerDir, "badger-dir", "", "data directory of the badger backend (XWEB_BADGER_DIR)")
	f.IntVar(&flags.maxWorkers, "max-workers", 0, "maximum concurrently executing services (XWEB_MAX_WORKERS)")
	f.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (XWEB_LOG_LEVEL)")
	f.StringVar(&flags.logFormat, "log-format", "", "text or json (XWEB_LOG_FORMAT)")

	return cmd
}

func newLogger(cfg config.Config, out io.Writer) (*logging.SlogAdapter, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.LogFormat,
		Output:    out,
		Component: "xwebd",
	}), nil
}

// openResources builds the configured resource backend. The returned close
// function releases backend resources.
func openResources(cfg config.Config, logger *logging.SlogAdapter) (core.ResourceHandler, func() error, error) {
	noop := func() error { return nil }

	switch cfg.ResourceBackend {
	case config.BackendMemory:
		return resource.NewInMemoryHandler(), noop, nil
	case config.BackendFile:
		h, err := resource.NewFileHandler(cfg.ResourceDir)
		if err != nil {
			return nil, nil, err
		}
		return h, noop, nil
	case config.BackendBadger:
		h, err := badgerstore.Open(badgerstore.Config{
			Dir:    cfg.BadgerDir,
			Logger: logger.With("component", "badger").Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown resource backend %q", cfg.ResourceBackend)
	}
}

func run(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}

	tp, shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "xwebd",
		ServiceVersion: version,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	resources, closeResources, err := openResources(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeResources(); err != nil {
			logger.Warn("closing resources failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := xweb.New(func(o *xweb.Options) {
		o.EngineConfig = engine.Config{MaxWorkers: cfg.MaxWorkers}
		o.Resources = resources
		o.SessionIdleTimeout = cfg.SessionIdleTimeout
		o.SweepInterval = cfg.SweepInterval
		o.Registry = reg
		o.TracerProvider = tp
		o.Logger = logger
		o.HTTP = append(o.HTTP, func(o *httpapi.Options) {
			o.CookieName = cfg.SessionCookie
			o.RequestTimeout = cfg.RequestTimeout
			o.ServiceName = "xwebd"
		})
	})
	if err != nil {
		return err
	}

	servers := []*http.Server{{Addr: cfg.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, hs := range servers {
		g.Go(func() error {
			logger.Info("listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", hs.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.Sweep(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, hs := range servers {
			if err := hs.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	logger.Info("xwebd started",
		"backend", cfg.ResourceBackend,
		"max_workers", cfg.MaxWorkers,
		"services", srv.Services().Names(),
	)

	return g.Wait()
}
