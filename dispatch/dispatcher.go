package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/engine"
	"github.com/hupe1980/xweb/logging"
	"github.com/hupe1980/xweb/metrics"
	"github.com/hupe1980/xweb/registry"
	"github.com/hupe1980/xweb/session"
)

const tracerName = "github.com/hupe1980/xweb/dispatch"

// unknownService labels metrics of requests whose service type did not
// resolve, so arbitrary client input cannot grow label cardinality.
const unknownService = "unknown"

// ServiceResolver looks up services by type. registry.Registry implements it.
type ServiceResolver interface {
	Resolve(name string) (core.Service, bool)
}

// Options configures a Dispatcher.
type Options struct {
	// Services resolves service types. Defaults to an empty registry.
	Services ServiceResolver

	// Store owns sessions. Defaults to an in-memory store.
	Store core.SessionStore

	// Engine schedules service execution. Defaults to engine.New().
	Engine *engine.Engine

	// Resources is handed to services for loading and saving source. May be
	// nil when no registered service touches persisted resources.
	Resources core.ResourceHandler

	// Metrics is optional.
	Metrics *metrics.Collector

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Now is the clock used for document timestamps.
	Now func() time.Time

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Dispatcher routes requests to services. It is safe for concurrent use.
type Dispatcher struct {
	services  ServiceResolver
	store     core.SessionStore
	engine    *engine.Engine
	resources core.ResourceHandler
	metrics   *metrics.Collector
	tracer    trace.Tracer
	now       func() time.Time
	logger    logging.Logger
}

// New creates a Dispatcher with defaults and optional configuration.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Now:    time.Now,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Services == nil {
		opts.Services = registry.New()
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Engine == nil {
		opts.Engine = engine.New()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		services:  opts.Services,
		store:     opts.Store,
		engine:    opts.Engine,
		resources: opts.Resources,
		metrics:   opts.Metrics,
		tracer:    opts.TracerProvider.Tracer(tracerName),
		now:       opts.Now,
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Dispatch parses raw key/value parameters and dispatches the request.
func (d *Dispatcher) Dispatch(ctx context.Context, params map[string]string) core.Response {
	start := time.Now()

	req, err := core.ParseRequest(params)
	if err != nil {
		partial := core.Request{
			SessionID:   params[core.ParamSessionID],
			ResourceID:  params[core.ParamResourceID],
			ServiceType: params[core.ParamServiceType],
		}
		_, span := d.startSpan(ctx, partial)
		defer span.End()
		return d.finish(span, unknownService, partial, start, core.Failure(err), err)
	}

	return d.DispatchRequest(ctx, req)
}

// DispatchRequest dispatches an already parsed request.
func (d *Dispatcher) DispatchRequest(ctx context.Context, req core.Request) core.Response {
	start := time.Now()

	ctx, span := d.startSpan(ctx, req)
	defer span.End()

	label := req.ServiceType

	res, err := d.dispatch(ctx, req, &label)
	if err != nil {
		return d.finish(span, label, req, start, core.Failure(err), err)
	}
	return d.finish(span, label, req, start, core.OK(res), nil)
}

// RemoveSession cancels every pending request of the session and removes
// it from the store. It reports whether the session existed.
func (d *Dispatcher) RemoveSession(sessionID string) bool {
	// Removal precedes cancellation; later requests acquire a fresh session.
	removed := d.store.Remove(sessionID)
	cancelled := d.engine.CancelSession(sessionID)
	if removed || cancelled > 0 {
		d.logger.Info("session removed", "session_id", sessionID, "cancelled", cancelled)
	}
	return removed
}

// Store returns the session store.
func (d *Dispatcher) Store() core.SessionStore { return d.store }

// Engine returns the concurrency manager.
func (d *Dispatcher) Engine() *engine.Engine { return d.engine }

// execution carries a service result from Run to Commit.
type execution struct {
	result any
	base   int64
	change core.DocumentChange
}

func (d *Dispatcher) dispatch(ctx context.Context, req core.Request, label *string) (any, error) {
	if err := req.Validate(); err != nil {
		*label = unknownService
		return nil, err
	}

	svc, ok := d.services.Resolve(req.ServiceType)
	if !ok {
		*label = unknownService
		return nil, core.NewError(core.KindInvalidRequest, "unknown service type %q", req.ServiceType)
	}

	sess := d.store.Acquire(req.SessionID)
	doc := sess.Document(req.ResourceID)

	if err := checkVersion(doc.ResourceID, req.RequiredStateVersion, doc.Version()); err != nil {
		d.store.Release(sess)
		return nil, err
	}

	task := engine.Task{
		Mutating: svc.Mutating(),
		Run: func(ctx context.Context) (any, error) {
			snap := doc.Snapshot()
			if err := checkVersion(snap.ResourceID, req.RequiredStateVersion, snap.Version); err != nil {
				return nil, err
			}

			sc := core.NewServiceContext(ctx, req, sess, snap, d.resources, d.logger)
			result, err := svc.Execute(sc)
			if err != nil {
				return nil, asServiceError(req.ServiceType, err)
			}
			return execution{result: result, base: snap.Version, change: sc.Change()}, nil
		},
		Commit: func(out any) (any, error) {
			ex, ok := out.(execution)
			if !ok {
				return nil, core.NewError(core.KindInternalError, "unexpected task result %T", out)
			}
			if err := checkVersion(req.ResourceID, req.RequiredStateVersion, doc.Version()); err != nil {
				return nil, err
			}
			if live, ok := d.store.Get(req.SessionID); !ok || live != sess {
				return nil, core.NewError(core.KindCancelled, "session %s was removed", req.SessionID)
			}
			if ex.change.IsEmpty() {
				return ex.result, nil
			}
			if !svc.Mutating() {
				d.logger.Warn("read-only service staged a document change, dropping it",
					"service", req.ServiceType,
					"session_id", req.SessionID,
					"resource_id", req.ResourceID,
				)
				return ex.result, nil
			}
			if _, err := doc.Commit(ex.base, ex.change, d.now()); err != nil {
				return nil, err
			}
			return ex.result, nil
		},
		Finally: func() { d.store.Release(sess) },
	}

	return d.engine.Schedule(ctx, core.LaneKey{SessionID: req.SessionID, ResourceID: req.ResourceID}, task)
}

func checkVersion(resourceID string, required *int64, current int64) error {
	if required == nil || *required == current {
		return nil
	}
	return core.NewError(core.KindStaleState, "document %s is at version %d, request requires %d", resourceID, current, *required)
}

// asServiceError keeps *core.Error kinds and wraps everything else as a
// service failure.
func asServiceError(serviceType string, err error) error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return err
	}
	return core.WrapError(core.KindServiceFailure, fmt.Sprintf("%s failed", serviceType), err)
}

func (d *Dispatcher) startSpan(ctx context.Context, req core.Request) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "xweb.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("xweb.service_type", req.ServiceType),
			attribute.String("xweb.session_id", req.SessionID),
			attribute.String("xweb.resource_id", req.ResourceID),
		),
	)
}

func (d *Dispatcher) finish(span trace.Span, label string, req core.Request, start time.Time, resp core.Response, err error) core.Response {
	elapsed := time.Since(start)
	d.metrics.ObserveRequest(label, resp.Status, string(resp.Kind), elapsed)

	span.SetAttributes(attribute.String("xweb.status", resp.Status))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return resp
	}

	span.SetAttributes(attribute.String("xweb.error_kind", string(resp.Kind)))
	span.RecordError(err)
	span.SetStatus(codes.Error, resp.Message)

	args := []any{
		"service", req.ServiceType,
		"session_id", req.SessionID,
		"resource", req.ResourceID,
		"kind", string(resp.Kind),
		"error", resp.Message,
		"duration_ms", elapsed.Milliseconds(),
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		args = append(args, "trace_id", sc.TraceID().String())
	}

	switch resp.Kind {
	case core.KindInternalError:
		d.logger.Error("dispatch failed", args...)
	case core.KindServiceFailure, core.KindResourceNotFound:
		d.logger.Warn("dispatch failed", args...)
	default:
		d.logger.Debug("dispatch rejected", args...)
	}

	return resp
}
