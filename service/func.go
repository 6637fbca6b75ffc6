package service

import (
	"errors"
	"time"

	"github.com/hupe1980/xweb/core"
)

// Func is a generic adapter that exposes a plain Go function as a
// core.Service.
//
// Error semantics:
//
//	*core.Error (returned directly)  -> forwarded unchanged
//	other error                      -> *core.Error{Kind: ServiceFailure}
//
// A Func has no mutable state after construction and is safe for concurrent
// use.
type Func struct {
	name     string
	mutating bool
	fn       func(sc *core.ServiceContext) (any, error)
}

// NewFunc constructs a read-only service from fn.
//
// Example:
//
//	echo := service.NewFunc("echo", func(sc *core.ServiceContext) (any, error) {
//	    v, _ := sc.Param("value")
//	    return map[string]any{"value": v}, nil
//	})
func NewFunc(name string, fn func(sc *core.ServiceContext) (any, error)) *Func {
	return &Func{name: name, fn: fn}
}

// NewMutatingFunc constructs a mutating service from fn. fn stages document
// changes through the ServiceContext.
func NewMutatingFunc(name string, fn func(sc *core.ServiceContext) (any, error)) *Func {
	return &Func{name: name, mutating: true, fn: fn}
}

// Name returns the service name used in log lines.
func (f *Func) Name() string { return f.name }

// Mutating implements core.Service.
func (f *Func) Mutating() bool { return f.mutating }

// Execute implements core.Service.
//
// Logging fields:
//
//	service: service name
//	resource: resource id
//	duration_ms: execution time in milliseconds
func (f *Func) Execute(sc *core.ServiceContext) (any, error) {
	logger := sc.Logger
	start := time.Now()

	logger.Debug("service.execute.start", "service", f.name, "resource", sc.Request.ResourceID)

	result, err := f.fn(sc)
	if err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			logger.Debug("service.execute.error", "service", f.name, "kind", string(coreErr.Kind), "error", err.Error())
			return nil, err
		}

		logger.Debug("service.execute.error", "service", f.name, "error", err.Error())

		return nil, core.WrapError(core.KindServiceFailure, f.name+" failed", err)
	}

	logger.Debug("service.execute.success", "service", f.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
