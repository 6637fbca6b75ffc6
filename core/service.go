package core

import (
	"context"
	"strconv"

	"github.com/hupe1980/xweb/logging"
)

// Service is a pluggable unit of work (validate, assist, format, update …)
// invoked by service type name.
//
// Implementations should:
//   - Poll ServiceContext.Checkpoint during long computations
//   - Stage document mutations through the ServiceContext instead of
//     touching DocumentState directly
//   - Be safe for concurrent use; one instance serves every session
type Service interface {
	// Execute runs the service and returns a JSON serializable result.
	Execute(sc *ServiceContext) (any, error)

	// Mutating reports whether the service changes document state. Mutating
	// services supersede earlier requests on the same document.
	Mutating() bool
}

// ServiceContext carries execution state and helpers for one service
// invocation. It aggregates:
//   - The cancellation Context (the token the service must poll)
//   - Identifiers and named request parameters
//   - The owning Session and a snapshot of the target DocumentState
//   - The resource handler for loading and saving source content
//   - A staged DocumentChange committed by the dispatcher on success
type ServiceContext struct {
	Context     context.Context
	Request     Request
	Session     *Session
	Document    DocumentSnapshot
	Resources   ResourceHandler
	Logger      logging.Logger
	ServiceType string

	change DocumentChange
}

// NewServiceContext constructs a ServiceContext with an empty staged change.
func NewServiceContext(
	ctx context.Context,
	req Request,
	sess *Session,
	doc DocumentSnapshot,
	resources ResourceHandler,
	logger logging.Logger,
) *ServiceContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ServiceContext{
		Context:     ctx,
		Request:     req,
		Session:     sess,
		Document:    doc,
		Resources:   resources,
		Logger:      logger,
		ServiceType: req.ServiceType,
	}
}

// Done returns a channel closed when the invocation is cancelled.
func (sc *ServiceContext) Done() <-chan struct{} { return sc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (sc *ServiceContext) Err() error { return sc.Context.Err() }

// Checkpoint returns ErrCancelled once the invocation has been cancelled.
// Long running services call it at safe points and return its error.
func (sc *ServiceContext) Checkpoint() error {
	if err := sc.Context.Err(); err != nil {
		return WrapError(KindCancelled, "request cancelled", err)
	}
	return nil
}

// Param returns a named request parameter.
func (sc *ServiceContext) Param(name string) (string, bool) {
	return sc.Request.Param(name)
}

// IntParam returns a named integer parameter, def when absent. A value that
// is present but not an integer yields an InvalidRequest error.
func (sc *ServiceContext) IntParam(name string, def int) (int, error) {
	s, ok := sc.Request.Param(name)
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewError(KindInvalidRequest, "parameter %s must be an integer, got %q", name, s)
	}
	return v, nil
}

// SetArtifact stages a replacement of the cached artifact.
func (sc *ServiceContext) SetArtifact(a any) {
	sc.change.SetArtifact = true
	sc.change.Artifact = a
}

// SetDirty stages the dirty flag.
func (sc *ServiceContext) SetDirty(dirty bool) {
	sc.change.Dirty = &dirty
}

// Change returns the staged document change.
func (sc *ServiceContext) Change() DocumentChange { return sc.change }

// NextVersion returns the version the document will have once the staged
// change is committed. Requests within a document lane are serialized, so
// the value is stable for the duration of Execute.
func (sc *ServiceContext) NextVersion() int64 {
	if sc.change.IsEmpty() {
		return sc.Document.Version
	}
	return sc.Document.Version + 1
}

// Resolve maps the request's resource id to a storage location.
func (sc *ServiceContext) Resolve() (ResourceLocation, error) {
	if sc.Resources == nil {
		return ResourceLocation{}, NewError(KindResourceNotFound, "no resource handler configured for %s", sc.Request.ResourceID)
	}
	return sc.Resources.Resolve(sc.Request.ResourceID)
}

// LoadSource resolves and loads the persisted source of the resource.
func (sc *ServiceContext) LoadSource() ([]byte, error) {
	loc, err := sc.Resolve()
	if err != nil {
		return nil, err
	}
	return sc.Resources.Load(sc.Context, loc)
}

// SaveSource resolves the resource and persists data.
func (sc *ServiceContext) SaveSource(data []byte) error {
	loc, err := sc.Resolve()
	if err != nil {
		return err
	}
	return sc.Resources.Save(sc.Context, loc, data)
}
