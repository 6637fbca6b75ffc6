package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/engine"
	xtestutil "github.com/hupe1980/xweb/internal/testutil"
	"github.com/hupe1980/xweb/metrics"
	"github.com/hupe1980/xweb/registry"
	"github.com/hupe1980/xweb/resource"
	"github.com/hupe1980/xweb/service"
	"github.com/hupe1980/xweb/session"
)

type fixture struct {
	d         *Dispatcher
	reg       *registry.Registry
	store     *session.InMemoryStore
	resources *resource.InMemoryHandler
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registry.New()
	require.NoError(t, service.RegisterDefaults(reg))
	store := session.NewInMemoryStore(func(o *session.Options) { o.Now = clock.Now })
	resources := resource.NewInMemoryHandler()

	d := New(append([]func(o *Options){func(o *Options) {
		o.Services = reg
		o.Store = store
		o.Resources = resources
		o.Engine = engine.New(func(o *engine.Options) { o.Config.MaxWorkers = 4 })
		o.Now = clock.Now
	}}, optFns...)...)

	return &fixture{d: d, reg: reg, store: store, resources: resources, clock: clock}
}

func (f *fixture) document(t *testing.T, sessionID, resourceID string) core.DocumentSnapshot {
	t.Helper()
	sess, ok := f.store.Get(sessionID)
	require.True(t, ok, "session %s", sessionID)
	doc, ok := sess.LookupDocument(resourceID)
	require.True(t, ok, "document %s", resourceID)
	return doc.Snapshot()
}

func dispatchAsync(d *Dispatcher, ctx context.Context, params map[string]string) <-chan core.Response {
	ch := make(chan core.Response, 1)
	go func() { ch <- d.Dispatch(ctx, params) }()
	return ch
}

func waitResponse(t *testing.T, ch <-chan core.Response) core.Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return core.Response{}
	}
}

func waitStarted(t *testing.T, svc *xtestutil.BlockingService) {
	t.Helper()
	select {
	case <-svc.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("service did not start")
	}
}

func TestDispatch_ValidateEmptyDocument(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("validate").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.ValidationResult{Issues: []service.Issue{}}, resp.Result)

	snap := f.document(t, "s1", "doc.txt")
	assert.Equal(t, int64(0), snap.Version)
	assert.False(t, snap.HasArtifact())
}

func TestDispatch_UpdateThenStale(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(context.Background(),
		xtestutil.NewRequestBuilder("update").RequiredVersion(0).Param("text", "abc").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.StateResult{StateID: 1}, resp.Result)

	snap := f.document(t, "s1", "doc.txt")
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "abc", service.DocumentOf(snap).Text)
	assert.True(t, snap.Dirty)
	assert.Equal(t, f.clock.Now(), snap.Updated)

	resp = f.d.Dispatch(context.Background(),
		xtestutil.NewRequestBuilder("update").RequiredVersion(0).Param("text", "xyz").Params())
	assert.False(t, resp.IsOK())
	assert.Equal(t, core.KindStaleState, resp.Kind)

	snap = f.document(t, "s1", "doc.txt")
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "abc", service.DocumentOf(snap).Text)
}

func TestDispatch_StaleRequestDoesNotExecute(t *testing.T) {
	f := newFixture(t)
	probe := xtestutil.NewBlockingService(false)
	probe.Release()
	f.reg.MustRegister("probe", probe)

	resp := f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("probe").RequiredVersion(3).Params())
	assert.Equal(t, core.KindStaleState, resp.Kind)
	assert.Equal(t, 0, probe.Calls())
	assert.Equal(t, 0, f.store.GetOrCreate("s1").InFlight())
}

func TestDispatch_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	tests := map[string]map[string]string{
		"missing session":  xtestutil.NewRequestBuilder("validate").Without(core.ParamSessionID).Params(),
		"missing resource": xtestutil.NewRequestBuilder("validate").Without(core.ParamResourceID).Params(),
		"missing service":  xtestutil.NewRequestBuilder("").Params(),
		"unknown service":  xtestutil.NewRequestBuilder("nope").Params(),
		"bad version":      xtestutil.NewRequestBuilder("validate").Param(core.ParamRequiredStateVersion, "one").Params(),
		"negative version": xtestutil.NewRequestBuilder("validate").RequiredVersion(-1).Params(),
	}

	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			resp := f.d.Dispatch(context.Background(), params)
			assert.Equal(t, core.StatusError, resp.Status)
			assert.Equal(t, core.KindInvalidRequest, resp.Kind)
			assert.NotEmpty(t, resp.Message)
		})
	}
	assert.Equal(t, 0, f.store.Len(), "rejected requests must not create sessions")
}

func TestDispatch_ErrorKinds(t *testing.T) {
	f := newFixture(t)
	f.reg.MustRegister("fails", service.NewFunc("fails", func(*core.ServiceContext) (any, error) {
		return nil, errors.New("no luck")
	}))
	f.reg.MustRegister("panics", service.NewFunc("panics", func(*core.ServiceContext) (any, error) {
		panic("boom")
	}))
	f.reg.MustRegister("raw", rawService{})

	resp := f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("fails").Params())
	assert.Equal(t, core.KindServiceFailure, resp.Kind)
	assert.Equal(t, "fails failed: no luck", resp.Message)

	resp = f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("raw").Params())
	assert.Equal(t, core.KindServiceFailure, resp.Kind)
	assert.Equal(t, "raw failed: raw error", resp.Message)

	resp = f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("panics").Params())
	assert.Equal(t, core.KindInternalError, resp.Kind)

	resp = f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("load").Resource("missing.txt").Params())
	assert.Equal(t, core.KindResourceNotFound, resp.Kind)

	sess := f.store.GetOrCreate("s1")
	assert.Eventually(t, func() bool { return sess.InFlight() == 0 }, time.Second, time.Millisecond)
}

type rawService struct{}

func (rawService) Execute(*core.ServiceContext) (any, error) { return nil, errors.New("raw error") }
func (rawService) Mutating() bool                            { return false }

func TestDispatch_LoadSaveRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.resources.Put("doc.txt", []byte("entity A {}"))
	ctx := context.Background()

	resp := f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("load").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.ResourceResult{FullText: "entity A {}", StateID: 1}, resp.Result)

	resp = f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("update").RequiredVersion(1).
		Param(service.ParamDeltaText, "B").Param(service.ParamDeltaOffset, "7").Param(service.ParamDeltaReplaceLength, "1").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.StateResult{StateID: 2}, resp.Result)

	resp = f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("save").RequiredVersion(2).Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.StateResult{StateID: 3}, resp.Result)

	data, ok := f.resources.Get("doc.txt")
	require.True(t, ok)
	assert.Equal(t, "entity B {}", string(data))
	assert.False(t, f.document(t, "s1", "doc.txt").Dirty)
}

func TestDispatch_ConcurrentUpdatesNeverBothCommit(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)

		const n = 10
		var wg sync.WaitGroup
		responses := make([]core.Response, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				responses[i] = f.d.Dispatch(context.Background(),
					xtestutil.NewRequestBuilder("update").RequiredVersion(0).Param("text", string(rune('a'+i))).Params())
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, r := range responses {
			if r.IsOK() {
				ok++
				continue
			}
			assert.Contains(t, []core.ErrorKind{core.KindCancelled, core.KindStaleState}, r.Kind)
		}
		assert.Equal(t, 1, ok, "exactly one update may commit")
		assert.Equal(t, int64(1), f.document(t, "s1", "doc.txt").Version)
		sess := f.store.GetOrCreate("s1")
		assert.Eventually(t, func() bool { return sess.InFlight() == 0 }, time.Second, time.Millisecond)
	}
}

func TestDispatch_SecondUpdateSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(true)
	slow.Artifact = &service.Document{Text: "slow"}
	slow.Result = "slow"
	f.reg.MustRegister("slowupdate", slow)

	first := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowupdate").RequiredVersion(0).Params())
	waitStarted(t, slow)

	second := f.d.Dispatch(context.Background(),
		xtestutil.NewRequestBuilder("update").RequiredVersion(0).Param("text", "fast").Params())
	require.True(t, second.IsOK(), second.Message)

	r1 := waitResponse(t, first)
	assert.Equal(t, core.KindCancelled, r1.Kind)

	snap := f.document(t, "s1", "doc.txt")
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "fast", service.DocumentOf(snap).Text)
}

func TestDispatch_ReadOnlyParallelAcrossResources(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(false)
	f.reg.MustRegister("slowread", slow)

	a := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowread").Resource("a.txt").Params())
	b := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowread").Resource("b.txt").Params())

	waitStarted(t, slow)
	waitStarted(t, slow)
	slow.Release()

	assert.True(t, waitResponse(t, a).IsOK())
	assert.True(t, waitResponse(t, b).IsOK())
}

func TestDispatch_ReadOnlySerializedAfterMutating(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(true)
	slow.Artifact = &service.Document{Text: "(unbalanced"}
	f.reg.MustRegister("slowupdate", slow)

	mut := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowupdate").Params())
	waitStarted(t, slow)

	read := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("validate").Params())
	select {
	case <-read:
		t.Fatal("read-only request must wait for the mutating request on the same resource")
	case <-time.After(30 * time.Millisecond):
	}

	slow.Release()
	require.True(t, waitResponse(t, mut).IsOK())

	r := waitResponse(t, read)
	require.True(t, r.IsOK(), r.Message)
	issues := r.Result.(service.ValidationResult).Issues
	require.Len(t, issues, 1, "validate must observe the committed artifact")
	assert.Equal(t, "unclosed '('", issues[0].Description)
}

func TestDispatch_CallerTimeout(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(true)
	f.reg.MustRegister("slowupdate", slow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	resp := f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("slowupdate").Params())
	assert.Equal(t, core.KindCancelled, resp.Kind)

	sess, ok := f.store.Get("s1")
	require.True(t, ok)
	assert.Eventually(t, func() bool { return sess.InFlight() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(0), f.document(t, "s1", "doc.txt").Version)
}

func TestDispatch_EvictionSkipsBusySessions(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(false)
	slow.IgnoreCancel = true
	f.reg.MustRegister("slowread", slow)

	pending := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowread").Params())
	waitStarted(t, slow)

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.store.EvictIdle(time.Minute))

	slow.Release()
	require.True(t, waitResponse(t, pending).IsOK())

	require.Eventually(t, func() bool {
		sess, ok := f.store.Get("s1")
		return ok && sess.InFlight() == 0
	}, time.Second, time.Millisecond)
	f.clock.Advance(time.Hour)
	assert.Equal(t, []string{"s1"}, f.store.EvictIdle(time.Minute))
}

func TestDispatch_RemoveSession(t *testing.T) {
	f := newFixture(t)
	slow := xtestutil.NewBlockingService(false)
	f.reg.MustRegister("slowread", slow)

	pending := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowread").Params())
	waitStarted(t, slow)

	assert.True(t, f.d.RemoveSession("s1"))
	assert.Equal(t, core.KindCancelled, waitResponse(t, pending).Kind)
	assert.False(t, f.d.RemoveSession("s1"))

	_, ok := f.store.Get("s1")
	assert.False(t, ok)
}

func TestDispatch_RemovedSessionDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	edit := xtestutil.NewBlockingService(true)
	edit.Artifact = &service.Document{Text: "late"}
	f.reg.MustRegister("slowedit", edit)

	pending := dispatchAsync(f.d, context.Background(), xtestutil.NewRequestBuilder("slowedit").Params())
	waitStarted(t, edit)

	require.True(t, f.store.Remove("s1"))
	edit.Release()

	assert.Equal(t, core.KindCancelled, waitResponse(t, pending).Kind)

	resp := f.d.Dispatch(context.Background(), xtestutil.NewRequestBuilder("validate").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, int64(0), f.document(t, "s1", "doc.txt").Version)
}

func TestDispatch_ReadOnlyServiceCannotChangeDocument(t *testing.T) {
	f := newFixture(t)
	f.reg.MustRegister("cache", service.NewFunc("cache", func(sc *core.ServiceContext) (any, error) {
		sc.SetArtifact("analysis")
		sc.SetDirty(true)
		return "cached", nil
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp := f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("cache").Params())
		require.True(t, resp.IsOK(), resp.Message)
		assert.Equal(t, "cached", resp.Result)
	}

	snap := f.document(t, "s1", "doc.txt")
	assert.Equal(t, int64(0), snap.Version)
	assert.Nil(t, snap.Artifact)
	assert.False(t, snap.Dirty)

	// A client holding state 0 is not reported stale.
	resp := f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("update").RequiredVersion(0).Param(service.ParamText, "x").Params())
	require.True(t, resp.IsOK(), resp.Message)
	assert.Equal(t, service.StateResult{StateID: 1}, resp.Result)
}

func TestDispatch_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("update").Session("a").Param("text", "one").Params()).IsOK())
	require.True(t, f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("update").Session("b").Param("text", "two").Params()).IsOK())

	assert.Equal(t, "one", service.DocumentOf(f.document(t, "a", "doc.txt")).Text)
	assert.Equal(t, "two", service.DocumentOf(f.document(t, "b", "doc.txt")).Text)
	assert.Equal(t, 2, f.store.Len())
}

func TestDispatch_TracingAndMetrics(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	f := newFixture(t, func(o *Options) {
		o.TracerProvider = tp
		o.Metrics = collector
	})

	ctx := context.Background()
	require.True(t, f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("validate").Params()).IsOK())
	resp := f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("update").RequiredVersion(9).Param("text", "x").Params())
	require.Equal(t, core.KindStaleState, resp.Kind)
	f.d.Dispatch(ctx, xtestutil.NewRequestBuilder("bogus").Params())

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "xweb.dispatch", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("xweb.service_type", "validate"))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("xweb.error_kind", "StaleState"))

	count, err := testutil.GatherAndCount(reg, "xweb_dispatch_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
