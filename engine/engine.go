package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/xweb/core"
	"github.com/hupe1980/xweb/logging"
)

// Config defines tuning parameters for the Engine.
type Config struct {
	// MaxWorkers bounds the number of tasks executing simultaneously across
	// all lanes. Values below 1 are treated as 1.
	MaxWorkers int
}

// DefaultConfig provides default configuration values.
var DefaultConfig = Config{
	MaxWorkers: 8,
}

// Observer receives scheduling notifications. metrics.Collector implements it.
type Observer interface {
	// TasksSuperseded is called with the number of tasks a mutating task
	// cancelled in its lane.
	TasksSuperseded(n int)
	// TaskStarted is called when a task obtains a worker, with the time it
	// spent queued.
	TaskStarted(wait time.Duration)
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Observer is optional.
	Observer Observer

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Task is a unit of work scheduled into a lane.
type Task struct {
	// Mutating tasks supersede earlier tasks of the same lane.
	Mutating bool

	// Run performs the work. ctx is the cancellation token; it is cancelled
	// when the task is superseded or the caller gives up.
	Run func(ctx context.Context) (any, error)

	// Commit, if set, is called under the lane lock with Run's result when
	// Run succeeded and the task is still current. Its return values become the
	// outcome. Commit must not schedule work on the engine.
	Commit func(result any) (any, error)

	// Finally, if set, is called exactly once after the task has stopped
	// running or was dropped without running.
	Finally func()
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Lanes   int
	Queued  int
	Running int
}

// Engine schedules tasks on per-lane FIFO queues backed by a bounded pool.
// All public methods are safe for concurrent use.
type Engine struct {
	config   Config
	sem      *semaphore.Weighted
	observer Observer
	logger   logging.Logger

	mu    sync.Mutex
	lanes map[core.LaneKey]*lane
}

// New creates a new Engine instance with defaults and optional configuration.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.MaxWorkers < 1 {
		opts.Config.MaxWorkers = 1
	}

	return &Engine{
		config:   opts.Config,
		sem:      semaphore.NewWeighted(int64(opts.Config.MaxWorkers)),
		observer: opts.Observer,
		logger:   logging.OrNoOp(opts.Logger),
		lanes:    make(map[core.LaneKey]*lane),
	}
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.config }

// Schedule enqueues task into the lane identified by key and blocks until
// the task resolves. The outcome is Run's (or Commit's) result, or an error
// of kind Cancelled when the task was superseded or ctx was done first.
func (e *Engine) Schedule(ctx context.Context, key core.LaneKey, task Task) (any, error) {
	if task.Run == nil {
		if task.Finally != nil {
			task.Finally()
		}
		return nil, core.NewError(core.KindInternalError, "task for lane %s has no Run function", key)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id:       uuid.NewString(),
		key:      key,
		task:     task,
		ctx:      jobCtx,
		cancel:   cancel,
		enqueued: time.Now(),
		done:     make(chan outcome, 1),
	}

	e.mu.Lock()
	l, ok := e.lanes[key]
	if !ok {
		l = &lane{key: key}
		e.lanes[key] = l
	}

	l.mu.Lock()
	var (
		dropped    []*job
		superseded int
	)
	if task.Mutating {
		dropped, superseded = l.cancelAllLocked(core.NewError(core.KindCancelled, "superseded by a later request on %s", key))
	}
	l.queue = append(l.queue, j)
	startPump := !l.running
	l.running = true
	l.mu.Unlock()
	e.mu.Unlock()

	for _, d := range dropped {
		d.runFinally()
	}
	if superseded > 0 {
		e.logger.Debug("superseded tasks", "lane", key.String(), "count", superseded, "job_id", j.id)
		if e.observer != nil {
			e.observer.TasksSuperseded(superseded)
		}
	}

	if startPump {
		go e.pump(l)
	}

	select {
	case o := <-j.done:
		return o.result, o.err
	case <-ctx.Done():
		e.abandon(l, j, ctx.Err())
		o := <-j.done
		return o.result, o.err
	}
}

// CancelSession cancels every queued and running task of the given session.
// It returns the number of tasks cancelled.
func (e *Engine) CancelSession(sessionID string) int {
	var (
		dropped []*job
		total   int
	)

	e.mu.Lock()
	for key, l := range e.lanes {
		if key.SessionID != sessionID {
			continue
		}
		l.mu.Lock()
		d, n := l.cancelAllLocked(core.NewError(core.KindCancelled, "session %s was removed", sessionID))
		l.mu.Unlock()
		dropped = append(dropped, d...)
		total += n
	}
	e.mu.Unlock()

	for _, d := range dropped {
		d.runFinally()
	}
	if total > 0 {
		e.logger.Debug("cancelled session tasks", "session_id", sessionID, "count", total)
	}
	return total
}

// Stats returns the number of lanes with pending work, queued tasks and
// running tasks.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{Lanes: len(e.lanes)}
	for _, l := range e.lanes {
		l.mu.Lock()
		s.Queued += len(l.queue)
		if l.active != nil {
			s.Running++
		}
		l.mu.Unlock()
	}
	return s
}

// pump drains a lane one task at a time. Exactly one pump runs per lane;
// it removes the lane from the engine once the queue is empty.
func (e *Engine) pump(l *lane) {
	for {
		e.mu.Lock()
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.active = nil
			if e.lanes[l.key] == l {
				delete(e.lanes, l.key)
			}
			l.mu.Unlock()
			e.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.active = j
		l.mu.Unlock()
		e.mu.Unlock()

		e.runJob(l, j)
	}
}

func (e *Engine) runJob(l *lane, j *job) {
	defer j.runFinally()

	if err := j.ctx.Err(); err != nil {
		e.finish(l, j, nil, cancelled(j.key, err))
		return
	}
	if err := e.sem.Acquire(j.ctx, 1); err != nil {
		e.finish(l, j, nil, cancelled(j.key, err))
		return
	}
	if err := j.ctx.Err(); err != nil {
		e.sem.Release(1)
		e.finish(l, j, nil, cancelled(j.key, err))
		return
	}

	if e.observer != nil {
		e.observer.TaskStarted(time.Since(j.enqueued))
	}

	res, err := e.execute(j)
	e.sem.Release(1)

	e.finish(l, j, res, err)
}

// execute runs the task converting panics into InternalError.
func (e *Engine) execute(j *job) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", "lane", j.key.String(), "job_id", j.id, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res, err = nil, core.NewError(core.KindInternalError, "task panicked: %v", r)
		}
	}()
	return j.task.Run(j.ctx)
}

// finish resolves j with the task outcome unless it was already resolved
// by supersession or abandonment, in which case the outcome is discarded.
func (e *Engine) finish(l *lane, j *job, res any, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == j {
		l.active = nil
	}

	if j.resolved {
		e.logger.Debug("discarded result of cancelled task", "lane", j.key.String(), "job_id", j.id)
		return
	}

	if cerr := j.ctx.Err(); cerr != nil {
		res, err = nil, cancelled(j.key, cerr)
	}

	if err == nil && j.task.Commit != nil {
		res, err = e.commit(j, res)
	}

	j.resolveLocked(outcome{result: res, err: err})
}

func (e *Engine) commit(j *job, res any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("commit panicked", "lane", j.key.String(), "job_id", j.id, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out, err = nil, core.NewError(core.KindInternalError, "commit panicked: %v", r)
		}
	}()
	return j.task.Commit(res)
}

// abandon resolves j as cancelled because its caller stopped waiting. A job
// still queued is removed from the lane.
func (e *Engine) abandon(l *lane, j *job, cause error) {
	l.mu.Lock()
	dropped := false
	if !j.resolved {
		j.resolveLocked(outcome{err: cancelled(j.key, cause)})
		for i, q := range l.queue {
			if q == j {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
				dropped = true
				break
			}
		}
	}
	j.cancel()
	l.mu.Unlock()

	if dropped {
		j.runFinally()
	}
}

func cancelled(key core.LaneKey, cause error) error {
	return core.WrapError(core.KindCancelled, fmt.Sprintf("request on %s cancelled", key), cause)
}

type outcome struct {
	result any
	err    error
}

type job struct {
	id       string
	key      core.LaneKey
	task     Task
	ctx      context.Context
	cancel   context.CancelFunc
	enqueued time.Time
	done     chan outcome

	resolved    bool // guarded by the owning lane's mutex
	finallyOnce sync.Once
}

// resolveLocked delivers o once; caller must hold the lane mutex.
func (j *job) resolveLocked(o outcome) {
	if j.resolved {
		return
	}
	j.resolved = true
	j.done <- o
}

func (j *job) runFinally() {
	j.finallyOnce.Do(func() {
		j.cancel()
		if j.task.Finally != nil {
			j.task.Finally()
		}
	})
}

type lane struct {
	key core.LaneKey

	mu      sync.Mutex
	queue   []*job
	active  *job
	running bool
}

// cancelAllLocked resolves every queued task and the running task with err.
// Queued tasks are removed and returned so the caller can run their Finally
// hooks outside the lock. The count includes the running task.
func (l *lane) cancelAllLocked(err error) ([]*job, int) {
	n := 0
	dropped := l.queue
	for _, q := range dropped {
		q.resolveLocked(outcome{err: err})
		q.cancel()
		n++
	}
	l.queue = nil

	if a := l.active; a != nil && !a.resolved {
		a.resolveLocked(outcome{err: err})
		a.cancel()
		n++
	}
	return dropped, n
}
