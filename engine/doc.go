// Package engine implements the concurrency manager of xweb: the component
// that executes service tasks on a bounded worker pool while serializing
// work per (session, resource) lane.
//
// # Scheduling model
//
// Every task is scheduled into the lane identified by its core.LaneKey.
// Within a lane tasks run strictly one at a time, in arrival order. Tasks of
// different lanes run in parallel, limited by Config.MaxWorkers. Workers are
// handed out in FIFO order across lanes, so a busy session cannot starve a
// quiet one.
//
// # Supersession
//
// A mutating task supersedes every task queued or running in its lane:
//
//   - queued tasks are dropped and resolve with core.ErrCancelled at once
//   - the running task resolves with core.ErrCancelled at once, its context
//     is cancelled, and its result is discarded when it eventually returns
//
// Read-only tasks never supersede anything. The superseding task does not
// wait for a cancelled task to acknowledge cancellation before it is queued,
// but it only starts once the lane is free.
//
// # Commit
//
// A task may carry a Commit function. It runs under the lane lock after Run
// returns successfully and only if the task was not superseded or cancelled
// in the meantime. Supersession takes the same lock, so a cancelled task can
// never commit.
//
// Example:
//
//	e := engine.New(func(o *engine.Options) { o.Config.MaxWorkers = 4 })
//	res, err := e.Schedule(ctx, core.LaneKey{SessionID: "s1", ResourceID: "doc.txt"}, engine.Task{
//	    Mutating: true,
//	    Run:      func(ctx context.Context) (any, error) { return compute(ctx) },
//	    Commit:   func(res any) (any, error) { return apply(res) },
//	})
package engine
