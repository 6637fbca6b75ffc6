package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/xweb/core"
)

// BlockingService is a controllable core.Service. Each Execute call signals
// Started and then blocks until Release is called or the invocation is
// cancelled. When not cancelled it stages Artifact (if set) and returns
// Result.
type BlockingService struct {
	IsMutating bool
	Artifact   any
	Result     any

	// IgnoreCancel makes Execute wait for Release even after cancellation.
	IgnoreCancel bool

	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	calls    atomic.Int32
	finished atomic.Int32
}

// NewBlockingService creates a blocking service.
func NewBlockingService(mutating bool) *BlockingService {
	return &BlockingService{
		IsMutating: mutating,
		started:    make(chan struct{}, 64),
		release:    make(chan struct{}),
	}
}

// Mutating implements core.Service.
func (s *BlockingService) Mutating() bool { return s.IsMutating }

// Execute implements core.Service.
func (s *BlockingService) Execute(sc *core.ServiceContext) (any, error) {
	s.calls.Add(1)
	defer s.finished.Add(1)

	s.started <- struct{}{}

	if s.IgnoreCancel {
		<-s.release
	} else {
		select {
		case <-s.release:
		case <-sc.Done():
			return nil, sc.Checkpoint()
		}
	}

	if s.Artifact != nil {
		sc.SetArtifact(s.Artifact)
	}
	return s.Result, nil
}

// Started returns a channel receiving one value per Execute call.
func (s *BlockingService) Started() <-chan struct{} { return s.started }

// Release unblocks every current and future Execute call.
func (s *BlockingService) Release() { s.once.Do(func() { close(s.release) }) }

// Calls returns the number of Execute calls.
func (s *BlockingService) Calls() int { return int(s.calls.Load()) }

// Finished returns the number of Execute calls that returned.
func (s *BlockingService) Finished() int { return int(s.finished.Load()) }
