package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSession_DocumentIdentity(t *testing.T) {
	s := NewSession("s1", t0)

	var wg sync.WaitGroup
	docs := make([]*DocumentState, 16)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs[i] = s.Document("a.txt")
		}(i)
	}
	wg.Wait()

	for _, d := range docs {
		assert.Same(t, docs[0], d)
	}
	assert.Equal(t, int64(0), docs[0].Version())
	assert.Equal(t, []string{"a.txt"}, s.Resources())

	_, ok := s.LookupDocument("b.txt")
	assert.False(t, ok)
}

func TestSession_InFlight(t *testing.T) {
	s := NewSession("s1", t0)

	s.Retain(t0.Add(time.Second))
	s.Retain(t0.Add(2 * time.Second))
	assert.Equal(t, 2, s.InFlight())
	assert.Equal(t, t0.Add(2*time.Second), s.LastAccess())

	s.Unretain(t0.Add(3 * time.Second))
	s.Unretain(t0.Add(4 * time.Second))
	s.Unretain(t0.Add(5 * time.Second))
	assert.Equal(t, 0, s.InFlight())
	assert.Equal(t, t0.Add(5*time.Second), s.LastAccess())

	// Time never moves backwards.
	s.Retain(t0)
	assert.Equal(t, 1, s.InFlight())
	assert.Equal(t, t0.Add(5*time.Second), s.LastAccess())
}

func TestDocumentState_Commit(t *testing.T) {
	d := NewDocumentState("a.txt")
	dirty := true

	v, err := d.Commit(0, DocumentChange{SetArtifact: true, Artifact: "v1", Dirty: &dirty}, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	snap := d.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "v1", snap.Artifact)
	assert.True(t, snap.Dirty)
	assert.True(t, snap.HasArtifact())
	assert.Equal(t, t0, snap.Updated)

	v, err = d.Commit(0, DocumentChange{SetArtifact: true, Artifact: "lost"}, t0)
	assert.ErrorIs(t, err, ErrStaleState)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, "v1", d.Snapshot().Artifact)

	v, err = d.Commit(1, DocumentChange{}, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "empty change does not bump the version")
}

func TestDocumentState_ConcurrentCommitsFromSameBase(t *testing.T) {
	d := NewDocumentState("a.txt")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.Commit(0, DocumentChange{SetArtifact: true, Artifact: i}, t0); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	assert.Equal(t, int64(1), d.Version())
}

func TestServiceContext(t *testing.T) {
	req := Request{SessionID: "s1", ResourceID: "a.txt", ServiceType: "x", Params: map[string]string{"n": "7", "bad": "seven"}}
	ctx, cancel := context.WithCancel(context.Background())
	sc := NewServiceContext(ctx, req, NewSession("s1", t0), DocumentSnapshot{ResourceID: "a.txt", Version: 3}, nil, nil)

	n, err := sc.IntParam("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = sc.IntParam("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	_, err = sc.IntParam("bad", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, int64(3), sc.NextVersion())
	sc.SetDirty(false)
	assert.Equal(t, int64(4), sc.NextVersion())
	assert.False(t, sc.Change().IsEmpty())

	_, err = sc.LoadSource()
	assert.ErrorIs(t, err, ErrResourceNotFound)

	require.NoError(t, sc.Checkpoint())
	cancel()
	assert.ErrorIs(t, sc.Checkpoint(), ErrCancelled)
	assert.ErrorIs(t, sc.Checkpoint(), context.Canceled)
}
