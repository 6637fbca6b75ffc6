package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	err := NewError(KindStaleState, "document %s moved on", "a.txt")

	assert.ErrorIs(t, err, ErrStaleState)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", err), ErrStaleState)
}

func TestError_Unwrap(t *testing.T) {
	err := WrapError(KindCancelled, "request cancelled", context.Canceled)

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "Cancelled: request cancelled: context canceled", err.Error())
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "InternalError", (&Error{Kind: KindInternalError}).Error())
	assert.Equal(t, "ServiceFailure: boom", (&Error{Kind: KindServiceFailure, Err: errors.New("boom")}).Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindResourceNotFound, KindOf(NewError(KindResourceNotFound, "x")))
	assert.Equal(t, KindServiceFailure, KindOf(errors.New("plain")))
	assert.Equal(t, KindStaleState, KindOf(fmt.Errorf("wrapped: %w", ErrStaleState)))
}

func TestFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		msg  string
	}{
		{"message only", NewError(KindInvalidRequest, "missing"), KindInvalidRequest, "missing"},
		{"message and cause", WrapError(KindServiceFailure, "format failed", errors.New("tab")), KindServiceFailure, "format failed: tab"},
		{"cause only", &Error{Kind: KindCancelled, Err: context.Canceled}, KindCancelled, "context canceled"},
		{"bare kind", ErrInternal, KindInternalError, "InternalError"},
		{"foreign error", errors.New("raw"), KindServiceFailure, "raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Failure(tt.err)
			assert.False(t, resp.IsOK())
			assert.Equal(t, StatusError, resp.Status)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.msg, resp.Message)
			assert.ErrorIs(t, resp.Err(), &Error{Kind: tt.kind})
		})
	}
}

func TestOK(t *testing.T) {
	resp := OK(42)
	assert.True(t, resp.IsOK())
	assert.Equal(t, 42, resp.Result)
	assert.NoError(t, resp.Err())
}

func TestResponse_JSON(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"nil result", OK(nil), `{"status":"ok","result":null}`},
		{"payload", OK(map[string]int{"stateId": 2}), `{"status":"ok","result":{"stateId":2}}`},
		{"failure", Failure(NewError(KindStaleState, "moved on")), `{"status":"error","kind":"StaleState","message":"moved on"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}
