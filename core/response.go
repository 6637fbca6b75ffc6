package core

import (
	"encoding/json"
	"errors"
)

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the outcome of exactly one dispatched request: either a
// success payload or a failure descriptor.
//
// Success encodes as {"status":"ok","result":...} with result always
// present (null for a nil result); failure as
// {"status":"error","kind":...,"message":...}.
type Response struct {
	Status  string    `json:"status"`
	Result  any       `json:"result"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

type okPayload struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

type errorPayload struct {
	Status  string    `json:"status"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.IsOK() {
		return json.Marshal(okPayload{Status: r.Status, Result: r.Result})
	}
	return json.Marshal(errorPayload{Status: r.Status, Kind: r.Kind, Message: r.Message})
}

// OK wraps a service result in a success response.
func OK(result any) Response {
	return Response{Status: StatusOK, Result: result}
}

// Failure converts err into an error response. Errors that are not *Error
// are reported as ServiceFailure carrying the error text.
func Failure(err error) Response {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		switch {
		case msg == "" && e.Err != nil:
			msg = e.Err.Error()
		case e.Err != nil:
			msg = msg + ": " + e.Err.Error()
		}
		if msg == "" {
			msg = string(e.Kind)
		}
		return Response{Status: StatusError, Kind: e.Kind, Message: msg}
	}
	return Response{Status: StatusError, Kind: KindServiceFailure, Message: err.Error()}
}

// IsOK reports whether the response carries a success payload.
func (r Response) IsOK() bool { return r.Status == StatusOK }

// Err returns the response as an *Error, or nil for success responses.
func (r Response) Err() error {
	if r.IsOK() {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Message}
}
