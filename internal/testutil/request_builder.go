package testutil

import (
	"strconv"

	"github.com/hupe1980/xweb/core"
)

// RequestBuilder provides a fluent helper for constructing raw request
// parameters in tests.
// Example:
//
//	params := NewRequestBuilder("update").Session("s1").Resource("doc.txt").RequiredVersion(0).Param("text", "abc").Params()
//
// Chain only the parts you need; session "s1" and resource "doc.txt" are
// the defaults.
type RequestBuilder struct {
	params map[string]string
}

// NewRequestBuilder creates a builder for the given service type.
func NewRequestBuilder(serviceType string) *RequestBuilder {
	return &RequestBuilder{params: map[string]string{
		core.ParamSessionID:   "s1",
		core.ParamResourceID:  "doc.txt",
		core.ParamServiceType: serviceType,
	}}
}

// Session sets the session id (chainable).
func (b *RequestBuilder) Session(id string) *RequestBuilder {
	b.params[core.ParamSessionID] = id
	return b
}

// Resource sets the resource id (chainable).
func (b *RequestBuilder) Resource(id string) *RequestBuilder {
	b.params[core.ParamResourceID] = id
	return b
}

// RequiredVersion sets the required state version (chainable).
func (b *RequestBuilder) RequiredVersion(v int64) *RequestBuilder {
	b.params[core.ParamRequiredStateVersion] = strconv.FormatInt(v, 10)
	return b
}

// Param sets a service parameter (chainable).
func (b *RequestBuilder) Param(key, value string) *RequestBuilder {
	b.params[key] = value
	return b
}

// Without removes a key, e.g. to produce an incomplete request (chainable).
func (b *RequestBuilder) Without(key string) *RequestBuilder {
	delete(b.params, key)
	return b
}

// Params returns a copy of the raw parameters.
func (b *RequestBuilder) Params() map[string]string {
	out := make(map[string]string, len(b.params))
	for k, v := range b.params {
		out[k] = v
	}
	return out
}

// Request parses the parameters into a core.Request and panics on error.
func (b *RequestBuilder) Request() core.Request {
	req, err := core.ParseRequest(b.Params())
	if err != nil {
		panic(err)
	}
	return req
}
