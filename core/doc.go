// Package core provides the foundational domain types and contracts used by
// xweb. It defines the core abstractions for:
//
//   - Requests and Responses (the transport agnostic dispatch contract)
//   - Sessions (per client editing contexts holding document states)
//   - DocumentStates (versioned, cached per resource analysis state)
//   - Services (pluggable units of work invoked by service type name)
//   - ServiceContext (the scoped execution view handed to a service)
//   - Pluggable stores for sessions and resource persistence
//
// The package keeps implementation concerns (scheduling, persistence,
// transport) out of scope and exposes small interfaces so backends can be
// swapped without touching calling code.
package core
