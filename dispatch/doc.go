// Package dispatch implements the request dispatcher: the single entry point
// that turns a transport level request into exactly one core.Response.
//
// For every request the Dispatcher
//
//  1. parses and validates the raw parameters
//  2. resolves the service type in the registry
//  3. acquires the session and resolves the target DocumentState
//  4. rejects requests whose required state version is already stale
//  5. schedules the service on the engine lane of (session, resource)
//  6. commits staged document changes under the lane with a
//     compare-and-increment of the document version
//  7. maps the outcome to a success or error response
//
// Each dispatch is traced with OpenTelemetry and counted in Prometheus.
package dispatch
