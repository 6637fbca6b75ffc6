// Package httpapi exposes a dispatcher over HTTP using gin.
//
// Routes:
//
//	GET|POST|PUT /xtext-service/:serviceType   dispatch one service request
//	DELETE       /xtext-session                drop the caller's session
//	GET          /healthz                      liveness probe
//
// Request parameters are read from the query string and, for POST and PUT,
// from a form encoded body. The session id is carried in a cookie and a new
// one is issued when the client does not present it. Responses are the JSON
// encoding of core.Response with an HTTP status derived from the error kind.
package httpapi
