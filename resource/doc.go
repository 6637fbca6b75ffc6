// Package resource contains concrete implementations of core.ResourceHandler.
//
// The canonical ResourceResolver and ResourceHandler interfaces live in the
// core package. Implementations here map opaque resource ids to storage
// locations and move raw source bytes in and out of them:
//
//   - FileHandler serves resources from a base directory on disk
//   - InMemoryHandler keeps a fixed table of resources in process memory
//
// The badgerstore subpackage provides an embedded key/value backend.
//
// Resolution is a pure lookup. Handlers never consult or modify session
// state and are safe for concurrent use.
package resource
