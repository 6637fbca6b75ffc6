// Package service contains the built-in document services and the Func
// adapter for exposing plain Go functions as core.Service.
//
// Built-in services operate on a *Document artifact cached in the session's
// DocumentState:
//
//	load         mutating   load persisted source into the document
//	revert       mutating   discard edits and reload persisted source
//	save         mutating   persist the document text and clear dirty
//	update       mutating   replace text fully or apply a delta
//	format       mutating   normalize whitespace
//	validate     read-only  report diagnostics from a Validator
//	assist       read-only  propose completions at the caret
//	occurrences  read-only  locate occurrences of the word at the caret
//
// RegisterDefaults installs all of them into a registry. Language specific
// analyses plug in by replacing the Validator or by registering additional
// services.
//
// Results carry a "stateId" which is the document version once the
// request's staged change has been committed. Clients send it back as
// requiredStateVersion to detect stale state.
package service
