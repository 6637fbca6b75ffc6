// Package session houses concrete implementations of the core.SessionStore.
// The interface itself (and the Session / DocumentState types) live in the
// core package to centralize domain contracts. Keeping only implementations
// here prevents higher level packages (engine, dispatch) from depending on a
// concrete storage.
package session
