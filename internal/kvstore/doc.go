// Package kvstore provides the engine's local persistence surface: a string
// key/value store in two scopes.
//
// The durable scope (sqlite or file driver) survives restarts and holds the
// already-notified id sets, category enable flags, and the permanent
// "never ask again" choice. The session scope is an in-memory store that
// vanishes with the process and holds per-session flags only.
package kvstore
