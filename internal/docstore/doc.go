// Package docstore is the document-store collaborator: named collections with
// one-shot ordered queries, live subscriptions delivering change-annotated
// snapshots, and a single write path.
//
// Two implementations ship: an in-memory store and a sqlite-backed one. Both
// share the same live-query fanout, so snapshot ordering and Stop() semantics
// are identical. Within one subscription snapshots arrive strictly in
// delivery order; nothing is promised across subscriptions.
package docstore
