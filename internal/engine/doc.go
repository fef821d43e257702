// Package engine is the orchestrator: it owns the subscription lifecycle for
// one process, branches on operating mode, reacts to identity changes, and
// turns record-level deltas into gated, deduplicated notifications.
package engine
