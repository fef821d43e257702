// Package delivery renders notification requests through whichever execution
// context is available.
//
// Requests pass the consent gate, then flow through an async pipeline: a
// bounded queue, a small worker pool, a token-bucket rate limit, and retry
// with exponential backoff. A request carrying a dedup tag replaces a queued
// undelivered request with the same tag instead of stacking behind it.
//
// # Sinks
//
// The pipeline prefers a background sink (Telegram) registered best-effort at
// start; registration failure degrades to the foreground console sink and is
// never fatal. A background send that exhausts its retries falls back to the
// foreground sink for that notification and arms one re-registration attempt.
package delivery
