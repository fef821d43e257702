// Package logx wraps zerolog behind a small Logger/Service pair.
//
// The Service owns the configured sinks (console, file) and can swap them at
// runtime via Apply(); Loggers handed out by the Service stay live across
// those swaps. The zero Logger is a no-op, which keeps optional logging
// plumbing out of constructors.
package logx
