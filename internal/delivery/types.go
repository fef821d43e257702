package delivery

import (
	"context"
	"time"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
}

// Notification is one delivery request.
//
// DedupTag, when set, must be stable per logical event (for example
// "order_<id>"): a notification queued behind an undelivered one with the
// same tag replaces it instead of stacking.
type Notification struct {
	Category string
	Title    string
	Body     string
	URL      string
	DedupTag string
}

// Sink renders notifications through one execution context.
//
// Register is called once at pipeline start; a sink that fails to register is
// skipped until a retry succeeds. Show must honor ctx. Click-to-navigate is
// the sink's concern: the URL travels in the notification payload and the
// sink's platform routes the user's click, fire-and-forget.
type Sink interface {
	Name() string
	Register(ctx context.Context) error
	Show(ctx context.Context, n Notification) error
}

// HistoryItem records one delivered notification for status inspection.
type HistoryItem struct {
	At    time.Time
	Title string
	Tag   string
	Sink  string
}

// PipelineEvent is emitted on the event bus for delivery lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type PipelineEvent struct {
	Category string    `json:"category"`
	Tag      string    `json:"tag,omitempty"`
	Sink     string    `json:"sink,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
