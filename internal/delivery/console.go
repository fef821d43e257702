package delivery

import (
	"context"

	logx "notifyd/pkg/logx"
)

// ConsoleSink is the foreground fallback: notifications render as structured
// log lines in the current process. It always registers.
type ConsoleSink struct {
	log logx.Logger
}

func NewConsoleSink(log logx.Logger) *ConsoleSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ConsoleSink{log: log}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Register(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *ConsoleSink) Show(ctx context.Context, n Notification) error {
	_ = ctx
	s.log.Info("notification",
		logx.String("category", n.Category),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("url", n.URL),
		logx.String("tag", n.DedupTag),
	)
	return nil
}
