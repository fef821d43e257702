package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "notifyd/pkg/logx"
)

// TelegramConfig configures the Telegram background sink.
type TelegramConfig struct {
	Token   string
	ChatID  int64
	Timeout time.Duration // per-call client timeout; 0 means default
}

// TelegramSink delivers through a Telegram bot: the notification body is sent
// to a configured chat, and the click-to-navigate URL rides along as an
// inline button so the platform routes the user's tap without any further
// involvement from the engine.
type TelegramSink struct {
	cfg TelegramConfig
	log logx.Logger

	mu  sync.Mutex
	bot *tele.Bot
}

func NewTelegramSink(cfg TelegramConfig, log logx.Logger) *TelegramSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{cfg: cfg, log: log}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Register constructs the bot, which validates the token against the API.
// Safe to call again after a failure.
func (s *TelegramSink) Register(ctx context.Context) error {
	_ = ctx
	if strings.TrimSpace(s.cfg.Token) == "" {
		return errors.New("telegram token is empty")
	}
	if s.cfg.ChatID == 0 {
		return errors.New("telegram chat id is not set")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return nil
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  s.cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return err
	}
	s.bot = b
	return nil
}

func (s *TelegramSink) Show(ctx context.Context, n Notification) error {
	s.mu.Lock()
	bot := s.bot
	s.mu.Unlock()
	if bot == nil {
		return errors.New("telegram sink not registered")
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	text := n.Title
	if n.Body != "" {
		text += "\n" + n.Body
	}

	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if n.URL != "" {
		markup := &tele.ReplyMarkup{}
		markup.Inline(markup.Row(markup.URL("Open", n.URL)))
		opt.ReplyMarkup = markup
	}

	_, err := bot.Send(&tele.Chat{ID: s.cfg.ChatID}, text, opt)
	return err
}
