package delivery

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notifyd/internal/consent"
	"notifyd/internal/eventbus"
	logx "notifyd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("delivery disabled")
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery stopped")
)

type job struct {
	mu sync.Mutex
	n  Notification
	// superseded is set when a newer notification with the same dedup tag
	// replaced this one while it was still queued.
	superseded bool
}

func (j *job) payload() (Notification, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.n, !j.superseded
}

// Service implements the delivery pipeline:
// consent gate + queue + worker pool + rate limit + retry + tag replacement.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	gate *consent.Gate
	bus  eventbus.Bus

	background Sink // optional
	foreground Sink

	cfg     Config
	limiter *rate.Limiter

	// backgroundReady is true once the background sink registered. armed
	// requests one re-registration attempt on the next delivery; it is set
	// by a fresh failure and cleared when a retry succeeds.
	backgroundReady bool
	armed           bool

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan *job
	pending  map[string]*job // dedup tag -> queued job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, gate *consent.Gate, background, foreground Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:        log,
		gate:       gate,
		bus:        bus,
		background: background,
		foreground: foreground,
		pending:    map[string]*job{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan *job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	background := s.background
	s.mu.Unlock()

	// Best-effort background registration. Failure degrades to
	// foreground-only delivery; never fatal.
	if background != nil {
		if err := background.Register(ctx); err != nil {
			s.log.Warn("background sink registration failed; foreground only",
				logx.String("sink", background.Name()), logx.Err(err))
			s.mu.Lock()
			s.armed = true
			s.mu.Unlock()
		} else {
			s.log.Info("background sink registered", logx.String("sink", background.Name()))
			s.mu.Lock()
			s.backgroundReady = true
			s.mu.Unlock()
		}
	}

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in delivery worker", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new notifies.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	// Now it's safe to close the queue.
	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	// Wait for workers.
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.pending = map[string]*job{}
	s.mu.Unlock()
}

// Notify enqueues a delivery request. It silently no-ops (returning nil) when
// consent gating filters the notification: a missed notification is low
// severity, a surfaced error is not.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	// Consent gate: platform permission plus per-category flag.
	if s.gate != nil {
		if s.gate.Permission() != consent.PermissionGranted {
			s.log.Debug("notification suppressed: permission not granted", logx.String("category", n.Category))
			return nil
		}
		if n.Category != "" && !s.gate.CategoryEnabled(ctx, n.Category) {
			s.log.Debug("notification suppressed: category disabled", logx.String("category", n.Category))
			return nil
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue

	// Tag replacement: a queued undelivered notification with the same tag is
	// superseded in place rather than stacked.
	if n.DedupTag != "" {
		if prev, ok := s.pending[n.DedupTag]; ok {
			prev.mu.Lock()
			if !prev.superseded {
				prev.n = n
				prev.mu.Unlock()
				s.mu.Unlock()
				s.publish(eventbus.TypeDeliveryReplaced, n, "", nil)
				return nil
			}
			prev.mu.Unlock()
		}
	}

	j := &job{n: n}
	if n.DedupTag != "" {
		s.pending[n.DedupTag] = j
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	s.publish(eventbus.TypeDeliveryQueued, n, "", nil)

	select {
	case q <- j:
		return nil
	default:
		s.mu.Lock()
		if n.DedupTag != "" && s.pending[n.DedupTag] == j {
			delete(s.pending, n.DedupTag)
		}
		s.mu.Unlock()
		s.publish(eventbus.TypeDeliveryDropped, n, "", ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(item HistoryItem) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop() {
	// Copy stable references.
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.deliver(runCtx, j)
	}
}

func (s *Service) deliver(runCtx context.Context, j *job) {
	// Claim the job: mark superseded so a late Notify with the same tag
	// enqueues fresh instead of mutating a payload already in flight.
	j.mu.Lock()
	n := j.n
	j.superseded = true
	j.mu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	if n.DedupTag != "" && s.pending[n.DedupTag] == j {
		delete(s.pending, n.DedupTag)
	}
	s.mu.Unlock()

	if runCtx == nil {
		runCtx = context.Background()
	}

	// Rate limit (honor cancellation).
	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	sink := s.pickSink(runCtx)
	if sink == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := sink.Show(callCtx, n)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), Title: n.Title, Tag: n.DedupTag, Sink: sink.Name()})
			s.publish(eventbus.TypeDeliverySent, n, sink.Name(), nil)
			return
		}
		lastErr = err
		s.log.Debug("delivery attempt failed", logx.String("sink", sink.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		if !sleepFor(runCtx, retryDelay(cfg, attempt)) {
			return
		}
	}

	// Background sink exhausted its attempts: degrade, arm a re-registration
	// retry, and fall back to the foreground sink once.
	if sink == s.background {
		s.mu.Lock()
		s.backgroundReady = false
		s.armed = true
		fg := s.foreground
		s.mu.Unlock()

		if fg != nil {
			callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
			err := fg.Show(callCtx, n)
			cancel()
			if err == nil {
				s.appendHistory(HistoryItem{At: time.Now(), Title: n.Title, Tag: n.DedupTag, Sink: fg.Name()})
				s.publish(eventbus.TypeDeliverySent, n, fg.Name(), nil)
				return
			}
			lastErr = err
		}
	}

	if lastErr != nil {
		s.publish(eventbus.TypeDeliveryFailed, n, sink.Name(), lastErr)
	}
}

// pickSink prefers the background sink when registered, retrying a failed
// registration once when armed.
func (s *Service) pickSink(ctx context.Context) Sink {
	s.mu.Lock()
	background := s.background
	ready := s.backgroundReady
	armed := s.armed
	s.armed = false
	fg := s.foreground
	s.mu.Unlock()

	if background == nil {
		return fg
	}
	if ready {
		return background
	}
	if armed {
		if err := background.Register(ctx); err != nil {
			// Fresh failure re-arms the retry for a later delivery.
			s.log.Debug("background sink re-registration failed", logx.String("sink", background.Name()), logx.Err(err))
			s.mu.Lock()
			s.armed = true
			s.mu.Unlock()
		} else {
			s.log.Info("background sink registered after retry", logx.String("sink", background.Name()))
			s.mu.Lock()
			s.backgroundReady = true
			s.mu.Unlock()
			return background
		}
	}
	return fg
}

func (s *Service) publish(typ string, n Notification, sink string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := PipelineEvent{Category: n.Category, Tag: n.DedupTag, Sink: sink, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
