package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	applogger "TickVault/pkg/logger"
)

const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateStreaming  = "streaming"
	StateBackingOff = "backing_off"
)

var (
	ErrAlreadyStreaming = errors.New("streaming already running")
	errSetChanged       = errors.New("subscription set changed")
	errStreamEnded      = errors.New("stream closed by peer")
)

// StreamSource derives the instrument set to subscribe to.
type StreamSource interface {
	StreamableInstruments(ctx context.Context, limit int) ([]int64, error)
}

// TickProcessor receives every streamed tick.
type TickProcessor interface {
	Process(ctx context.Context, t models.Tick) error
}

// Backoff doubles a delay from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	cur     time.Duration
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.Initial
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Current is the delay Next would return.
func (b *Backoff) Current() time.Duration {
	if b.cur <= 0 {
		return b.Initial
	}
	return b.cur
}

func (b *Backoff) Reset() { b.cur = b.Initial }

// IsBenignClose reports errors that look like the provider hanging up,
// typically because the market is closed.
func IsBenignClose(err error) bool {
	if err == nil {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1006") || strings.Contains(msg, "connection") || strings.Contains(msg, "closed")
}

// SetChanged reports whether next differs from prev by more than threshold,
// measured as the symmetric difference over |prev|. An empty next set never
// counts as a change.
func SetChanged(prev, next []int64, threshold float64) bool {
	if len(next) == 0 {
		return false
	}
	if len(prev) == 0 {
		return true
	}
	a := make(map[int64]struct{}, len(prev))
	for _, t := range prev {
		a[t] = struct{}{}
	}
	b := make(map[int64]struct{}, len(next))
	diff := 0
	for _, t := range next {
		b[t] = struct{}{}
		if _, ok := a[t]; !ok {
			diff++
		}
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			diff++
		}
	}
	return float64(diff)/float64(len(a)) > threshold
}

type SupervisorConfig struct {
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	StableAfter     time.Duration
	RefreshInterval time.Duration
	ChangeThreshold float64
	MaxInstruments  int
}

// Supervisor keeps one push subscription alive: it reconnects with
// exponential backoff and rebuilds the subscription when the instrument set
// drifts.
type Supervisor struct {
	cfg     SupervisorConfig
	broker  string
	stream  drepo.MarketStream
	source  StreamSource
	proc    TickProcessor
	metrics drepo.Metrics
	l       *applogger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     string
	changedAt time.Time
	lastErr   string
	tokens    []int64
	backoff   Backoff
	cancel    context.CancelFunc
	done      chan struct{}

	dispatched atomic.Int64
}

func NewSupervisor(cfg SupervisorConfig, broker string, stream drepo.MarketStream, source StreamSource,
	proc TickProcessor, metrics drepo.Metrics, l *applogger.Logger) *Supervisor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 60 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 600 * time.Second
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = 2 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if cfg.ChangeThreshold <= 0 {
		cfg.ChangeThreshold = 0.1
	}
	if cfg.MaxInstruments <= 0 {
		cfg.MaxInstruments = 500
	}
	return &Supervisor{
		cfg:       cfg,
		broker:    broker,
		stream:    stream,
		source:    source,
		proc:      proc,
		metrics:   metrics,
		l:         l.Component("stream_supervisor"),
		now:       time.Now,
		sleep:     sleepCtx,
		state:     StateIdle,
		changedAt: time.Now(),
		backoff:   Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
	}
}

// Start launches the supervisor loop. It is detached from ctx's
// cancellation; use Stop to end it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStreaming
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.backoff.Reset()
	go func(done chan struct{}) {
		defer close(done)
		defer cancel()
		s.run(runCtx)
		s.setState(StateIdle)
		s.metrics.SetSubscribed(0)
		s.mu.Lock()
		s.tokens = nil
		s.cancel = nil
		s.mu.Unlock()
	}(s.done)
	s.l.Info("streaming started", applogger.String("broker", s.broker))
	return nil
}

// Stop closes the active subscription and waits for the loop to exit. It
// is a no-op when not running. The supervisor counts as running until the
// loop has exited, even if ctx ends first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.l.Info("streaming stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop streaming: %w", ctx.Err())
	}
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Supervisor) Status() models.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.StreamStatus{
		State:           s.state,
		Running:         s.cancel != nil,
		Broker:          s.broker,
		Subscribed:      len(s.tokens),
		RetryDelay:      s.backoff.Current().String(),
		LastError:       s.lastErr,
		StateChangedAt:  s.changedAt,
		TicksDispatched: s.dispatched.Load(),
	}
}

func (s *Supervisor) run(ctx context.Context) {
	for ctx.Err() == nil {
		s.setState(StateConnecting)
		tokens, err := s.source.StreamableInstruments(ctx, s.cfg.MaxInstruments)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, fmt.Errorf("load instruments: %w", err))
			continue
		}
		if len(tokens) == 0 {
			s.setState(StateIdle)
			s.l.Warn("no instruments to stream")
			if s.sleep(ctx, s.cfg.RefreshInterval) != nil {
				return
			}
			continue
		}

		sub, err := s.stream.Subscribe(ctx, tokens)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, fmt.Errorf("subscribe: %w", err))
			continue
		}

		s.mu.Lock()
		s.tokens = tokens
		s.lastErr = ""
		s.mu.Unlock()
		s.metrics.SetSubscribed(len(tokens))
		s.setState(StateStreaming)
		s.l.Info("streaming", applogger.Int("instruments", len(tokens)))

		startedAt := s.now()
		err = s.pump(ctx, sub, tokens)
		if cerr := sub.Close(); cerr != nil {
			s.l.Debug("close subscription", applogger.Error(cerr))
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSetChanged) {
			s.l.Info("instrument set changed, resubscribing")
			continue
		}
		if s.now().Sub(startedAt) >= s.cfg.StableAfter {
			s.mu.Lock()
			s.backoff.Reset()
			s.mu.Unlock()
		}
		s.fail(ctx, err)
	}
}

// pump forwards ticks until the subscription ends, ctx ends or the
// instrument set drifts past the threshold.
func (s *Supervisor) pump(ctx context.Context, sub drepo.Subscription, tokens []int64) error {
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()
	ticks := sub.Ticks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return errStreamEnded
			}
			if err := s.proc.Process(ctx, t); err != nil {
				s.l.Debug("tick rejected", applogger.Int64("instrument_token", t.InstrumentToken), applogger.Error(err))
				continue
			}
			s.dispatched.Add(1)
		case <-refresh.C:
			next, err := s.source.StreamableInstruments(ctx, s.cfg.MaxInstruments)
			if err != nil {
				s.l.Warn("refresh instrument set", applogger.Error(err))
				continue
			}
			if SetChanged(tokens, next, s.cfg.ChangeThreshold) {
				return errSetChanged
			}
		}
	}
}

// fail logs err by severity and waits out the next backoff delay.
func (s *Supervisor) fail(ctx context.Context, err error) {
	s.mu.Lock()
	delay := s.backoff.Next()
	s.lastErr = err.Error()
	s.mu.Unlock()

	if IsBenignClose(err) {
		s.l.Info("stream closed, market likely closed", applogger.Error(err), applogger.Duration("retry_in", delay))
	} else {
		s.metrics.RecordError("stream")
		s.l.Error("stream failed", applogger.Error(err), applogger.Duration("retry_in", delay))
	}
	s.setState(StateBackingOff)
	_ = s.sleep(ctx, delay)
}

func (s *Supervisor) setState(state string) {
	s.mu.Lock()
	if s.state != state {
		s.state = state
		s.changedAt = s.now()
	}
	s.mu.Unlock()
	s.metrics.SetStreamState(state)
}
