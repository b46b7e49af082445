package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/logger"
	"TickVault/pkg/metrics"
)

type fakeSub struct {
	ch      chan models.Tick
	err     error
	closed  bool
	onTicks func()
}

func (s *fakeSub) Ticks() <-chan models.Tick {
	if s.onTicks != nil {
		s.onTicks()
	}
	return s.ch
}

func (s *fakeSub) Err() error   { return s.err }
func (s *fakeSub) Close() error { s.closed = true; return nil }

type scriptedStream struct {
	mu    sync.Mutex
	calls [][]int64
	next  func(n int) (drepo.Subscription, error)
}

func (s *scriptedStream) Subscribe(_ context.Context, tokens []int64) (drepo.Subscription, error) {
	s.mu.Lock()
	s.calls = append(s.calls, tokens)
	n := len(s.calls)
	s.mu.Unlock()
	return s.next(n)
}

type staticSource struct {
	mu     sync.Mutex
	tokens []int64
}

func (s *staticSource) StreamableInstruments(context.Context, int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, nil
}

func (s *staticSource) set(tokens []int64) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

type procRecorder struct {
	mu    sync.Mutex
	ticks []models.Tick
}

func (p *procRecorder) Process(_ context.Context, t models.Tick) error {
	p.mu.Lock()
	p.ticks = append(p.ticks, t)
	p.mu.Unlock()
	return nil
}

func (p *procRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

func closedSub(err error) *fakeSub {
	ch := make(chan models.Tick)
	close(ch)
	return &fakeSub{ch: ch, err: err}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Initial: 60 * time.Second, Max: 600 * time.Second}
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second, 600 * time.Second, 600 * time.Second}, got)
	b.Reset()
	assert.Equal(t, 60*time.Second, b.Next())
}

func TestSupervisorBackoffSequenceAndReset(t *testing.T) {
	clock := at(9, 0)
	var delays []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &scriptedStream{next: func(n int) (drepo.Subscription, error) {
		if n <= 3 {
			return nil, errors.New("dial: connection refused")
		}
		sub := closedSub(errors.New("websocket: close 1006 (abnormal closure)"))
		// streamed long enough to count as stable, then dropped
		sub.onTicks = func() { clock = clock.Add(3 * time.Minute) }
		return sub, nil
	}}
	s := NewSupervisor(SupervisorConfig{}, "kite", stream, &staticSource{tokens: []int64{1, 2}}, &procRecorder{}, metrics.Nop{}, logger.Nop())
	s.now = func() time.Time { return clock }
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		clock = clock.Add(d)
		if len(delays) == 4 {
			cancel()
		}
		return ctx.Err()
	}

	s.run(ctx)

	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 60 * time.Second}, delays)
}

func TestSupervisorNoResetWhenStreamDiesQuickly(t *testing.T) {
	var delays []time.Duration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &scriptedStream{next: func(int) (drepo.Subscription, error) {
		return closedSub(errors.New("unexpected frame")), nil
	}}
	s := NewSupervisor(SupervisorConfig{InitialBackoff: time.Second, MaxBackoff: 4 * time.Second}, "kite", stream,
		&staticSource{tokens: []int64{1}}, &procRecorder{}, metrics.Nop{}, logger.Nop())
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 4 {
			cancel()
		}
		return ctx.Err()
	}
	s.run(ctx)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}, delays)
}

func TestSupervisorIdleWhenNothingToStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &scriptedStream{next: func(int) (drepo.Subscription, error) { t.Fatal("should not subscribe"); return nil, nil }}
	s := NewSupervisor(SupervisorConfig{RefreshInterval: time.Minute}, "kite", stream, &staticSource{}, &procRecorder{}, metrics.Nop{}, logger.Nop())
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		cancel()
		return ctx.Err()
	}
	s.run(ctx)
	assert.Equal(t, []time.Duration{time.Minute}, slept)
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestSupervisorForwardsTicksAndStops(t *testing.T) {
	ch := make(chan models.Tick, 4)
	sub := &fakeSub{ch: ch}
	stream := &scriptedStream{next: func(int) (drepo.Subscription, error) { return sub, nil }}
	proc := &procRecorder{}
	s := NewSupervisor(SupervisorConfig{}, "fyers", stream, &staticSource{tokens: []int64{7, 8}}, proc, metrics.Nop{}, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStreaming)

	ch <- models.Tick{InstrumentToken: 7, Time: at(10, 0), LTP: 1}
	ch <- models.Tick{InstrumentToken: 8, Time: at(10, 0), LTP: 2}
	require.Eventually(t, func() bool { return proc.count() == 2 }, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.Equal(t, StateStreaming, st.State)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Subscribed)
	assert.Equal(t, "fyers", st.Broker)
	assert.Equal(t, int64(2), st.TicksDispatched)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, sub.closed)
	assert.False(t, s.Running())
	assert.Equal(t, StateIdle, s.Status().State)
	assert.NoError(t, s.Stop(ctx))
}

type gatedProc struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedProc) Process(context.Context, models.Tick) error {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func TestSupervisorRunningUntilLoopExits(t *testing.T) {
	stream := &scriptedStream{next: func(int) (drepo.Subscription, error) {
		ch := make(chan models.Tick, 1)
		ch <- models.Tick{InstrumentToken: 7, Time: at(10, 0), LTP: 1}
		return &fakeSub{ch: ch}, nil
	}}
	proc := &gatedProc{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSupervisor(SupervisorConfig{}, "kite", stream, &staticSource{tokens: []int64{7}}, proc, metrics.Nop{}, logger.Nop())

	require.NoError(t, s.Start(context.Background()))
	<-proc.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStreaming)

	close(proc.release)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	stream.mu.Lock()
	assert.Len(t, stream.calls, 1)
	stream.mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestSupervisorResubscribesOnSetChange(t *testing.T) {
	src := &staticSource{tokens: []int64{1, 2, 3, 4}}
	subs := make(chan *fakeSub, 4)
	stream := &scriptedStream{next: func(int) (drepo.Subscription, error) {
		sub := &fakeSub{ch: make(chan models.Tick)}
		subs <- sub
		return sub, nil
	}}
	s := NewSupervisor(SupervisorConfig{RefreshInterval: 10 * time.Millisecond}, "kite", stream, src, &procRecorder{}, metrics.Nop{}, logger.Nop())
	s.sleep = func(context.Context, time.Duration) error {
		t.Error("set change must not back off")
		return nil
	}

	require.NoError(t, s.Start(context.Background()))
	first := <-subs
	src.set([]int64{1, 2, 3, 9})
	second := <-subs

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.True(t, first.closed)
	assert.True(t, second.closed)
	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3, 9}, stream.calls[1])
}

func TestSetChanged(t *testing.T) {
	prev := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.False(t, SetChanged(prev, prev, 0.1))
	assert.False(t, SetChanged(prev, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 11}, 0.2))
	assert.True(t, SetChanged(prev, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 11}, 0.1))
	assert.False(t, SetChanged(prev, nil, 0.1))
	assert.True(t, SetChanged(nil, []int64{1}, 0.1))
}

func TestIsBenignClose(t *testing.T) {
	assert.True(t, IsBenignClose(errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")))
	assert.True(t, IsBenignClose(errors.New("read tcp: use of closed network connection")))
	assert.True(t, IsBenignClose(errStreamEnded))
	assert.False(t, IsBenignClose(errors.New("invalid access token")))
}
