package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
)

type tickKey struct {
	token int64
	ts    time.Time
}

type recomputeCall struct {
	iv       drepo.Interval
	from, to time.Time
}

// memStore keeps ticks keyed by (token, time) so rewrites replace, and
// aggregates them into candles on RecomputeAggregate like the real engine.
type memStore struct {
	mu         sync.Mutex
	ticks      map[tickKey]models.Tick
	candles    map[drepo.Interval]map[tickKey]models.Candle
	recomputes []recomputeCall
	writes     int
	writeErr   error
	queryErr   error
}

func newMemStore() *memStore {
	return &memStore{
		ticks:   make(map[tickKey]models.Tick),
		candles: make(map[drepo.Interval]map[tickKey]models.Candle),
	}
}

func (m *memStore) BulkWriteTicks(_ context.Context, ticks []models.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	for _, t := range ticks {
		m.ticks[tickKey{t.InstrumentToken, t.Time.UTC()}] = t
	}
	return nil
}

func (m *memStore) QueryTicks(_ context.Context, token int64, from, to time.Time, limit int) ([]models.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Tick
	for k, t := range m.ticks {
		if k.token == token && !k.ts.Before(from) && !k.ts.After(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) QueryCandles(_ context.Context, token int64, iv drepo.Interval, from, to time.Time) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []models.Candle
	for k, c := range m.candles[iv] {
		if k.token == token && !k.ts.Before(from) && !k.ts.After(to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

func (m *memStore) RecomputeAggregate(_ context.Context, iv drepo.Interval, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputes = append(m.recomputes, recomputeCall{iv, from, to})
	d := iv.Duration()
	if !to.After(from) {
		return drepo.ErrWindowTooSmall
	}
	from = from.Truncate(d)
	if end := to.Truncate(d); end.Before(to) {
		to = end.Add(d)
	}
	type acc struct {
		c           models.Candle
		first, last time.Time
	}
	accs := make(map[tickKey]*acc)
	for k, t := range m.ticks {
		if k.ts.Before(from) || !k.ts.Before(to) {
			continue
		}
		b := tickKey{k.token, k.ts.Truncate(d)}
		a, ok := accs[b]
		if !ok {
			a = &acc{c: models.Candle{Bucket: b.ts, InstrumentToken: k.token, Open: t.LTP, High: t.LTP, Low: t.LTP, Close: t.LTP}, first: k.ts, last: k.ts}
			accs[b] = a
		} else {
			if k.ts.Before(a.first) {
				a.first, a.c.Open = k.ts, t.LTP
			}
			if k.ts.After(a.last) {
				a.last, a.c.Close = k.ts, t.LTP
			}
			if t.LTP > a.c.High {
				a.c.High = t.LTP
			}
			if t.LTP < a.c.Low {
				a.c.Low = t.LTP
			}
		}
		a.c.Volume += t.Volume
	}
	if m.candles[iv] == nil {
		m.candles[iv] = make(map[tickKey]models.Candle)
	}
	for k, a := range accs {
		m.candles[iv][k] = a.c
	}
	return nil
}

func (m *memStore) recomputedIntervals() []drepo.Interval {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]drepo.Interval, len(m.recomputes))
	for i, c := range m.recomputes {
		out[i] = c.iv
	}
	return out
}

// seed writes one tick per bucket start and aggregates it.
func (m *memStore) seed(token int64, iv drepo.Interval, buckets ...time.Time) {
	for _, b := range buckets {
		_ = m.BulkWriteTicks(context.Background(), []models.Tick{{Time: b, InstrumentToken: token, LTP: 100, Volume: 1}})
		_ = m.RecomputeAggregate(context.Background(), iv, b, b.Add(iv.Duration()))
	}
}

type fetchCall struct {
	token    int64
	from, to time.Time
	iv       drepo.Interval
}

// gridProvider returns one bar per interval step in [from, to] unless
// missing says otherwise.
type gridProvider struct {
	mu      sync.Mutex
	calls   []fetchCall
	missing func(t time.Time) bool
	err     error
}

func (p *gridProvider) FetchHistoricalBars(_ context.Context, token int64, from, to time.Time, iv drepo.Interval) ([]models.Bar, error) {
	p.mu.Lock()
	p.calls = append(p.calls, fetchCall{token, from, to, iv})
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	d := iv.Duration()
	var bars []models.Bar
	for t := from.Truncate(d); !t.After(to); t = t.Add(d) {
		if t.Before(from) || (p.missing != nil && p.missing(t)) {
			continue
		}
		bars = append(bars, models.Bar{Time: t, Open: 10, High: 12, Low: 9, Close: 11, Volume: 500})
	}
	return bars, nil
}

func (p *gridProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type memStatusStore struct {
	mu        sync.Mutex
	status    map[int64]*models.BackfillStatus
	upserts   []int64
	getErr    error
	upsertErr error
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{status: make(map[int64]*models.BackfillStatus)}
}

func (s *memStatusStore) GetStatus(_ context.Context, token int64) (*models.BackfillStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.status[token], nil
}

func (s *memStatusStore) UpsertStatus(_ context.Context, token int64, from, to time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, token)
	s.status[token] = &models.BackfillStatus{
		InstrumentToken:    token,
		LastBackfilledDate: to,
		LastBackfilledFrom: from,
		LastBackfilledTo:   to,
		CandleCount:        count,
	}
	return nil
}

type memInstrumentStore struct {
	tradable []int64
	byToken  map[int64]models.Instrument
	upserted []models.Instrument
	gets     int
	listErr  error
}

func (s *memInstrumentStore) ListTradable(context.Context) ([]int64, error) {
	return s.tradable, s.listErr
}

func (s *memInstrumentStore) List(_ context.Context, limit, offset int) ([]models.Instrument, error) {
	var out []models.Instrument
	for _, i := range s.byToken {
		out = append(out, i)
	}
	return out, nil
}

func (s *memInstrumentStore) Search(context.Context, string, int) ([]models.Instrument, error) {
	return nil, nil
}

func (s *memInstrumentStore) Get(_ context.Context, token int64) (*models.Instrument, error) {
	s.gets++
	i, ok := s.byToken[token]
	if !ok {
		return nil, drepo.ErrNotFound
	}
	return &i, nil
}

func (s *memInstrumentStore) Upsert(_ context.Context, list []models.Instrument) (int, error) {
	s.upserted = append(s.upserted, list...)
	return len(list), nil
}

var errBoom = errors.New("boom")
