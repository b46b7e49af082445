package usecase

import (
	"context"
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

func newTestReader(store *memStore, p drepo.HistoricalProvider) *CandleReader {
	b := NewBackfiller(p, store, store, metrics.Nop{}, logger.Nop())
	return NewCandleReader(store, b, metrics.Nop{}, logger.Nop())
}

// blockingFiller parks every backfill until release closes or ctx ends.
type blockingFiller struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingFiller() *blockingFiller {
	return &blockingFiller{entered: make(chan struct{}), release: make(chan struct{})}
}

func (f *blockingFiller) BackfillGap(ctx context.Context, _ int64, _, _ time.Time, _ drepo.Interval) (int, error) {
	f.once.Do(func() { close(f.entered) })
	select {
	case <-f.release:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestGetCandlesFillsGaps(t *testing.T) {
	store := newMemStore()
	store.seed(1, drepo.Interval1m, at(10, 0), at(10, 1), at(10, 5))
	p := &gridProvider{}
	r := newTestReader(store, p)

	res, err := r.GetCandles(context.Background(), GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 6), Interval: drepo.Interval1m})
	require.NoError(t, err)

	assert.Equal(t, 7, res.Count)
	assert.Equal(t, 2, res.GapsFound)
	assert.Equal(t, 4, res.BarsBackfilled)
	assert.Empty(t, DetectGaps(res.Candles, at(10, 0), at(10, 6), drepo.Interval1m))

	require.Len(t, p.calls, 2)
	assert.Equal(t, fetchCall{1, at(10, 2), at(10, 4), drepo.Interval1m}, p.calls[0])
	assert.Equal(t, fetchCall{1, at(10, 6), at(10, 6), drepo.Interval1m}, p.calls[1])
}

func TestGetCandlesLeavesProviderHolesOpen(t *testing.T) {
	store := newMemStore()
	store.seed(1, drepo.Interval1m, at(10, 0), at(10, 5))
	p := &gridProvider{missing: func(ts time.Time) bool { return ts.Before(at(10, 3)) }}
	r := newTestReader(store, p)

	res, err := r.GetCandles(context.Background(), GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 5), Interval: drepo.Interval1m})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Count)
	assert.Equal(t, []models.Gap{{Start: at(10, 1), End: at(10, 2)}}, DetectGaps(res.Candles, at(10, 0), at(10, 5), drepo.Interval1m))
}

func TestGetCandlesNoGapsSkipsProvider(t *testing.T) {
	store := newMemStore()
	store.seed(1, drepo.Interval1m, at(10, 0), at(10, 1), at(10, 2))
	p := &gridProvider{}
	res, err := newTestReader(store, p).GetCandles(context.Background(),
		GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 2), Interval: drepo.Interval1m})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Zero(t, res.GapsFound)
	assert.Zero(t, p.callCount())
}

func TestGetCandlesProviderErrorFailsRead(t *testing.T) {
	r := newTestReader(newMemStore(), &gridProvider{err: errBoom})
	_, err := r.GetCandles(context.Background(), GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 5), Interval: drepo.Interval1m})
	assert.ErrorIs(t, err, errBoom)
}

func TestGetCandlesValidation(t *testing.T) {
	r := newTestReader(newMemStore(), &gridProvider{})
	ctx := context.Background()

	_, err := r.GetCandles(ctx, GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 5), Interval: "3m"})
	assert.ErrorIs(t, err, drepo.ErrUnknownInterval)

	_, err = r.GetCandles(ctx, GetCandlesParams{InstrumentToken: 1, From: at(10, 5), To: at(10, 0), Interval: drepo.Interval1m})
	assert.Error(t, err)

	_, err = r.GetCandles(ctx, GetCandlesParams{From: at(10, 0), To: at(10, 5), Interval: drepo.Interval1m})
	assert.Error(t, err)
}

func TestGetCandlesConcurrentReadersBackfillOnce(t *testing.T) {
	store := newMemStore()
	p := &gridProvider{}
	r := newTestReader(store, p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// different ranges so singleflight does not merge them
			_, err := r.GetCandles(context.Background(), GetCandlesParams{
				InstrumentToken: 1, From: at(10, 0), To: at(10, 9).Add(time.Duration(i) * time.Second), Interval: drepo.Interval1m,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// whoever takes the instrument lock first fills 10:00..10:09, the rest
	// re-detect under the lock and find nothing missing
	assert.Equal(t, 1, p.callCount())
	c, _ := store.QueryCandles(context.Background(), 1, drepo.Interval1m, at(10, 0), at(10, 9))
	assert.Len(t, c, 10)
}

func TestGetCandlesSharedReadSurvivesCallerCancel(t *testing.T) {
	f := newBlockingFiller()
	r := NewCandleReader(newMemStore(), f, metrics.Nop{}, logger.Nop())
	p := GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 4), Interval: drepo.Interval1m}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.GetCandles(leaderCtx, p)
		leaderErr <- err
	}()
	<-f.entered

	type result struct {
		res *GetCandlesResult
		err error
	}
	follower := make(chan result, 1)
	go func() {
		res, err := r.GetCandles(context.Background(), p)
		follower <- result{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(f.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.res.GapsFound)
}

func TestGetCandlesSharedReadIsBounded(t *testing.T) {
	r := NewCandleReader(newMemStore(), newBlockingFiller(), metrics.Nop{}, logger.Nop())
	r.timeout = 20 * time.Millisecond

	_, err := r.GetCandles(context.Background(), GetCandlesParams{InstrumentToken: 1, From: at(10, 0), To: at(10, 4), Interval: drepo.Interval1m})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
