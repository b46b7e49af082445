package fyers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/ratelimit"
	applogger "TickVault/pkg/logger"
)

type fakeInstruments struct {
	byToken map[int64]models.Instrument
	gets    int
}

func (f *fakeInstruments) ListTradable(context.Context) ([]int64, error) { return nil, nil }
func (f *fakeInstruments) List(context.Context, int, int) ([]models.Instrument, error) {
	return nil, nil
}
func (f *fakeInstruments) Search(context.Context, string, int) ([]models.Instrument, error) {
	return nil, nil
}
func (f *fakeInstruments) Upsert(context.Context, []models.Instrument) (int, error) { return 0, nil }

func (f *fakeInstruments) Get(_ context.Context, token int64) (*models.Instrument, error) {
	f.gets++
	in, ok := f.byToken[token]
	if !ok {
		return nil, drepo.ErrNotFound
	}
	return &in, nil
}

func newTestClient(baseURL string) (*Client, *fakeInstruments) {
	store := &fakeInstruments{byToken: map[int64]models.Instrument{
		2885: {Token: 2885, Symbol: "RELIANCE-EQ", Exchange: "NSE"},
	}}
	c := New(Config{
		AppID:             "APP-100",
		AccessToken:       "tok",
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	}, store, ratelimit.New(), applogger.Nop())
	return c, store
}

func TestFetchHistoricalBars(t *testing.T) {
	var gotSymbol, gotRes, gotAuth, gotFmt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotSymbol, gotRes, gotFmt = q.Get("symbol"), q.Get("resolution"), q.Get("date_format")
		gotAuth = r.Header.Get("Authorization")
		_, _ = fmt.Fprint(w, `{"s":"ok","candles":[[1709264760,101,103,100,102,500],[1709264700,100,102,99,101,1000]]}`)
	}))
	defer srv.Close()

	c, store := newTestClient(srv.URL)
	from := time.Unix(1709264700, 0).UTC()
	for i := 0; i < 2; i++ {
		bars, err := c.FetchHistoricalBars(context.Background(), 2885, from, from.Add(time.Hour), drepo.Interval5m)
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, from, bars[0].Time)
		assert.Equal(t, int64(1000), bars[0].Volume)
	}

	assert.Equal(t, "NSE:RELIANCE-EQ", gotSymbol)
	assert.Equal(t, "5", gotRes)
	assert.Equal(t, "0", gotFmt)
	assert.Equal(t, "APP-100:tok", gotAuth)
	assert.Equal(t, 1, store.gets, "symbol lookups are cached")
}

func TestFetchHistoricalBarsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"s":"no_data","candles":[]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	bars, err := c.FetchHistoricalBars(context.Background(), 2885, time.Now().Add(-time.Hour), time.Now(), drepo.Interval1m)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchHistoricalBarsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"s":"error","code":-300,"message":"invalid symbol"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.FetchHistoricalBars(context.Background(), 2885, time.Now().Add(-time.Hour), time.Now(), drepo.Interval1m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid symbol")
}

func TestFetchHistoricalBarsUnknownInstrument(t *testing.T) {
	c, _ := newTestClient("http://unused")
	_, err := c.FetchHistoricalBars(context.Background(), 1, time.Now().Add(-time.Hour), time.Now(), drepo.Interval1m)
	assert.ErrorIs(t, err, drepo.ErrNotFound)
}

func TestUpdateDecoderVolumeDelta(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	d := &updateDecoder{
		tokens:     map[string]int64{"NSE:RELIANCE-EQ": 2885},
		lastVolume: make(map[int64]int64),
		now:        func() time.Time { return fixed },
	}

	ticks, err := d.decode(1, []byte(`{"symbol":"NSE:RELIANCE-EQ","ltp":2950.5,"vol_traded_today":1000,"bid_price":2950.4,"bid_size":10}`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, int64(0), ticks[0].Volume)
	assert.Equal(t, fixed, ticks[0].Time)
	require.NotNil(t, ticks[0].BidPrice)
	assert.Nil(t, ticks[0].AskPrice)

	ticks, err = d.decode(1, []byte(`[{"symbol":"NSE:RELIANCE-EQ","ltp":2951,"vol_traded_today":1250,"exch_feed_time":1709265600},{"symbol":"NSE:OTHER","ltp":1}]`))
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, int64(250), ticks[0].Volume)
	assert.Equal(t, time.Unix(1709265600, 0).UTC(), ticks[0].Time)

	_, err = d.decode(1, []byte(`not json`))
	assert.Error(t, err)
}
