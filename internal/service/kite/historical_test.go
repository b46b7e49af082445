package kite

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/ratelimit"
	applogger "TickVault/pkg/logger"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		APIKey:            "key",
		AccessToken:       "tok",
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	}, ratelimit.New(), applogger.Nop())
}

func TestFetchHistoricalBars(t *testing.T) {
	var gotPath, gotAuth, gotVersion, gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Kite-Version")
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"candles":[
			["2024-03-01T09:16:00+0530",101,103,100,102,500,10],
			["2024-03-01T09:15:00+0530",100,102,99,101,1000,10]
		]}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	from := time.Date(2024, 3, 1, 3, 45, 0, 0, time.UTC)
	bars, err := c.FetchHistoricalBars(context.Background(), 256265, from, from.Add(time.Hour), drepo.Interval1m)
	require.NoError(t, err)

	assert.Equal(t, "/instruments/historical/256265/minute", gotPath)
	assert.Equal(t, "token key:tok", gotAuth)
	assert.Equal(t, "3", gotVersion)
	assert.Equal(t, "2024-03-01 09:15:00", gotFrom)
	assert.Equal(t, "2024-03-01 10:15:00", gotTo)

	require.Len(t, bars, 2)
	assert.Equal(t, from, bars[0].Time, "sorted and converted to UTC")
	assert.Equal(t, time.UTC, bars[0].Time.Location())
	assert.Equal(t, int64(1000), bars[0].Volume)
	assert.Equal(t, int64(10), bars[0].OpenInterest)
	assert.Equal(t, 102.0, bars[1].Close)
}

func TestFetchHistoricalBarsChunksLongRanges(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = fmt.Fprint(w, `{"status":"success","data":{"candles":[["2024-01-01T09:15:00+0530",1,1,1,1,1]]}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := c.FetchHistoricalBars(context.Background(), 1, from, from.AddDate(0, 0, 150), drepo.Interval1m)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "60 day chunks")
	assert.Len(t, bars, 1, "duplicate bars across chunks collapse")
}

func TestFetchHistoricalBarsSurfacesKiteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `{"status":"error","message":"Incorrect api_key or access_token.","error_type":"TokenException"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.FetchHistoricalBars(context.Background(), 1, time.Now().Add(-time.Hour), time.Now(), drepo.Interval5m)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "TokenException"))
}

func TestFetchHistoricalBarsUnknownInterval(t *testing.T) {
	c := newTestClient("http://unused")
	_, err := c.FetchHistoricalBars(context.Background(), 1, time.Now(), time.Now(), drepo.Interval("3m"))
	assert.ErrorIs(t, err, drepo.ErrUnknownInterval)
}

func TestChunks(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := chunks(from, from.Add(50*time.Hour), 24*time.Hour)
	require.Len(t, got, 3)
	assert.Equal(t, from, got[0][0])
	assert.Equal(t, from.Add(24*time.Hour), got[0][1])
	assert.Equal(t, from.Add(24*time.Hour+time.Second), got[1][0])
	assert.Equal(t, from.Add(50*time.Hour), got[2][1])

	assert.Len(t, chunks(from, from, time.Hour), 1)
}
