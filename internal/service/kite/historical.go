package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	pkghttp "TickVault/pkg/http"
	applogger "TickVault/pkg/logger"
)

const (
	paramLayout  = "2006-01-02 15:04:05"
	candleLayout = "2006-01-02T15:04:05-0700"
)

type intervalSpec struct {
	token   string
	maxDays int
}

// Kite rejects historical requests spanning more than maxDays.
var intervals = map[drepo.Interval]intervalSpec{
	drepo.Interval1m:  {"minute", 60},
	drepo.Interval5m:  {"5minute", 100},
	drepo.Interval15m: {"15minute", 200},
	drepo.Interval1h:  {"60minute", 400},
	drepo.Interval1d:  {"day", 2000},
}

type historicalResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Data      struct {
		Candles [][]json.RawMessage `json:"candles"`
	} `json:"data"`
}

// FetchHistoricalBars splits [from, to] into chunks Kite accepts and returns
// the bars in time order with duplicates at chunk edges removed.
func (c *Client) FetchHistoricalBars(ctx context.Context, token int64, from, to time.Time, iv drepo.Interval) ([]models.Bar, error) {
	spec, ok := intervals[iv]
	if !ok {
		return nil, fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, iv)
	}
	if to.Before(from) {
		return nil, nil
	}

	seen := make(map[int64]struct{})
	var bars []models.Bar
	for _, ch := range chunks(from, to, time.Duration(spec.maxDays)*24*time.Hour) {
		got, err := c.fetchChunk(ctx, token, ch[0], ch[1], spec.token)
		if err != nil {
			return nil, err
		}
		for _, b := range got {
			key := b.Time.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			bars = append(bars, b)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	c.l.Debug("historical bars fetched",
		applogger.Int64("instrument_token", token),
		applogger.String("interval", iv.String()),
		applogger.Int("bars", len(bars)))
	return bars, nil
}

func (c *Client) fetchChunk(ctx context.Context, token int64, from, to time.Time, ivToken string) ([]models.Bar, error) {
	var resp historicalResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     fmt.Sprintf("%s/instruments/historical/%d/%s", c.cfg.BaseURL, token, ivToken),
		Headers: c.headers(),
		QueryParams: map[string][]string{
			"from": {from.In(ist).Format(paramLayout)},
			"to":   {to.In(ist).Format(paramLayout)},
			"oi":   {"1"},
		},
	}, &resp)
	if err != nil {
		var se *pkghttp.StatusError
		if errors.As(err, &se) {
			var body historicalResponse
			if json.Unmarshal(se.Body, &body) == nil && body.Message != "" {
				return nil, fmt.Errorf("kite historical %d: %s (%s): %w", token, body.Message, body.ErrorType, err)
			}
		}
		return nil, fmt.Errorf("kite historical %d: %w", token, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("kite historical %d: %s", token, resp.Message)
	}

	bars := make([]models.Bar, 0, len(resp.Data.Candles))
	for _, row := range resp.Data.Candles {
		b, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("kite historical %d: %w", token, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseCandle reads [time, open, high, low, close, volume, oi?].
func parseCandle(row []json.RawMessage) (models.Bar, error) {
	if len(row) < 6 {
		return models.Bar{}, fmt.Errorf("candle has %d fields", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return models.Bar{}, fmt.Errorf("candle time: %w", err)
	}
	t, err := time.Parse(candleLayout, ts)
	if err != nil {
		return models.Bar{}, fmt.Errorf("candle time %q: %w", ts, err)
	}

	nums := make([]float64, len(row)-1)
	for i, raw := range row[1:] {
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("candle field %d: %w", i+1, err)
		}
		nums[i] = v
	}
	b := models.Bar{
		Time:   t.UTC(),
		Open:   nums[0],
		High:   nums[1],
		Low:    nums[2],
		Close:  nums[3],
		Volume: int64(nums[4]),
	}
	if len(nums) > 5 {
		b.OpenInterest = int64(nums[5])
	}
	return b, nil
}

// chunks splits [from, to] into inclusive windows no longer than max.
func chunks(from, to time.Time, max time.Duration) [][2]time.Time {
	var out [][2]time.Time
	for cur := from; !cur.After(to); {
		end := cur.Add(max)
		if end.After(to) {
			end = to
		}
		out = append(out, [2]time.Time{cur, end})
		if !end.Before(to) {
			break
		}
		cur = end.Add(time.Second)
	}
	return out
}
