package fyers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	pkghttp "TickVault/pkg/http"
)

var resolutions = map[drepo.Interval]string{
	drepo.Interval1m:  "1",
	drepo.Interval5m:  "5",
	drepo.Interval15m: "15",
	drepo.Interval1h:  "60",
	drepo.Interval1d:  "D",
}

const (
	maxIntradaySpan = 100 * 24 * time.Hour
	maxDailySpan    = 366 * 24 * time.Hour
)

type historyResponse struct {
	S       string      `json:"s"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Candles [][]float64 `json:"candles"`
}

func (c *Client) FetchHistoricalBars(ctx context.Context, token int64, from, to time.Time, iv drepo.Interval) ([]models.Bar, error) {
	res, ok := resolutions[iv]
	if !ok {
		return nil, fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, iv)
	}
	if to.Before(from) {
		return nil, nil
	}
	sym, err := c.symbol(ctx, token)
	if err != nil {
		return nil, err
	}

	span := maxIntradaySpan
	if iv == drepo.Interval1d {
		span = maxDailySpan
	}

	seen := make(map[int64]struct{})
	var bars []models.Bar
	for cur := from; !cur.After(to); {
		end := cur.Add(span)
		if end.After(to) {
			end = to
		}
		got, err := c.fetchHistory(ctx, sym, res, cur, end)
		if err != nil {
			return nil, fmt.Errorf("fyers history %s: %w", sym, err)
		}
		for _, b := range got {
			if _, dup := seen[b.Time.Unix()]; dup {
				continue
			}
			seen[b.Time.Unix()] = struct{}{}
			bars = append(bars, b)
		}
		if !end.Before(to) {
			break
		}
		cur = end.Add(time.Second)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func (c *Client) fetchHistory(ctx context.Context, sym, res string, from, to time.Time) ([]models.Bar, error) {
	var resp historyResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.cfg.BaseURL + "/data/history",
		Headers: map[string]string{"Authorization": c.authHeader()},
		QueryParams: map[string][]string{
			"symbol":      {sym},
			"resolution":  {res},
			"date_format": {"0"},
			"range_from":  {epoch(from)},
			"range_to":    {epoch(to)},
			"cont_flag":   {"1"},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	switch resp.S {
	case "ok":
	case "no_data":
		return nil, nil
	default:
		return nil, fmt.Errorf("status %q code %d: %s", resp.S, resp.Code, resp.Message)
	}

	bars := make([]models.Bar, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle has %d fields", len(row))
		}
		bars = append(bars, models.Bar{
			Time:   time.Unix(int64(row[0]), 0).UTC(),
			Open:   row[1],
			High:   row[2],
			Low:    row[3],
			Close:  row[4],
			Volume: int64(row[5]),
		})
	}
	return bars, nil
}
