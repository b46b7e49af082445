package fyers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/wsfeed"
	applogger "TickVault/pkg/logger"
)

type subscribeRequest struct {
	T     string   `json:"T"`
	SList []string `json:"SLIST"`
	SubT  int      `json:"SUB_T"`
}

type symbolUpdate struct {
	Symbol         string   `json:"symbol"`
	LTP            *float64 `json:"ltp"`
	VolTradedToday int64    `json:"vol_traded_today"`
	BidPrice       *float64 `json:"bid_price"`
	AskPrice       *float64 `json:"ask_price"`
	BidSize        *int64   `json:"bid_size"`
	AskSize        *int64   `json:"ask_size"`
	ExchFeedTime   int64    `json:"exch_feed_time"`
}

// Subscribe opens the data socket for the given tokens.
func (c *Client) Subscribe(ctx context.Context, tokens []int64) (drepo.Subscription, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("fyers subscribe: no instruments")
	}
	syms := make([]string, 0, len(tokens))
	byName := make(map[string]int64, len(tokens))
	for _, tok := range tokens {
		s, err := c.symbol(ctx, tok)
		if err != nil {
			c.l.Warn("skipping unresolvable instrument", applogger.Int64("instrument_token", tok), applogger.Error(err))
			continue
		}
		syms = append(syms, s)
		byName[s] = tok
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("fyers subscribe: no resolvable instruments")
	}

	conn, err := wsfeed.Dial(ctx, c.cfg.SocketURL, http.Header{"Authorization": []string{c.authHeader()}})
	if err != nil {
		return nil, fmt.Errorf("fyers socket: %w", err)
	}
	dec := &updateDecoder{tokens: byName, lastVolume: make(map[int64]int64), now: time.Now}
	feed := wsfeed.Start(conn, dec.decode, c.cfg.Feed, c.l)
	if err := feed.WriteJSON(subscribeRequest{T: "SUB_L2", SList: syms, SubT: 1}); err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("fyers subscribe: %w", err)
	}
	c.l.Info("socket subscribed", applogger.Int("instruments", len(syms)))
	return feed, nil
}

// updateDecoder turns symbol updates into ticks. Fyers reports cumulative
// day volume; ticks carry the increase since the previous update.
type updateDecoder struct {
	tokens     map[string]int64
	now        func() time.Time
	mu         sync.Mutex
	lastVolume map[int64]int64
}

func (d *updateDecoder) decode(_ int, data []byte) ([]models.Tick, error) {
	var updates []symbolUpdate
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &updates); err != nil {
			return nil, err
		}
	} else {
		var u symbolUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		updates = []symbolUpdate{u}
	}

	out := make([]models.Tick, 0, len(updates))
	for _, u := range updates {
		tok, ok := d.tokens[u.Symbol]
		if !ok || u.LTP == nil {
			continue
		}
		ts := d.now()
		if u.ExchFeedTime > 0 {
			ts = time.Unix(u.ExchFeedTime, 0)
		}
		out = append(out, models.Tick{
			Time:            ts.UTC().Truncate(time.Millisecond),
			InstrumentToken: tok,
			LTP:             *u.LTP,
			Volume:          d.volumeDelta(tok, u.VolTradedToday),
			BidPrice:        u.BidPrice,
			AskPrice:        u.AskPrice,
			BidQty:          u.BidSize,
			AskQty:          u.AskSize,
		})
	}
	return out, nil
}

func (d *updateDecoder) volumeDelta(tok, cumulative int64) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, seen := d.lastVolume[tok]
	d.lastVolume[tok] = cumulative
	if !seen || cumulative < prev {
		// first update of the session, or the day rolled over
		return 0
	}
	return cumulative - prev
}
