package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/wsfeed"
	applogger "TickVault/pkg/logger"
)

type tickerCommand struct {
	A string      `json:"a"`
	V interface{} `json:"v"`
}

type textMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscribe opens the ticker socket and requests full mode for tokens.
func (c *Client) Subscribe(ctx context.Context, tokens []int64) (drepo.Subscription, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("kite subscribe: no instruments")
	}
	u, err := url.Parse(c.cfg.TickerURL)
	if err != nil {
		return nil, fmt.Errorf("kite ticker url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("access_token", c.cfg.AccessToken)
	u.RawQuery = q.Encode()

	conn, err := wsfeed.Dial(ctx, u.String(), http.Header{"X-Kite-Version": []string{"3"}})
	if err != nil {
		return nil, fmt.Errorf("kite ticker: %w", err)
	}
	feed := wsfeed.Start(conn, c.decode, c.cfg.Feed, c.l)

	for _, cmd := range []tickerCommand{
		{A: "subscribe", V: tokens},
		{A: "mode", V: []interface{}{"full", tokens}},
	} {
		if err := feed.WriteJSON(cmd); err != nil {
			_ = feed.Close()
			return nil, fmt.Errorf("kite ticker %s: %w", cmd.A, err)
		}
	}
	c.l.Info("ticker subscribed", applogger.Int("instruments", len(tokens)))
	return feed, nil
}

func (c *Client) decode(mt int, data []byte) ([]models.Tick, error) {
	if mt == websocket.BinaryMessage {
		return parseFrame(data, time.Now())
	}
	var msg textMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("ticker text frame: %w", err)
	}
	if msg.Type == "error" {
		c.l.Warn("ticker error message", applogger.String("data", string(msg.Data)))
	}
	return nil, nil
}
