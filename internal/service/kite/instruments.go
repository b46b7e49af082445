package kite

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"TickVault/internal/domain/models"
	pkghttp "TickVault/pkg/http"
	applogger "TickVault/pkg/logger"
	"TickVault/pkg/util"
)

// FetchInstruments downloads the full instrument dump (a CSV of every
// exchange segment) and parses it.
func (c *Client) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	var body []byte
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.cfg.BaseURL + "/instruments",
		Headers: c.headers(),
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("kite instruments: %w", err)
	}
	out, skipped, err := parseInstruments(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kite instruments: %w", err)
	}
	c.l.Info("instrument dump parsed", applogger.Int("instruments", len(out)), applogger.Int("skipped", skipped))
	return out, nil
}

// parseInstruments maps columns by header name, so column order changes in
// the dump do not break parsing. Rows without a token are skipped.
func parseInstruments(r io.Reader) ([]models.Instrument, int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["instrument_token"]; !ok {
		return nil, 0, errors.New("missing instrument_token column")
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var (
		out     []models.Instrument
		skipped int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}
		token := util.ParseInt64OrZero(get(rec, "instrument_token"))
		if token == 0 {
			skipped++
			continue
		}
		in := models.Instrument{
			Token:          token,
			ExchangeToken:  util.ParseInt64OrZero(get(rec, "exchange_token")),
			Symbol:         get(rec, "tradingsymbol"),
			Name:           get(rec, "name"),
			Exchange:       get(rec, "exchange"),
			Segment:        get(rec, "segment"),
			InstrumentType: get(rec, "instrument_type"),
			Strike:         util.ParseFloatOrZero(get(rec, "strike")),
			TickSize:       util.ParseFloatOrZero(get(rec, "tick_size")),
			LotSize:        int(util.ParseInt64OrZero(get(rec, "lot_size"))),
		}
		if exp := get(rec, "expiry"); exp != "" {
			if t, err := time.Parse("2006-01-02", exp); err == nil {
				in.Expiry = &t
			}
		}
		out = append(out, in)
	}
	return out, skipped, nil
}
