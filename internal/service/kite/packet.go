package kite

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"TickVault/internal/domain/models"
)

// Ticker packet lengths by subscription mode.
const (
	lenLTP        = 8
	lenIndexQuote = 28
	lenIndexFull  = 32
	lenQuote      = 44
	lenFull       = 184
)

const (
	segmentCDS = 3
	segmentBCD = 6
	depthStart = 64
	depthEntry = 12
)

var errShortFrame = errors.New("short ticker frame")

// parseFrame decodes one binary ticker message: a count of packets, each
// prefixed by its length. All integers are big-endian. Heartbeat frames
// (a single byte) carry no packets.
func parseFrame(data []byte, received time.Time) ([]models.Tick, error) {
	if len(data) < 2 {
		return nil, nil
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	ticks := make([]models.Tick, 0, n)
	off := 2
	for i := 0; i < n; i++ {
		if off+2 > len(data) {
			return nil, fmt.Errorf("%w: packet %d header", errShortFrame, i)
		}
		size := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		if off+size > len(data) {
			return nil, fmt.Errorf("%w: packet %d wants %d bytes", errShortFrame, i, size)
		}
		if t, ok := parsePacket(data[off:off+size], received); ok {
			ticks = append(ticks, t)
		}
		off += size
	}
	return ticks, nil
}

func parsePacket(p []byte, received time.Time) (models.Tick, bool) {
	if len(p) < lenLTP {
		return models.Tick{}, false
	}
	token := int64(binary.BigEndian.Uint32(p[0:4]))
	div := divisor(token)
	price := func(off int) float64 { return float64(int32(binary.BigEndian.Uint32(p[off:off+4]))) / div }
	u32 := func(off int) int64 { return int64(binary.BigEndian.Uint32(p[off : off+4])) }

	t := models.Tick{
		Time:            received.UTC().Truncate(time.Millisecond),
		InstrumentToken: token,
		LTP:             price(4),
	}

	switch {
	case len(p) == lenIndexQuote || len(p) == lenIndexFull:
		// indices carry no volume or depth
	case len(p) >= lenQuote:
		t.Volume = u32(8) // last traded quantity
		if len(p) >= lenFull {
			t.OpenInterest = u32(48)
			bidQty, bidPx := depthLevel(p, 0, div)
			askQty, askPx := depthLevel(p, 5, div)
			if bidPx > 0 {
				t.BidPrice, t.BidQty = &bidPx, &bidQty
			}
			if askPx > 0 {
				t.AskPrice, t.AskQty = &askPx, &askQty
			}
		}
	}
	return t, true
}

// depthLevel reads one 12 byte depth entry: quantity, price, orders, padding.
// Entries 0-4 are bids, 5-9 asks.
func depthLevel(p []byte, idx int, div float64) (int64, float64) {
	off := depthStart + idx*depthEntry
	qty := int64(binary.BigEndian.Uint32(p[off : off+4]))
	px := float64(int32(binary.BigEndian.Uint32(p[off+4:off+8]))) / div
	return qty, px
}

// divisor converts paise-like integers to prices. Currency segments quote
// with more decimals.
func divisor(token int64) float64 {
	switch token & 0xff {
	case segmentCDS:
		return 10_000_000
	case segmentBCD:
		return 10_000
	default:
		return 100
	}
}
