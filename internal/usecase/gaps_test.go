package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
)

func at(h, m int) time.Time { return time.Date(2024, 3, 4, h, m, 0, 0, time.UTC) }

func candlesAt(ts ...time.Time) []models.Candle {
	out := make([]models.Candle, len(ts))
	for i, t := range ts {
		out[i] = models.Candle{Bucket: t, InstrumentToken: 1}
	}
	return out
}

func TestDetectGaps(t *testing.T) {
	tests := []struct {
		name    string
		candles []models.Candle
		from    time.Time
		to      time.Time
		iv      drepo.Interval
		want    []models.Gap
	}{
		{
			name:    "internal and trailing",
			candles: candlesAt(at(10, 0), at(10, 1), at(10, 5)),
			from:    at(10, 0), to: at(10, 6), iv: drepo.Interval1m,
			want: []models.Gap{
				{Start: at(10, 2), End: at(10, 4)},
				{Start: at(10, 6), End: at(10, 6)},
			},
		},
		{
			name:    "complete grid",
			candles: candlesAt(at(10, 0), at(10, 1), at(10, 2), at(10, 3)),
			from:    at(10, 0), to: at(10, 3), iv: drepo.Interval1m,
			want: nil,
		},
		{
			name: "empty input is one gap",
			from: at(9, 15), to: at(15, 30), iv: drepo.Interval5m,
			want: []models.Gap{{Start: at(9, 15), End: at(15, 30)}},
		},
		{
			name:    "leading gap",
			candles: candlesAt(at(10, 10), at(10, 15)),
			from:    at(10, 0), to: at(10, 15), iv: drepo.Interval5m,
			want: []models.Gap{{Start: at(10, 0), End: at(10, 5)}},
		},
		{
			name:    "first bucket one step in is not a gap",
			candles: candlesAt(at(10, 1), at(10, 2)),
			from:    at(10, 0), to: at(10, 2), iv: drepo.Interval1m,
			want: nil,
		},
		{
			name:    "hourly internal gap",
			candles: candlesAt(at(9, 0), at(12, 0)),
			from:    at(9, 0), to: at(12, 30), iv: drepo.Interval1h,
			want: []models.Gap{{Start: at(10, 0), End: at(11, 0)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectGaps(tt.candles, tt.from, tt.to, tt.iv))
		})
	}
}

func TestDetectGapsNormalizesTimezones(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	candles := candlesAt(at(10, 0).In(ist), at(10, 1), at(10, 2).In(ist))
	gaps := DetectGaps(candles, at(10, 0).In(ist), at(10, 2), drepo.Interval1m)
	assert.Empty(t, gaps)
}

func TestDetectGapsEveryGapSpansAtLeastOneInterval(t *testing.T) {
	candles := candlesAt(at(10, 0), at(10, 2), at(10, 3), at(10, 7), at(10, 9))
	gaps := DetectGaps(candles, at(9, 55), at(10, 12), drepo.Interval1m)
	for _, g := range gaps {
		assert.False(t, g.End.Before(g.Start), "gap %v", g)
	}
	assert.Equal(t, []models.Gap{
		{Start: at(9, 55), End: at(9, 59)},
		{Start: at(10, 1), End: at(10, 1)},
		{Start: at(10, 4), End: at(10, 6)},
		{Start: at(10, 8), End: at(10, 8)},
		{Start: at(10, 10), End: at(10, 12)},
	}, gaps)
}

func TestDetectGapsInvalidInput(t *testing.T) {
	assert.Nil(t, DetectGaps(nil, at(10, 0), at(11, 0), drepo.Interval("2m")))
	assert.Nil(t, DetectGaps(nil, at(11, 0), at(10, 0), drepo.Interval1m))
}
