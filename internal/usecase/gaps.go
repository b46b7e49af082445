package usecase

import (
	"time"

	"TickVault/internal/domain/models"
	drepo "TickVault/internal/domain/repository"
)

// DetectGaps compares candles, sorted by bucket, against the iv grid over
// [from, to] and returns the uncovered spans in order. Both ends of a
// returned gap are inclusive bucket starts (the trailing gap ends at to).
// All timestamps are compared in UTC.
func DetectGaps(candles []models.Candle, from, to time.Time, iv drepo.Interval) []models.Gap {
	d := iv.Duration()
	if d <= 0 || to.Before(from) {
		return nil
	}
	from, to = from.UTC(), to.UTC()
	if len(candles) == 0 {
		return []models.Gap{{Start: from, End: to}}
	}

	var gaps []models.Gap
	first := candles[0].Bucket.UTC()
	if first.After(from.Add(d)) {
		gaps = append(gaps, models.Gap{Start: from, End: first.Add(-d)})
	}
	for i := 0; i+1 < len(candles); i++ {
		cur, next := candles[i].Bucket.UTC(), candles[i+1].Bucket.UTC()
		if next.After(cur.Add(d)) {
			gaps = append(gaps, models.Gap{Start: cur.Add(d), End: next.Add(-d)})
		}
	}
	last := candles[len(candles)-1].Bucket.UTC()
	if end := last.Add(d); !end.After(to) {
		gaps = append(gaps, models.Gap{Start: end, End: to})
	}
	return gaps
}
