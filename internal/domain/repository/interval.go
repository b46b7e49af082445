package repository

import (
	"fmt"
	"time"
)

// Interval is a candle bucket width accepted at the API boundary.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval1d:  24 * time.Hour,
}

// Cascade lists the aggregate granularities from finest to coarsest.
var Cascade = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval1d}

// ParseInterval rejects anything outside the fixed enumeration.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInterval, s)
	}
	return iv, nil
}

func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns 0 for an invalid interval.
func (i Interval) Duration() time.Duration { return intervalDurations[i] }

func (i Interval) String() string { return string(i) }

// CoarserOrEqual returns the cascade tail starting at i.
func (i Interval) CoarserOrEqual() []Interval {
	for idx, iv := range Cascade {
		if iv == i {
			out := make([]Interval, len(Cascade)-idx)
			copy(out, Cascade[idx:])
			return out
		}
	}
	return nil
}
