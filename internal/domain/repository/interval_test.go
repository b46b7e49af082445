package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	for _, s := range []string{"1m", "5m", "15m", "1h", "1d"} {
		iv, err := ParseInterval(s)
		require.NoError(t, err, s)
		assert.True(t, iv.Valid())
	}

	for _, s := range []string{"", "2m", "1M", "day", "60s"} {
		_, err := ParseInterval(s)
		assert.True(t, errors.Is(err, ErrUnknownInterval), s)
	}
}

func TestIntervalDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Interval15m.Duration())
	assert.Equal(t, 24*time.Hour, Interval1d.Duration())
	assert.Zero(t, Interval("3m").Duration())
}

func TestCoarserOrEqual(t *testing.T) {
	assert.Equal(t, Cascade, Interval1m.CoarserOrEqual())
	assert.Equal(t, []Interval{Interval1h, Interval1d}, Interval1h.CoarserOrEqual())
	assert.Equal(t, []Interval{Interval1d}, Interval1d.CoarserOrEqual())
	assert.Nil(t, Interval("2m").CoarserOrEqual())

	// callers may not mutate the shared cascade
	out := Interval1m.CoarserOrEqual()
	out[0] = "x"
	assert.Equal(t, Interval1m, Cascade[0])
}
