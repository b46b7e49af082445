package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentOrdersAndExpires(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := NewRecentInstruments(time.Minute)
	r.now = func() time.Time { return now }

	r.Touch(1)
	now = now.Add(10 * time.Second)
	r.Touch(2)
	now = now.Add(10 * time.Second)
	r.Touch(3)
	assert.Equal(t, []int64{3, 2, 1}, r.Recent())

	now = now.Add(45 * time.Second) // token 1 is 65s old
	assert.Equal(t, []int64{3, 2}, r.Recent())
	assert.Equal(t, 2, r.Len())

	r.Touch(2)
	assert.Equal(t, []int64{2, 3}, r.Recent())
}
