package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderStreamStateIsOneHot(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.SetStreamState("streaming")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.streamState.WithLabelValues("streaming")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.streamState.WithLabelValues("idle")))

	r.SetStreamState("backing_off")
	assert.Equal(t, 0.0, testutil.ToFloat64(r.streamState.WithLabelValues("streaming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.streamState.WithLabelValues("backing_off")))
}

func TestRecorderCounters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordTicksFlushed("clickhouse", 1000)
	r.RecordTicksFlushed("clickhouse", 24)
	r.RecordBackfill("1m", 375)
	r.SetBufferDepth(12)

	assert.Equal(t, 1024.0, testutil.ToFloat64(r.ticksFlushed.WithLabelValues("clickhouse")))
	assert.Equal(t, 375.0, testutil.ToFloat64(r.backfillBars.WithLabelValues("1m")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.bufferDepth))
}
