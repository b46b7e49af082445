package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishBatchEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, comp: "snappy"}

	err := p.PublishBatch(context.Background(), "ticks", []Message{
		{Key: []byte("1"), Value: []byte("raw")},
		{Key: []byte("2"), Value: "text"},
		{Key: []byte("3"), Value: map[string]int{"a": 1}},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)
	assert.Equal(t, "raw", string(w.msgs[0].Value))
	assert.Equal(t, "text", string(w.msgs[1].Value))
	assert.JSONEq(t, `{"a":1}`, string(w.msgs[2].Value))
	assert.Equal(t, "ticks", w.msgs[2].Topic)
}

func TestPublishBatchEmptyIsNoop(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	p := &Producer{writer: w}
	assert.NoError(t, p.PublishBatch(context.Background(), "ticks", nil))
}

func TestPublishMessageWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{writer: &fakeWriter{err: boom}}
	err := p.PublishMessage(context.Background(), "logs", map[string]string{"k": "v"})
	assert.ErrorIs(t, err, boom)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestHookChainOrderAndPanicSafety(t *testing.T) {
	var order []string
	first := HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			order = append(order, "before1")
			return ctx, append(data, '1'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after1") },
	}
	second := HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			order = append(order, "before2")
			return ctx, append(data, '2'), nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) {
			order = append(order, "after2")
			panic("boom")
		},
	}
	chain := NewHookChain(first, nil, second)

	_, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x12", string(data))

	assert.NotPanics(t, func() { chain.AfterHandle(context.Background(), "t", kafka.Message{}, data, nil) })
	assert.Equal(t, []string{"before1", "before2", "after2", "after1"}, order)
}

func TestHookChainBeforePanicBecomesError(t *testing.T) {
	chain := NewHookChain(HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, []byte, error) {
			panic("bad hook")
		},
	})
	_, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestStartTimeHook(t *testing.T) {
	ctx, _, err := StartTimeHook().BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	require.NoError(t, err)
	ts, ok := StartTime(ctx)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, time.Second)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 40; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
