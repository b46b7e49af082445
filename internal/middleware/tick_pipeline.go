package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"TickVault/internal/domain/models"
	domrepo "TickVault/internal/domain/repository"
	"TickVault/internal/service/ratelimit"
)

// TickIngester is the downstream the pipeline hands accepted ticks to.
type TickIngester interface {
	Ingest(ctx context.Context, t models.Tick) error
}

// TickPipeline sits between the stream supervisor and the tick buffer. It
// validates, optionally throttles per instrument, transforms, and forwards.
type TickPipeline struct {
	next      TickIngester
	metrics   domrepo.Metrics
	limiter   *ratelimit.Limiter
	maxRPS    int
	transform func(models.Tick) models.Tick

	accepted  atomic.Int64
	rejected  atomic.Int64
	throttled atomic.Int64
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per instrument per second. 0 disables it.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) PipelineOption {
	return func(p *TickPipeline) { p.limiter = l }
}

// WithTransform sets a hook applied after validation. Its output is
// validated again.
func WithTransform(fn func(models.Tick) models.Tick) PipelineOption {
	return func(p *TickPipeline) { p.transform = fn }
}

func NewTickPipeline(next TickIngester, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{next: next, metrics: metrics}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxRPS > 0 && p.limiter == nil {
		p.limiter = ratelimit.New()
	}
	return p
}

// Process validates and forwards t. Throttled ticks are dropped without
// error.
func (p *TickPipeline) Process(ctx context.Context, t models.Tick) error {
	start := time.Now()
	if err := ValidateTick(t); err != nil {
		p.rejected.Add(1)
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := ValidateTick(t); err != nil {
			p.rejected.Add(1)
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(t.InstrumentToken) {
		p.throttled.Add(1)
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}
	if err := p.next.Ingest(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_ingest")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.accepted.Add(1)
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func (p *TickPipeline) allow(token int64) bool {
	if p.maxRPS <= 0 {
		return true
	}
	rps := float64(p.maxRPS)
	return p.limiter.Allow("tick:"+strconv.FormatInt(token, 10), rps, rps)
}

// Stats returns accepted, rejected and throttled counts.
func (p *TickPipeline) Stats() (accepted, rejected, throttled int64) {
	return p.accepted.Load(), p.rejected.Load(), p.throttled.Load()
}

func ValidateTick(t models.Tick) error {
	if t.InstrumentToken <= 0 {
		return fmt.Errorf("instrument token invalid: %d", t.InstrumentToken)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("tick time missing")
	}
	if t.LTP < 0 || t.Volume < 0 {
		return fmt.Errorf("negative price/volume")
	}
	return nil
}
