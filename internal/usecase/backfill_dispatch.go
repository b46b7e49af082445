package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	drepo "TickVault/internal/domain/repository"
	"TickVault/pkg/cache"
	applogger "TickVault/pkg/logger"
	"TickVault/pkg/queue"
)

const BackfillJobType = "backfill.range"

const (
	TriggerQueued  = "queued"
	TriggerStarted = "started"
	TriggerRunning = "already_running"
)

type BackfillRequest struct {
	InstrumentToken int64          `json:"instrument_token"`
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	Interval        drepo.Interval `json:"interval"`
}

type TriggerResult struct {
	Status          string    `json:"status"`
	JobID           string    `json:"job_id,omitempty"`
	InstrumentToken int64     `json:"instrument_token"`
	Interval        string    `json:"interval"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
}

// BackfillDispatcher runs client-triggered backfills off the request path,
// on the Redis queue when one is configured and on a goroutine otherwise.
// At most one backfill per (instrument, interval) is in flight.
type BackfillDispatcher struct {
	reader  CandleGetter
	status  drepo.BackfillStatusStore
	locks   cache.Service
	queue   queue.Publisher
	timeout time.Duration
	l       *applogger.Logger

	wg sync.WaitGroup
}

// NewBackfillDispatcher accepts a nil publisher for inline execution.
func NewBackfillDispatcher(reader CandleGetter, status drepo.BackfillStatusStore, locks cache.Service,
	pub queue.Publisher, timeout time.Duration, l *applogger.Logger) *BackfillDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &BackfillDispatcher{reader: reader, status: status, locks: locks, queue: pub, timeout: timeout, l: l.Component("backfill_dispatch")}
}

func lockKey(token int64, iv drepo.Interval) string {
	return cache.Key("backfill_lock", token, iv)
}

func (d *BackfillDispatcher) Trigger(ctx context.Context, req BackfillRequest) (*TriggerResult, error) {
	if !req.Interval.Valid() {
		return nil, fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, req.Interval)
	}
	req.From, req.To = req.From.UTC(), req.To.UTC()
	res := &TriggerResult{InstrumentToken: req.InstrumentToken, Interval: req.Interval.String(), From: req.From, To: req.To}

	key := lockKey(req.InstrumentToken, req.Interval)
	ok, err := d.locks.TryLock(ctx, key, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("acquire backfill lock: %w", err)
	}
	if !ok {
		res.Status = TriggerRunning
		return res, nil
	}

	if d.queue != nil {
		id, err := d.queue.Enqueue(ctx, BackfillJobType, req)
		if err != nil {
			_ = d.locks.Unlock(ctx, key)
			return nil, fmt.Errorf("enqueue backfill: %w", err)
		}
		res.Status, res.JobID = TriggerQueued, id
		return res, nil
	}

	res.Status, res.JobID = TriggerStarted, uuid.NewString()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Run(ctx, req); err != nil {
			d.l.Error("backfill failed", applogger.String("job_id", res.JobID), applogger.Error(err))
		}
	}()
	return res, nil
}

// Run executes one backfill and records its status. It releases the lock
// taken by Trigger.
func (d *BackfillDispatcher) Run(ctx context.Context, req BackfillRequest) error {
	defer func() {
		if err := d.locks.Unlock(context.WithoutCancel(ctx), lockKey(req.InstrumentToken, req.Interval)); err != nil {
			d.l.Warn("release backfill lock", applogger.Error(err))
		}
	}()
	res, err := d.reader.GetCandles(ctx, GetCandlesParams{
		InstrumentToken: req.InstrumentToken,
		From:            req.From,
		To:              req.To,
		Interval:        req.Interval,
	})
	if err != nil {
		return err
	}
	if err := d.status.UpsertStatus(ctx, req.InstrumentToken, req.From, req.To, res.Count); err != nil {
		return fmt.Errorf("upsert backfill status: %w", err)
	}
	d.l.Info("backfill completed",
		applogger.Int64("instrument_token", req.InstrumentToken),
		applogger.String("interval", req.Interval.String()),
		applogger.Int("candles", res.Count),
		applogger.Int("bars_backfilled", res.BarsBackfilled))
	return nil
}

// Wait blocks until inline backfills finish or ctx ends.
func (d *BackfillDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackfillJob is the queue worker side of BackfillDispatcher.
type BackfillJob struct {
	d *BackfillDispatcher
}

var _ queue.Job = (*BackfillJob)(nil)

func NewBackfillJob(d *BackfillDispatcher) *BackfillJob { return &BackfillJob{d: d} }

func (j *BackfillJob) Name() string { return "backfill_range" }

func (j *BackfillJob) Type() string { return BackfillJobType }

func (j *BackfillJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[BackfillRequest](payload)
	if err != nil {
		return err
	}
	if !req.Interval.Valid() {
		return fmt.Errorf("%w: %q", drepo.ErrUnknownInterval, req.Interval)
	}
	return j.d.Run(ctx, *req)
}
