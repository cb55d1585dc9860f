// Package engine drives record submission batch by batch through a
// caller-supplied submit function and accumulates the results.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/metrics"
	"github.com/yourorg/erp-loader/internal/types"
)

// SubmitBatchFunc submits one batch and reports per-document or per-record
// outcomes. Returning an error fails every record of the batch.
type SubmitBatchFunc func(ctx context.Context, batch []types.Record, batchIndex int) (types.BatchOutcome, error)

// Options configure one run.
type Options struct {
	BatchSize   int           // 0 selects the engine default
	Mode        string        // strategy identifier, used for logs and metrics
	RunID       string        // generated when empty
	CallTimeout time.Duration // 0 selects the engine default; <0 disables
}

// DefaultCallTimeout bounds a single submit call.
const DefaultCallTimeout = 2 * time.Minute

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithBatchSize sets the default batch size.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) Option { return func(e *Engine) { e.callTimeout = d } }

// Engine runs one submission at a time. Progress and Result may be read
// concurrently from any goroutine; only the run loop writes.
type Engine struct {
	log         *zap.Logger
	now         func() time.Time
	batchSize   int
	callTimeout time.Duration

	running   atomic.Bool
	cancelled atomic.Bool

	mu       sync.RWMutex
	state    types.RunState
	result   *types.ResultAggregate
	progress types.ProgressState
	subs     map[int]chan types.ProgressState
	nextSub  int
}

// New creates an idle engine.
func New(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		log:         logger,
		now:         time.Now,
		batchSize:   DefaultBatchSize,
		callTimeout: DefaultCallTimeout,
		state:       types.StateIdle,
		subs:        make(map[int]chan types.ProgressState),
	}
	for _, o := range opts {
		o(e)
	}
	e.progress = types.ProgressState{State: types.StateIdle, Status: "idle"}
	return e
}

// Cancel asks the running submission to stop before its next batch. The
// batch in flight is allowed to finish. A Cancel issued before Submit
// stops that run before its first batch; the flag is cleared when a run
// ends.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

// State returns the lifecycle state.
func (e *Engine) State() types.RunState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Progress returns a snapshot of the current progress.
func (e *Engine) Progress() types.ProgressState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// Result returns a copy of the aggregate of the current or last run, or nil.
func (e *Engine) Result() *types.ResultAggregate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result.Clone()
}

// Subscribe returns a channel that receives a progress snapshot after every
// batch. Slow readers only see the latest snapshot. The channel is closed
// when the run ends or when the returned stop function is called.
func (e *Engine) Subscribe(buffer int) (<-chan types.ProgressState, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan types.ProgressState, buffer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		ch <- e.progress
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Submit partitions records into batches and submits them strictly in
// sequence. Per-record and per-batch failures never abort the run; only a
// contract violation returns an error, before any batch starts.
func (e *Engine) Submit(ctx context.Context, records []types.Record, submit SubmitBatchFunc, opts Options) (*types.ResultAggregate, error) {
	if err := e.validate(records, submit, opts); err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	size := opts.BatchSize
	if size == 0 {
		size = e.batchSize
	}
	timeout := opts.CallTimeout
	if timeout == 0 {
		timeout = e.callTimeout
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := e.log.With(zap.String("run_id", runID), zap.String("mode", opts.Mode))

	batches := Partition(records, size)
	started := e.now()

	e.mu.Lock()
	e.state = types.StateInitializing
	e.result = &types.ResultAggregate{
		RunID:        runID,
		Mode:         opts.Mode,
		TotalRecords: len(records),
		StartedAt:    started,
	}
	e.progress = types.ProgressState{
		Status:                 "Initializing",
		State:                  types.StateInitializing,
		TotalBatches:           len(batches),
		TotalEntries:           len(records),
		EstimatedTimeRemaining: Calculating,
		Calculating:            true,
	}
	f := newFolder(log, e.result)
	e.publishLocked()
	e.mu.Unlock()

	log.Info("submission started",
		zap.Int("records", len(records)),
		zap.Int("batches", len(batches)),
		zap.Int("batch_size", size))

	cancelled := false
	for i, batch := range batches {
		if e.cancelled.Load() || ctx.Err() != nil {
			cancelled = true
			log.Info("submission cancelled", zap.Int("next_batch", i))
			break
		}

		e.mu.Lock()
		e.state = types.StateProcessing
		e.progress.State = types.StateProcessing
		e.progress.CurrentBatch = i + 1
		e.progress.Status = processingStatus(i, len(batches), e.result.ProcessedCount, len(records))
		e.mu.Unlock()

		out, err := e.call(ctx, submit, batch, i, timeout)
		result := "ok"
		if err != nil {
			result = "failed"
			log.Warn("batch failed", zap.Int("batch", i), zap.Int("records", len(batch)), zap.Error(err))
			out = batchFailure(batch, err)
		}
		metrics.BatchesTotal.WithLabelValues(opts.Mode, result).Inc()

		e.mu.Lock()
		ok, failed, ferr := f.fold(i, batch, out)
		if ferr != nil {
			e.mu.Unlock()
			log.Error("batch fold rejected", zap.Int("batch", i), zap.Error(ferr))
			continue
		}
		e.progress.ProcessedEntries = e.result.ProcessedCount
		e.progress.SuccessEntries = e.result.SuccessCount
		e.progress.FailedEntries = e.result.FailureCount
		e.progress.Status = processingStatus(i, len(batches), e.result.ProcessedCount, len(records))
		applyEstimate(&e.progress, e.now().Sub(started))
		e.publishLocked()
		e.mu.Unlock()

		metrics.RecordsTotal.WithLabelValues(opts.Mode, string(types.StatusSuccess)).Add(float64(ok))
		metrics.RecordsTotal.WithLabelValues(opts.Mode, string(types.StatusError)).Add(float64(failed))
		log.Debug("batch folded", zap.Int("batch", i), zap.Int("ok", ok), zap.Int("failed", failed))
	}

	e.mu.Lock()
	r := e.result
	r.Cancelled = cancelled
	r.FinishedAt = e.now()
	e.state = types.StateCompleted
	if cancelled {
		e.state = types.StateCancelled
	}
	e.progress.State = e.state
	e.progress.IsCompleted = true
	e.progress.IsError = r.FailureCount > 0
	e.progress.Cancelled = cancelled
	e.progress.Status = finalStatus(r)
	applyEstimate(&e.progress, r.FinishedAt.Sub(started))
	if !cancelled {
		e.progress.Remaining = 0
		e.progress.EstimatedTimeRemaining = FormatRemaining(0)
		e.progress.Calculating = false
	}
	e.publishLocked()
	e.closeSubsLocked()
	e.cancelled.Store(false)
	out := r.Clone()
	state := e.state
	e.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(string(state)).Inc()
	log.Info("submission finished",
		zap.String("state", string(state)),
		zap.Int("processed", out.ProcessedCount),
		zap.Int("succeeded", out.SuccessCount),
		zap.Int("failed", out.FailureCount),
		zap.Duration("elapsed", out.FinishedAt.Sub(started)))
	return out, nil
}

func (e *Engine) validate(records []types.Record, submit SubmitBatchFunc, opts Options) error {
	var err error
	switch {
	case len(records) == 0:
		err = ErrNoRecords
	case submit == nil:
		err = ErrNoSubmitFunc
	case opts.BatchSize < 0:
		err = ErrInvalidBatchSize
	}
	if err != nil && !e.running.Load() {
		e.mu.Lock()
		e.state = types.StateFatalError
		e.progress = types.ProgressState{State: types.StateFatalError, Status: err.Error(), IsError: true}
		e.mu.Unlock()
	}
	return err
}

// call runs submit under the per-call timeout. A call that ignores its
// context is abandoned when the timeout fires and the batch is failed.
func (e *Engine) call(ctx context.Context, submit SubmitBatchFunc, batch []types.Record, idx int, timeout time.Duration) (types.BatchOutcome, error) {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type reply struct {
		out types.BatchOutcome
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("%w: %v", ErrBatchPanic, p)}
			}
		}()
		out, err := submit(callCtx, batch, idx)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return types.BatchOutcome{}, fmt.Errorf("%w after %s", ErrBatchTimeout, timeout)
		}
		return types.BatchOutcome{}, ctx.Err()
	}
}

func (e *Engine) publishLocked() {
	snap := e.progress
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) closeSubsLocked() {
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}
