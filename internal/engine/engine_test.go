package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/erp-loader/internal/types"
)

func makeRecords(n int) []types.Record {
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.Record{
			SequenceID: fmt.Sprintf("rec-%03d", i),
			Status:     types.RecordValid,
			Fields:     types.Fields{"Amount": float64(i)},
		}
	}
	return out
}

// stepClock advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func allSucceed(_ context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
	return types.BatchOutcome{Successes: []types.Outcome{{
		Status:    types.StatusSuccess,
		Reference: fmt.Sprintf("DOC-%d", idx),
		Records:   batch,
	}}}, nil
}

func TestPartitionCompleteness(t *testing.T) {
	for _, n := range []int{1, 2, 9, 10, 11, 25, 100, 101} {
		for _, b := range []int{1, 3, 10, 20, 200} {
			recs := makeRecords(n)
			batches := Partition(recs, b)
			require.Len(t, batches, TotalBatches(n, b), "n=%d b=%d", n, b)

			var flat []types.Record
			for _, bt := range batches {
				assert.LessOrEqual(t, len(bt), b)
				assert.NotEmpty(t, bt)
				flat = append(flat, bt...)
			}
			assert.Equal(t, recs, flat, "n=%d b=%d", n, b)
		}
	}
}

func TestPartitionDefaultsInvalidSize(t *testing.T) {
	batches := Partition(makeRecords(25), 0)
	assert.Len(t, batches, 3)
	assert.Equal(t, 0, TotalBatches(0, 10))
}

func TestSubmitExampleScenario(t *testing.T) {
	e := New(zaptest.NewLogger(t), WithClock(stepClock()))
	transport := errors.New("connection reset by peer")

	submit := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		if idx == 1 {
			return types.BatchOutcome{}, transport
		}
		return allSucceed(ctx, batch, idx)
	}

	res, err := e.Submit(context.Background(), makeRecords(25), submit, Options{BatchSize: 10, Mode: "odata"})
	require.NoError(t, err)

	assert.Equal(t, 25, res.TotalRecords)
	assert.Equal(t, 25, res.ProcessedCount)
	assert.Equal(t, 15, res.SuccessCount)
	assert.Equal(t, 10, res.FailureCount)
	assert.Equal(t, types.RunPartialSuccess, res.Classification())
	require.Len(t, res.ErrorRecords, 10)
	for i, r := range res.ErrorRecords {
		assert.Equal(t, fmt.Sprintf("rec-%03d", 10+i), r.Record.SequenceID)
		assert.Equal(t, transport.Error(), r.Message)
		assert.Equal(t, CodeBatchFailed, r.Code)
		assert.Equal(t, 1, r.BatchIndex)
	}
	assert.Len(t, res.AllMessages, 25)

	p := e.Progress()
	assert.True(t, p.IsCompleted)
	assert.True(t, p.IsError)
	assert.False(t, p.Cancelled)
	assert.Equal(t, 3, p.TotalBatches)
	assert.Equal(t, 3, p.CurrentBatch)
	assert.Equal(t, types.StateCompleted, e.State())
}

func TestSubmitBatchFailureIsolation(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	var attempted []int
	submit := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		attempted = append(attempted, idx)
		if idx == 0 {
			return types.BatchOutcome{}, errors.New("HTTP 503")
		}
		return allSucceed(ctx, batch, idx)
	}
	res, err := e.Submit(context.Background(), makeRecords(6), submit, Options{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, attempted)
	assert.Equal(t, 3, res.FailureCount)
	assert.Equal(t, 3, res.SuccessCount)
}

func TestSubmitNeverResubmitsBatch(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	calls := map[int]int{}
	submit := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		calls[idx]++
		if idx%2 == 0 {
			return types.BatchOutcome{}, errors.New("boom")
		}
		return allSucceed(ctx, batch, idx)
	}
	_, err := e.Submit(context.Background(), makeRecords(47), submit, Options{BatchSize: 5})
	require.NoError(t, err)
	require.Len(t, calls, 10)
	for idx, n := range calls {
		assert.Equal(t, 1, n, "batch %d", idx)
	}
}

func TestFolderRejectsSecondFold(t *testing.T) {
	res := &types.ResultAggregate{TotalRecords: 2}
	f := newFolder(zaptest.NewLogger(t), res)
	batch := makeRecords(2)
	out, _ := allSucceed(context.Background(), batch, 0)

	_, _, err := f.fold(0, batch, out)
	require.NoError(t, err)
	_, _, err = f.fold(0, batch, out)
	assert.ErrorIs(t, err, errAlreadyFolded)
	assert.Equal(t, 2, res.ProcessedCount)
}

func TestSubmitCancellationAtBatchBoundary(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	submit := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		if idx == 1 {
			e.Cancel() // batch 1 still completes, batch 2 never starts
		}
		return allSucceed(ctx, batch, idx)
	}
	res, err := e.Submit(context.Background(), makeRecords(25), submit, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 20, res.ProcessedCount)
	assert.Equal(t, 20, len(res.SuccessRecords)+len(res.ErrorRecords))
	assert.LessOrEqual(t, res.ProcessedCount, res.TotalRecords)
	assert.Equal(t, types.StateCancelled, e.State())

	p := e.Progress()
	assert.True(t, p.Cancelled)
	assert.True(t, p.IsCompleted)
	assert.Equal(t, 20, p.ProcessedEntries)
}

func TestCancelBeforeSubmitStopsThatRun(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	e.Cancel()
	calls := 0
	count := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		calls++
		return allSucceed(ctx, batch, idx)
	}
	res, err := e.Submit(context.Background(), makeRecords(25), count, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Zero(t, res.ProcessedCount)
	assert.Zero(t, calls)
	assert.Equal(t, types.StateCancelled, e.State())

	// the flag does not outlive the run it stopped
	res, err = e.Submit(context.Background(), makeRecords(25), count, Options{BatchSize: 10})
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, 25, res.ProcessedCount)
	assert.Equal(t, 3, calls)
}

func TestSubmitContextCancelledBeforeStart(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	res, err := e.Submit(ctx, makeRecords(5), func(context.Context, []types.Record, int) (types.BatchOutcome, error) {
		called = true
		return types.BatchOutcome{}, nil
	}, Options{})
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, res.Cancelled)
	assert.Zero(t, res.ProcessedCount)
}

func TestSubmitContractViolations(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	_, err := e.Submit(context.Background(), nil, allSucceed, Options{})
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, types.StateFatalError, e.State())

	_, err = e.Submit(context.Background(), makeRecords(1), nil, Options{})
	assert.ErrorIs(t, err, ErrNoSubmitFunc)

	_, err = e.Submit(context.Background(), makeRecords(1), allSucceed, Options{BatchSize: -1})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestSubmitRejectsConcurrentRun(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	entered := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = e.Submit(context.Background(), makeRecords(1), func(ctx context.Context, b []types.Record, i int) (types.BatchOutcome, error) {
			close(entered)
			<-release
			return allSucceed(ctx, b, i)
		}, Options{})
	}()
	<-entered
	_, err := e.Submit(context.Background(), makeRecords(1), allSucceed, Options{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	close(release)
	<-finished
}

func TestSubmitStalledCallTimesOut(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	stall := make(chan struct{})
	defer close(stall)
	submit := func(ctx context.Context, batch []types.Record, idx int) (types.BatchOutcome, error) {
		if idx == 0 {
			<-stall // ignores ctx on purpose
		}
		return allSucceed(ctx, batch, idx)
	}
	res, err := e.Submit(context.Background(), makeRecords(4), submit, Options{BatchSize: 2, CallTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailureCount)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Contains(t, res.ErrorRecords[0].Message, "timed out")
}

func TestSubmitPanicBecomesBatchFailure(t *testing.T) {
	e := New(zaptest.NewLogger(t))
	res, err := e.Submit(context.Background(), makeRecords(3), func(context.Context, []types.Record, int) (types.BatchOutcome, error) {
		panic("nil map")
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FailureCount)
	assert.Contains(t, res.ErrorRecords[0].Message, "nil map")
}

func TestFoldPreservesInputOrderAndAccountsForEveryRecord(t *testing.T) {
	batch := makeRecords(5)
	out := types.BatchOutcome{
		Successes: []types.Outcome{
			{Status: types.StatusSuccess, Reference: "B", Records: []types.Record{batch[3], batch[0]}},
			{Status: types.StatusSuccess, Reference: "C", Records: []types.Record{batch[1]}},
		},
		Failures: []types.Outcome{
			{Status: types.StatusError, Code: "E1", Message: "bad", Records: []types.Record{batch[1], {SequenceID: "stranger"}}},
		},
	}
	res := &types.ResultAggregate{TotalRecords: 5}
	ok, failed, err := newFolder(zaptest.NewLogger(t), res).fold(0, batch, out)
	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 3, failed)

	require.Len(t, res.SuccessRecords, 2)
	assert.Equal(t, "rec-000", res.SuccessRecords[0].Record.SequenceID)
	assert.Equal(t, "rec-003", res.SuccessRecords[1].Record.SequenceID)
	assert.Equal(t, "created B", res.SuccessRecords[0].Message)

	require.Len(t, res.ErrorRecords, 3)
	assert.Equal(t, "rec-001", res.ErrorRecords[0].Record.SequenceID)
	assert.Equal(t, "E1", res.ErrorRecords[0].Code)
	assert.Equal(t, "rec-002", res.ErrorRecords[1].Record.SequenceID)
	assert.Equal(t, CodeNoOutcome, res.ErrorRecords[1].Code)
	assert.Equal(t, "rec-004", res.ErrorRecords[2].Record.SequenceID)
	assert.Equal(t, 5, res.ProcessedCount)
}

func TestSubmitDoesNotMutateInput(t *testing.T) {
	recs := makeRecords(3)
	e := New(zaptest.NewLogger(t))
	res, err := e.Submit(context.Background(), recs, allSucceed, Options{})
	require.NoError(t, err)
	res.SuccessRecords[0].Record.Fields["Amount"] = "changed"
	assert.Equal(t, float64(0), recs[0].Fields["Amount"])
}

func TestSubscribeReceivesSnapshotsAndCloses(t *testing.T) {
	e := New(zaptest.NewLogger(t), WithClock(stepClock()))
	ch, stop := e.Subscribe(16)
	defer stop()

	_, err := e.Submit(context.Background(), makeRecords(30), allSucceed, Options{BatchSize: 10})
	require.NoError(t, err)

	var got []types.ProgressState
	for p := range ch {
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.True(t, last.IsCompleted)
	assert.Equal(t, 30, last.ProcessedEntries)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].ProcessedEntries, got[i-1].ProcessedEntries)
	}

	late, _ := e.Subscribe(1)
	p, ok := <-late
	assert.True(t, ok)
	assert.True(t, p.IsCompleted)
	_, ok = <-late
	assert.False(t, ok)
}

func TestEstimate(t *testing.T) {
	_, _, ok := Estimate(0, 10, time.Second)
	assert.False(t, ok)
	_, _, ok = Estimate(5, 10, 0)
	assert.False(t, ok)

	speed, rem, ok := Estimate(10, 30, 5*time.Second)
	require.True(t, ok)
	assert.InDelta(t, 2.0, speed, 1e-9)
	assert.Equal(t, 10*time.Second, rem)

	var p types.ProgressState
	p.TotalEntries = 10
	applyEstimate(&p, 0)
	assert.True(t, p.Calculating)
	assert.Equal(t, Calculating, p.EstimatedTimeRemaining)
	assert.False(t, math.IsNaN(p.ProcessingSpeed))
	assert.False(t, math.IsInf(p.ProcessingSpeed, 0))
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		0:                      "0 seconds",
		time.Second:            "1 second",
		1500 * time.Millisecond: "2 seconds",
		90 * time.Second:        "2 minutes",
		61 * time.Second:        "1 minute",
		2 * time.Hour:           "2.0 hours",
		90 * time.Minute:        "1.5 hours",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatRemaining(d), "duration %s", d)
	}
}
