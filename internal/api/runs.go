package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/engine"
	"github.com/yourorg/erp-loader/internal/intake"
	"github.com/yourorg/erp-loader/internal/runner"
	"github.com/yourorg/erp-loader/internal/types"
)

var ErrRunNotFinished = errors.New("run has not finished")

// Run is one in-process submission started through the API.
type Run struct {
	ID        string
	Params    types.SubmissionParams
	Mode      string
	Rejected  int
	CreatedAt time.Time
	Engine    *engine.Engine

	done     chan struct{}
	manifest intake.Manifest
	err      error
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Manifest returns the run's result once it has finished.
func (r *Run) Manifest() (intake.Manifest, error) {
	select {
	case <-r.done:
		return r.manifest, r.err
	default:
		return intake.Manifest{}, ErrRunNotFinished
	}
}

// RunManager keeps the runs of this process in memory.
type RunManager struct {
	runner *runner.Runner
	log    *zap.Logger

	mu   sync.RWMutex
	runs map[string]*Run
}

func NewRunManager(r *runner.Runner, logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunManager{runner: r, log: logger, runs: make(map[string]*Run)}
}

// Start loads the input synchronously and runs the submission in the
// background. Loading errors are returned before a run exists.
func (m *RunManager) Start(ctx context.Context, p types.SubmissionParams) (*Run, error) {
	job, err := m.runner.Prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	log := m.log.With(zap.String("run_id", id))
	run := &Run{
		ID:        id,
		Params:    p,
		Mode:      job.Mode,
		Rejected:  job.Batch.Rejected(),
		CreatedAt: time.Now(),
		Engine:    m.runner.NewEngine(log),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	go func() {
		defer close(run.done)
		run.manifest, run.err = m.runner.Run(context.Background(), job, run.Engine, id)
		if run.err != nil {
			log.Error("run failed", zap.Error(run.err))
		}
	}()
	return run, nil
}

func (m *RunManager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// List returns all runs, newest first.
func (m *RunManager) List() []*Run {
	m.mu.RLock()
	out := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
