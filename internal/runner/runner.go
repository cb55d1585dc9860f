// Package runner prepares and executes one submission run: intake, layout
// and adapter selection, the engine loop and the result manifest. The
// Temporal activity, the HTTP API and the CLI all drive runs through it.
package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/config"
	"github.com/yourorg/erp-loader/internal/engine"
	"github.com/yourorg/erp-loader/internal/grouping"
	"github.com/yourorg/erp-loader/internal/intake"
	"github.com/yourorg/erp-loader/internal/submit"
	"github.com/yourorg/erp-loader/internal/types"
)

var ErrUnknownObject = errors.New("unknown business object")

type Runner struct {
	cfg *config.Config
	log *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: logger}
}

// Job is a loaded submission ready to run.
type Job struct {
	Params types.SubmissionParams
	Mode   string
	Layout grouping.Layout
	Batch  *intake.Batch

	submitter *submit.BatchSubmitter
}

// Prepare resolves the layout and mode and loads the input records.
func (r *Runner) Prepare(ctx context.Context, p types.SubmissionParams) (*Job, error) {
	layout, ok := grouping.Lookup(p.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObject, p.Object)
	}
	reg := submit.NewRegistry(layout, r.cfg.Backends(r.log), r.log)
	s, err := reg.Lookup(p.Mode)
	if err != nil {
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = layout.Mode
	}

	batch, err := intake.Load(ctx, p.InputURI, r.log)
	if err != nil {
		return nil, err
	}
	return &Job{Params: p, Mode: mode, Layout: layout, Batch: batch, submitter: s}, nil
}

// NewEngine returns an engine tuned from configuration.
func (r *Runner) NewEngine(logger *zap.Logger) *engine.Engine {
	if logger == nil {
		logger = r.log
	}
	return engine.New(logger,
		engine.WithBatchSize(r.cfg.Engine.BatchSize),
		engine.WithCallTimeout(r.cfg.Engine.CallTimeout))
}

// Run submits the job's records on eng and writes the manifest when the job
// names a result URI. ctx reaches every backend call; stopping a run early
// is done with eng.Cancel.
func (r *Runner) Run(ctx context.Context, job *Job, eng *engine.Engine, runID string) (intake.Manifest, error) {
	res := &types.ResultAggregate{RunID: runID, Mode: job.Mode}
	if len(job.Batch.Records) > 0 {
		var err error
		res, err = eng.Submit(ctx, job.Batch.Records, job.submitter.SubmitBatch, engine.Options{
			BatchSize: job.Params.BatchSize,
			Mode:      job.Mode,
			RunID:     runID,
		})
		if err != nil {
			return intake.Manifest{}, err
		}
	} else {
		r.log.Warn("no valid records to submit", zap.String("run_id", runID), zap.Int("rejected", job.Batch.Rejected()))
	}

	m := intake.NewManifest(res, job.Batch)
	if uri := job.Params.ResultURI; uri != "" {
		if err := intake.WriteResult(context.WithoutCancel(ctx), uri, m); err != nil {
			return m, err
		}
		m.Summary.ResultURI = uri
	}
	return m, nil
}
