// Package submit connects the engine to the backend: it turns one batch of
// records into documents, submits them through an adapter and reports the
// outcomes in the shape the engine folds.
package submit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/erp-loader/internal/backend"
	"github.com/yourorg/erp-loader/internal/grouping"
	"github.com/yourorg/erp-loader/internal/types"
)

// DefaultWorkers bounds concurrent document submissions within a batch.
const DefaultWorkers = 4

const (
	CodeTransport = "TRANSPORT_ERROR"
	CodeTimeout   = "TIMEOUT"
)

// BatchSubmitter submits the documents of one batch. Its SubmitBatch method
// is an engine.SubmitBatchFunc.
type BatchSubmitter struct {
	layout  grouping.Layout
	adapter backend.Adapter
	log     *zap.Logger
	workers int
}

func NewBatchSubmitter(layout grouping.Layout, adapter backend.Adapter, logger *zap.Logger, workers int) *BatchSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &BatchSubmitter{layout: layout, adapter: adapter, log: logger, workers: workers}
}

// Adapter returns the adapter documents are sent through.
func (s *BatchSubmitter) Adapter() backend.Adapter { return s.adapter }

// SubmitBatch groups the batch, rejects what cannot be submitted and sends
// the remaining documents. Envelope adapters get the whole batch in one
// call and a failure of that call fails the batch. Otherwise documents are
// sent concurrently and a failed call only fails its own document.
func (s *BatchSubmitter) SubmitBatch(ctx context.Context, batch []types.Record, batchIndex int) (types.BatchOutcome, error) {
	plan := s.layout.Build(batch)
	log := s.log.With(zap.Int("batch", batchIndex), zap.String("adapter", s.adapter.Name()))

	var out types.BatchOutcome
	for _, r := range plan.Rejected {
		out.Failures = append(out.Failures, types.Failed(r.Code, r.Message, r.Record))
	}
	if len(plan.Rejected) > 0 {
		log.Info("records rejected before submission", zap.Int("count", len(plan.Rejected)))
	}
	if len(plan.Documents) == 0 {
		return out, nil
	}

	var outcomes []types.Outcome
	if env, ok := s.adapter.(backend.EnvelopeSubmitter); ok {
		var err error
		outcomes, err = env.SubmitEnvelope(ctx, plan.Documents)
		if err != nil {
			return types.BatchOutcome{}, fmt.Errorf("submit envelope: %w", err)
		}
	} else {
		outcomes = s.submitEach(ctx, plan.Documents)
	}

	for i, doc := range plan.Documents {
		var o types.Outcome
		if i < len(outcomes) {
			o = outcomes[i]
		} else {
			o = types.Failed(CodeTransport, "backend returned no outcome for document "+doc.Key)
		}
		if len(o.Records) == 0 {
			o.Records = doc.Records
		}
		if o.Status == types.StatusSuccess {
			out.Successes = append(out.Successes, o)
		} else {
			out.Failures = append(out.Failures, o)
		}
	}
	log.Debug("batch submitted",
		zap.Int("documents", len(plan.Documents)),
		zap.Int("ok", len(out.Successes)),
		zap.Int("failed", len(out.Failures)))
	return out, nil
}

// submitEach runs one call per document on a pool of
// min(workers, len(docs)) goroutines. Results keep document order.
func (s *BatchSubmitter) submitEach(ctx context.Context, docs []types.Document) []types.Outcome {
	out := make([]types.Outcome, len(docs))
	var g errgroup.Group
	g.SetLimit(min(s.workers, len(docs)))
	for i, doc := range docs {
		g.Go(func() error {
			o, err := s.adapter.SubmitDocument(ctx, doc)
			if err != nil {
				s.log.Warn("document submission failed", zap.String("key", doc.Key), zap.Error(err))
				o = types.Failed(Code(err), err.Error(), doc.Records...)
			}
			out[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Code classifies a submission error for reporting.
func Code(err error) string {
	var tokErr *backend.TokenError
	var httpErr *backend.HTTPError
	var netErr net.Error
	switch {
	case errors.As(err, &tokErr):
		return "TOKEN_" + strings.ToUpper(string(tokErr.Kind))
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP_%d", httpErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeTimeout
	default:
		return CodeTransport
	}
}
