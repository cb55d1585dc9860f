package engine

import (
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/types"
)

const (
	// CodeBatchFailed marks records of a batch whose submit call failed.
	CodeBatchFailed = "BATCH_FAILED"
	// CodeNoOutcome marks records the submit function did not report on.
	CodeNoOutcome = "NO_OUTCOME"
)

// batchFailure turns a batch-level error into one error outcome covering
// every record of the batch.
func batchFailure(batch []types.Record, err error) types.BatchOutcome {
	return types.BatchOutcome{
		Failures: []types.Outcome{types.Failed(CodeBatchFailed, err.Error(), batch...)},
	}
}

// folder owns the aggregate of one run. It is only used by the engine's run
// loop and is always called with the engine's write lock held.
type folder struct {
	log    *zap.Logger
	result *types.ResultAggregate
	folded map[int]bool
}

func newFolder(log *zap.Logger, result *types.ResultAggregate) *folder {
	return &folder{log: log, result: result, folded: make(map[int]bool)}
}

// fold expands the batch outcome to per-record results and appends them in
// input order. A record named by an error outcome is an error even if a
// success outcome also names it; records nobody reported on fail with
// CodeNoOutcome. Returns the number of successes and failures folded.
func (f *folder) fold(idx int, batch []types.Record, out types.BatchOutcome) (ok, failed int, err error) {
	if f.folded[idx] {
		return 0, 0, errAlreadyFolded
	}
	f.folded[idx] = true

	pos := make(map[string]int, len(batch))
	for i, r := range batch {
		if _, dup := pos[r.SequenceID]; !dup {
			pos[r.SequenceID] = i
		}
	}
	slots := make([]*types.RecordResult, len(batch))

	assign := func(o types.Outcome, status types.OutcomeStatus) {
		for _, rec := range o.Records {
			p, known := pos[rec.SequenceID]
			if !known {
				f.log.Warn("outcome names record outside batch",
					zap.Int("batch", idx), zap.String("sequence_id", rec.SequenceID))
				continue
			}
			if slots[p] != nil {
				continue
			}
			slots[p] = &types.RecordResult{
				Record:     batch[p].Clone(),
				BatchIndex: idx,
				Status:     status,
				Reference:  o.Reference,
				Code:       o.Code,
				Message:    messageFor(o, status),
				Details:    append([]types.Detail(nil), o.Details...),
			}
		}
	}

	// errors first so they win over a conflicting success
	for _, o := range out.Failures {
		assign(o, types.StatusError)
	}
	for _, o := range out.Successes {
		if o.Status == types.StatusError {
			assign(o, types.StatusError)
		}
	}
	for _, o := range out.Successes {
		if o.Status != types.StatusError {
			assign(o, types.StatusSuccess)
		}
	}

	r := f.result
	for i, s := range slots {
		if s == nil {
			s = &types.RecordResult{
				Record:     batch[i].Clone(),
				BatchIndex: idx,
				Status:     types.StatusError,
				Code:       CodeNoOutcome,
				Message:    "no outcome reported for record",
			}
		}
		if s.Status == types.StatusSuccess {
			r.SuccessRecords = append(r.SuccessRecords, *s)
			r.SuccessCount++
			ok++
		} else {
			r.ErrorRecords = append(r.ErrorRecords, *s)
			r.FailureCount++
			failed++
		}
		r.ProcessedCount++
		r.AllMessages = append(r.AllMessages, types.Message{
			SequenceID: s.Record.SequenceID,
			BatchIndex: idx,
			Status:     s.Status,
			Code:       s.Code,
			Text:       s.Message,
		})
	}
	return ok, failed, nil
}

func messageFor(o types.Outcome, status types.OutcomeStatus) string {
	if o.Message != "" {
		return o.Message
	}
	if status == types.StatusSuccess {
		if o.Reference != "" {
			return "created " + o.Reference
		}
		return "created"
	}
	return "submission failed"
}
