// Package types holds the records, documents, outcomes and progress model shared by the loader.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecordStatus is set upstream by the validation layer.
type RecordStatus string

const (
	RecordValid   RecordStatus = "Valid"
	RecordInvalid RecordStatus = "Invalid"
)

// Fields holds business-specific values that pass through the engine opaquely.
type Fields map[string]any

// Clone returns a shallow copy; nil stays nil.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is one validated business row.
type Record struct {
	SequenceID string       `json:"sequence_id"`
	Status     RecordStatus `json:"status"`
	Fields     Fields       `json:"fields"`
}

// Clone copies the record so outcomes never alias caller state.
func (r Record) Clone() Record {
	return Record{SequenceID: r.SequenceID, Status: r.Status, Fields: r.Fields.Clone()}
}

// Value returns the raw field value and whether it is present.
func (r Record) Value(field string) (any, bool) {
	v, ok := r.Fields[field]
	return v, ok
}

// String renders a field as trimmed text; missing and nil fields are "".
func (r Record) String(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Section is an optional nested block (valuation, ledger, ...).
type Section struct {
	Name   string `json:"name"`
	Fields Fields `json:"fields"`
}

// LineItem is one document line built from one record.
type LineItem struct {
	LineID   string    `json:"line_id"`
	Fields   Fields    `json:"fields"`
	Sections []Section `json:"sections,omitempty"`
	Record   Record    `json:"-"`
}

// Document is the backend-shaped aggregate for one group key.
type Document struct {
	Key      string     `json:"key"`
	Header   Fields     `json:"header"`
	Sections []Section  `json:"sections,omitempty"`
	Items    []LineItem `json:"items"`
	Records  []Record   `json:"-"`
}

// OutcomeStatus is the normalized result of a submission.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "Success"
	StatusError   OutcomeStatus = "Error"
)

// Detail is one backend-provided message attached to an outcome.
type Detail struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Outcome is the normalized result for one document or line item.
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	Reference string        `json:"reference,omitempty"`
	Message   string        `json:"message"`
	Code      string        `json:"code,omitempty"`
	Details   []Detail      `json:"details,omitempty"`
	Records   []Record      `json:"-"`
}

// Failed builds an error outcome for the given records.
func Failed(code, message string, records ...Record) Outcome {
	return Outcome{Status: StatusError, Code: code, Message: message, Records: records}
}

// BatchOutcome is what a submit function reports for one batch.
type BatchOutcome struct {
	Successes []Outcome
	Failures  []Outcome
}

// RecordResult is the per-record view of an outcome after folding.
type RecordResult struct {
	Record     Record        `json:"record"`
	BatchIndex int           `json:"batch_index"`
	Status     OutcomeStatus `json:"status"`
	Reference  string        `json:"reference,omitempty"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message"`
	Details    []Detail      `json:"details,omitempty"`
}

// Message is one entry of the run's message log.
type Message struct {
	SequenceID string        `json:"sequence_id"`
	BatchIndex int           `json:"batch_index"`
	Status     OutcomeStatus `json:"status"`
	Code       string        `json:"code,omitempty"`
	Text       string        `json:"text"`
}

// Classification distinguishes how a run ended from its counts alone.
type Classification string

const (
	RunEmpty          Classification = "empty"
	RunFullSuccess    Classification = "full_success"
	RunPartialSuccess Classification = "partial_success"
	RunFullFailure    Classification = "full_failure"
)

// ResultAggregate accumulates every outcome of one run.
type ResultAggregate struct {
	RunID          string         `json:"run_id"`
	Mode           string         `json:"mode"`
	TotalRecords   int            `json:"total_records"`
	ProcessedCount int            `json:"processed_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
	SuccessRecords []RecordResult `json:"success_records"`
	ErrorRecords   []RecordResult `json:"error_records"`
	AllMessages    []Message      `json:"all_messages"`
	Cancelled      bool           `json:"cancelled"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at,omitempty"`
}

// Classification reports full success, partial success or full failure.
func (r *ResultAggregate) Classification() Classification {
	switch {
	case r.SuccessCount == 0 && r.FailureCount == 0:
		return RunEmpty
	case r.FailureCount == 0:
		return RunFullSuccess
	case r.SuccessCount == 0:
		return RunFullFailure
	default:
		return RunPartialSuccess
	}
}

// Clone deep-copies the slices so readers never observe later appends.
func (r *ResultAggregate) Clone() *ResultAggregate {
	if r == nil {
		return nil
	}
	out := *r
	out.SuccessRecords = append([]RecordResult(nil), r.SuccessRecords...)
	out.ErrorRecords = append([]RecordResult(nil), r.ErrorRecords...)
	out.AllMessages = append([]Message(nil), r.AllMessages...)
	return &out
}

// RunState is the engine's lifecycle state.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateInitializing RunState = "initializing"
	StateProcessing   RunState = "processing"
	StateCompleted    RunState = "completed"
	StateCancelled    RunState = "cancelled"
	StateFatalError   RunState = "fatal_error"
)

// Terminal reports whether no further batches will run.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFatalError
}

// ProgressState is the UI-facing snapshot recomputed after every batch.
type ProgressState struct {
	Status                 string        `json:"status"`
	State                  RunState      `json:"state"`
	CurrentBatch           int           `json:"current_batch"`
	TotalBatches           int           `json:"total_batches"`
	ProcessedEntries       int           `json:"processed_entries"`
	TotalEntries           int           `json:"total_entries"`
	SuccessEntries         int           `json:"success_entries"`
	FailedEntries          int           `json:"failed_entries"`
	ProcessingSpeed        float64       `json:"processing_speed"` // records per second
	EstimatedTimeRemaining string        `json:"estimated_time_remaining"`
	Remaining              time.Duration `json:"remaining_ns"`
	Calculating            bool          `json:"calculating"`
	IsCompleted            bool          `json:"is_completed"`
	IsError                bool          `json:"is_error"`
	Cancelled              bool          `json:"cancelled"`
}

// SubmissionParams is the input of the submission workflow.
type SubmissionParams struct {
	InputURI  string `json:"input_uri"`  // file:// or s3:// (.jsonl or .xlsx)
	ResultURI string `json:"result_uri"` // where the result manifest goes; optional
	Object    string `json:"object"`     // business object layout, e.g. "goods-receipt"
	Mode      string `json:"mode"`       // "odata" | "soap"
	BatchSize int    `json:"batch_size"`
}

// RunSummary is the compact result returned by the workflow.
type RunSummary struct {
	RunID          string         `json:"run_id"`
	TotalRecords   int            `json:"total_records"`
	ProcessedCount int            `json:"processed_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
	Rejected       int            `json:"rejected"` // invalid at intake, never submitted
	Cancelled      bool           `json:"cancelled"`
	Result         Classification `json:"result"`
	ResultURI      string         `json:"result_uri,omitempty"`
}

// Summarize projects an aggregate into a RunSummary.
func Summarize(r *ResultAggregate) RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		TotalRecords:   r.TotalRecords,
		ProcessedCount: r.ProcessedCount,
		SuccessCount:   r.SuccessCount,
		FailureCount:   r.FailureCount,
		Cancelled:      r.Cancelled,
		Result:         r.Classification(),
	}
}
