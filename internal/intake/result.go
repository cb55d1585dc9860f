package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yourorg/erp-loader/internal/iopkg"
	"github.com/yourorg/erp-loader/internal/types"
)

// Manifest is the JSON document written at the end of a run.
type Manifest struct {
	Summary    types.RunSummary       `json:"summary"`
	Result     *types.ResultAggregate `json:"result"`
	Invalid    []types.Record         `json:"invalid,omitempty"`
	Duplicates []types.Record         `json:"duplicates,omitempty"`
}

// NewManifest combines the run result with what intake kept back.
func NewManifest(res *types.ResultAggregate, b *Batch) Manifest {
	m := Manifest{Result: res}
	if res != nil {
		m.Summary = types.Summarize(res)
	}
	if b != nil {
		m.Invalid = b.Invalid
		m.Duplicates = b.Duplicates
		m.Summary.Rejected = b.Rejected()
	}
	return m
}

// WriteResult writes m as indented JSON to uri.
func WriteResult(ctx context.Context, uri string, m Manifest) error {
	w, err := iopkg.CreateWriter(ctx, uri)
	if err != nil {
		return fmt.Errorf("create %s: %w", uri, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = w.Close()
		return fmt.Errorf("encode result: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", uri, err)
	}
	return nil
}

// ReadResult loads a manifest written by WriteResult.
func ReadResult(ctx context.Context, uri string) (Manifest, error) {
	var m Manifest
	b, err := iopkg.ReadAll(ctx, uri)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode result: %w", err)
	}
	return m, nil
}
