package engine

import "github.com/yourorg/erp-loader/internal/types"

// DefaultBatchSize is used when Options.BatchSize is zero.
const DefaultBatchSize = 10

// Partition slices records into contiguous batches of at most size records,
// preserving order. The returned batches share the input's backing array.
func Partition(records []types.Record, size int) [][]types.Record {
	if size < 1 {
		size = DefaultBatchSize
	}
	n := TotalBatches(len(records), size)
	out := make([][]types.Record, 0, n)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end:end])
	}
	return out
}

// TotalBatches is ceil(n/size).
func TotalBatches(n, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return (n + size - 1) / size
}
