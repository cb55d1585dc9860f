// Package grouping turns flat records into backend documents: records are
// grouped by a natural document key and each group becomes one header with
// ordered line items.
package grouping

import (
	"strings"

	"github.com/yourorg/erp-loader/internal/types"
)

// UnknownKey names the bucket of records missing a key field. Records in it
// must be reported as errors, never submitted.
const UnknownKey = "<unknown>"

// keySep joins composite key parts.
const keySep = "|"

// Group holds the records sharing one key, in input order.
type Group struct {
	Key     string
	Records []types.Record
}

// Groups is the ordered result of grouping.
type Groups struct {
	Groups  []Group        // first-seen key order
	Unknown []types.Record // records with a missing key field
}

// Len returns the number of keyed groups.
func (g *Groups) Len() int { return len(g.Groups) }

// Map returns key -> records, including the unknown bucket when non-empty.
func (g *Groups) Map() map[string][]types.Record {
	out := make(map[string][]types.Record, len(g.Groups)+1)
	for _, gr := range g.Groups {
		out[gr.Key] = gr.Records
	}
	if len(g.Unknown) > 0 {
		out[UnknownKey] = g.Unknown
	}
	return out
}

// Key builds the group key of r, or ok=false when a key field is empty.
func Key(r types.Record, keyFields []string) (string, bool) {
	if len(keyFields) == 0 {
		return r.SequenceID, r.SequenceID != ""
	}
	parts := make([]string, len(keyFields))
	for i, f := range keyFields {
		v := r.String(f)
		if v == "" {
			return "", false
		}
		parts[i] = v
	}
	return strings.Join(parts, keySep), true
}

// GroupRecords partitions records by the concatenation of keyFields. Without key
// fields every record is its own group.
func GroupRecords(records []types.Record, keyFields []string) *Groups {
	out := &Groups{}
	index := make(map[string]int)
	for _, r := range records {
		k, ok := Key(r, keyFields)
		if !ok {
			out.Unknown = append(out.Unknown, r)
			continue
		}
		i, seen := index[k]
		if !seen {
			i = len(out.Groups)
			index[k] = i
			out.Groups = append(out.Groups, Group{Key: k})
		}
		out.Groups[i].Records = append(out.Groups[i].Records, r)
	}
	return out
}
