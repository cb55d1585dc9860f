package grouping

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/erp-loader/internal/types"
)

const (
	// CodeUngroupable marks records whose group key could not be resolved.
	CodeUngroupable = "UNGROUPABLE"
	// CodeInvalidField marks records with an unparseable amount or date.
	CodeInvalidField = "INVALID_FIELD"
	// CodeGroupWithheld marks valid records whose document was not submitted
	// because another record of the same group was rejected.
	CodeGroupWithheld = "GROUP_WITHHELD"
	// CodeDuplicateKey marks records of a header-only object whose key was
	// already taken by an earlier record of the batch.
	CodeDuplicateKey = "DUPLICATE_KEY"
)

// SectionSpec describes an optional nested block. It is emitted only when
// at least one of its fields is non-empty.
type SectionSpec struct {
	Name   string
	Fields []string
}

// Layout describes how one business object is shaped for the backend.
type Layout struct {
	Name           string
	KeyFields      []string
	HeaderFields   []string
	ItemFields     []string
	LineIDField    string // written into item fields when set
	LineIDStep     int    // default 10
	LineIDWidth    int    // zero-pad width, 0 for none
	Decimals       map[string]int
	DateFields     []string
	DateFormat     string // Go layout or DateODataV2
	HeaderSections []SectionSpec
	ItemSections   []SectionSpec
	ItemsName      string // navigation property or element name for items

	// backend addressing
	Mode            string // default submission mode, "odata" or "soap"
	Service         string // service path below the backend base URL
	Entity          string // entity set (odata) or document element (soap)
	Namespace       string // request namespace (soap)
	ReferenceFields []string
}

// FieldIssue flags one unparseable value for the validation layer.
type FieldIssue struct {
	SequenceID string
	Field      string
	Value      any
	Reason     string
}

func (i FieldIssue) String() string {
	return fmt.Sprintf("field %s: %s", i.Field, i.Reason)
}

// ToDocument builds one document from the records of a group. Header values
// come from the first record; every record becomes a line item in input
// order. Unparseable amounts and dates are set to nil and reported.
func (l Layout) ToDocument(records []types.Record) (types.Document, []FieldIssue) {
	var doc types.Document
	if len(records) == 0 {
		return doc, nil
	}
	var issues []FieldIssue
	first := records[0]
	doc.Key, _ = Key(first, l.KeyFields)
	doc.Header = l.fields(first, l.HeaderFields, &issues)
	doc.Sections = l.sections(first, l.HeaderSections, &issues)
	doc.Records = make([]types.Record, len(records))

	step := l.LineIDStep
	if step <= 0 {
		step = 10
	}
	for i, r := range records {
		doc.Records[i] = r.Clone()
		// header fields of later records are not used, only their items
		if i > 0 {
			l.checkOnly(r, l.HeaderFields, &issues)
		}
		if len(l.ItemFields) == 0 {
			continue
		}
		item := types.LineItem{
			Fields:   l.fields(r, l.ItemFields, &issues),
			Sections: l.sections(r, l.ItemSections, &issues),
			Record:   doc.Records[i],
		}
		item.LineID = r.String(l.LineIDField)
		if l.LineIDField == "" || item.LineID == "" {
			item.LineID = l.lineID((i + 1) * step)
		}
		if l.LineIDField != "" {
			item.Fields[l.LineIDField] = item.LineID
		}
		doc.Items = append(doc.Items, item)
	}
	return doc, issues
}

func (l Layout) lineID(n int) string {
	s := strconv.Itoa(n)
	if l.LineIDWidth > len(s) {
		s = strings.Repeat("0", l.LineIDWidth-len(s)) + s
	}
	return s
}

// fields copies the named fields, formatting amounts and dates. Empty values
// are omitted.
func (l Layout) fields(r types.Record, names []string, issues *[]FieldIssue) types.Fields {
	out := make(types.Fields, len(names))
	for _, name := range names {
		v, present := l.value(r, name, issues)
		if present {
			out[name] = v
		}
	}
	return out
}

func (l Layout) checkOnly(r types.Record, names []string, issues *[]FieldIssue) {
	for _, name := range names {
		l.value(r, name, issues)
	}
}

// sections returns only the sections with at least one non-empty field.
func (l Layout) sections(r types.Record, specs []SectionSpec, issues *[]FieldIssue) []types.Section {
	var out []types.Section
	for _, spec := range specs {
		if s, ok := l.section(r, spec, issues); ok {
			out = append(out, s)
		}
	}
	return out
}

func (l Layout) section(r types.Record, spec SectionSpec, issues *[]FieldIssue) (types.Section, bool) {
	f := l.fields(r, spec.Fields, issues)
	if len(f) == 0 {
		return types.Section{}, false
	}
	return types.Section{Name: spec.Name, Fields: f}, true
}

// value returns the backend representation of a field and whether it is
// present. A present but unparseable amount or date yields nil and an issue.
func (l Layout) value(r types.Record, name string, issues *[]FieldIssue) (any, bool) {
	raw, ok := r.Value(name)
	if !ok || raw == nil {
		return nil, false
	}
	if s, isStr := raw.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	if places, isAmount := l.Decimals[name]; isAmount {
		out, err := FormatDecimal(raw, places)
		if err != nil {
			*issues = append(*issues, FieldIssue{SequenceID: r.SequenceID, Field: name, Value: raw, Reason: err.Error()})
			return nil, true
		}
		return out, true
	}
	if l.isDate(name) {
		out, err := FormatDate(raw, l.DateFormat)
		if err != nil {
			*issues = append(*issues, FieldIssue{SequenceID: r.SequenceID, Field: name, Value: raw, Reason: err.Error()})
			return nil, true
		}
		return out, true
	}
	if s, isStr := raw.(string); isStr {
		return strings.TrimSpace(s), true
	}
	return raw, true
}

func (l Layout) isDate(name string) bool {
	for _, f := range l.DateFields {
		if f == name {
			return true
		}
	}
	return false
}

// Rejection is a record that must not be submitted.
type Rejection struct {
	Record  types.Record
	Code    string
	Message string
}

// Plan is the submission plan of one batch.
type Plan struct {
	Documents []types.Document
	Rejected  []Rejection
}

// Build groups records and builds one document per group. Records without
// a key and groups with field issues end up in Rejected instead of being
// submitted; a group is withheld as a whole when any of its records is
// flagged. Objects without line items take one record per key; later
// records with the same key are rejected as duplicates.
func (l Layout) Build(records []types.Record) Plan {
	var plan Plan
	groups := GroupRecords(records, l.KeyFields)
	for _, r := range groups.Unknown {
		plan.Rejected = append(plan.Rejected, Rejection{
			Record:  r.Clone(),
			Code:    CodeUngroupable,
			Message: "missing group key field(s): " + strings.Join(l.missingKeys(r), ", "),
		})
	}
	for _, g := range groups.Groups {
		if len(l.ItemFields) == 0 && len(g.Records) > 1 {
			for _, r := range g.Records[1:] {
				plan.Rejected = append(plan.Rejected, Rejection{
					Record:  r.Clone(),
					Code:    CodeDuplicateKey,
					Message: fmt.Sprintf("%s %s already submitted by record %s", strings.Join(l.KeyFields, "+"), g.Key, g.Records[0].SequenceID),
				})
			}
			g.Records = g.Records[:1]
		}
		doc, issues := l.ToDocument(g.Records)
		if len(issues) == 0 {
			plan.Documents = append(plan.Documents, doc)
			continue
		}
		bySeq := make(map[string][]string)
		for _, is := range issues {
			bySeq[is.SequenceID] = append(bySeq[is.SequenceID], is.String())
		}
		for _, r := range g.Records {
			if msgs, bad := bySeq[r.SequenceID]; bad {
				plan.Rejected = append(plan.Rejected, Rejection{Record: r.Clone(), Code: CodeInvalidField, Message: strings.Join(msgs, "; ")})
				continue
			}
			plan.Rejected = append(plan.Rejected, Rejection{
				Record:  r.Clone(),
				Code:    CodeGroupWithheld,
				Message: fmt.Sprintf("document %s withheld: another line has invalid fields", g.Key),
			})
		}
	}
	return plan
}

func (l Layout) missingKeys(r types.Record) []string {
	var out []string
	for _, f := range l.KeyFields {
		if r.String(f) == "" {
			out = append(out, f)
		}
	}
	return out
}
