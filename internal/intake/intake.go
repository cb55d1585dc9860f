// Package intake loads record files and writes result manifests. Sources
// are JSON Lines, CSV, .xlsx or legacy .xls files addressed by file:// or
// s3:// URIs; the first row (or each JSON object's keys) names the fields.
package intake

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/iopkg"
	"github.com/yourorg/erp-loader/internal/types"
)

const (
	// FieldSequenceID and FieldStatus are read from the source when present.
	FieldSequenceID = "sequence_id"
	FieldStatus     = "status"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported record file format")
	ErrEmptySource       = errors.New("record file holds no records")
)

// Batch is the result of loading one source. Records holds the valid,
// unique records in file order; the others are never submitted.
type Batch struct {
	Records    []types.Record
	Invalid    []types.Record
	Duplicates []types.Record
}

// Rejected counts the records kept out of submission.
func (b *Batch) Rejected() int { return len(b.Invalid) + len(b.Duplicates) }

// Load reads and splits the records at uri.
func Load(ctx context.Context, uri string, logger *zap.Logger) (*Batch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := iopkg.Parse(uri)
	if err != nil {
		return nil, err
	}
	rc, _, err := iopkg.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	defer rc.Close()

	var rows []types.Record
	switch loc.Ext() {
	case ".jsonl", ".ndjson":
		rows, err = ReadJSONL(rc)
	case ".csv", ".txt":
		rows, err = ReadCSV(rc, 0)
	case ".tsv":
		rows, err = ReadCSV(rc, '\t')
	case ".xlsx", ".xlsm":
		rows, err = ReadXLSX(rc)
	case ".xls":
		rows, err = ReadXLS(rc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, loc.Ext())
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptySource
	}

	b, err := split(rows)
	if err != nil {
		return nil, err
	}
	logger.Info("records loaded",
		zap.String("uri", uri),
		zap.Int("valid", len(b.Records)),
		zap.Int("invalid", len(b.Invalid)),
		zap.Int("duplicates", len(b.Duplicates)))
	return b, nil
}

// split separates invalid records and repeated sequence ids. Seen ids are
// tracked in an in-memory badger instance.
func split(rows []types.Record) (*Batch, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open dedupe store: %w", err)
	}
	defer db.Close()

	b := &Batch{}
	for _, r := range rows {
		dup := false
		key := []byte(r.SequenceID)
		err := db.Update(func(txn *badger.Txn) error {
			_, e := txn.Get(key)
			if errors.Is(e, badger.ErrKeyNotFound) {
				return txn.Set(key, []byte{1})
			}
			if e == nil {
				dup = true
			}
			return e
		})
		if err != nil {
			return nil, fmt.Errorf("dedupe %s: %w", r.SequenceID, err)
		}
		switch {
		case dup:
			b.Duplicates = append(b.Duplicates, r)
		case r.Status == types.RecordInvalid:
			b.Invalid = append(b.Invalid, r)
		default:
			b.Records = append(b.Records, r)
		}
	}
	return b, nil
}

// newRecord pulls the reserved fields out of f. Rows without an id get
// row-<n>, n counting data rows from 1.
func newRecord(f types.Fields, n int) types.Record {
	r := types.Record{Status: types.RecordValid, Fields: f}
	if v, ok := f[FieldSequenceID]; ok {
		r.SequenceID = strings.TrimSpace(fmt.Sprint(v))
		delete(f, FieldSequenceID)
	}
	if r.SequenceID == "" {
		r.SequenceID = fmt.Sprintf("row-%d", n)
	}
	if v, ok := f[FieldStatus]; ok {
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(v)), string(types.RecordInvalid)) {
			r.Status = types.RecordInvalid
		}
		delete(f, FieldStatus)
	}
	return r
}

// ReadJSONL reads one JSON object per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]types.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var out []types.Record
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var f types.Fields
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, newRecord(f, len(out)+1))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadCSV reads a delimited file with a header row. A zero comma is
// detected from the first 4KB.
func ReadCSV(r io.Reader, comma rune) ([]types.Record, error) {
	br := bufio.NewReader(r)
	if comma == 0 {
		sample, _ := br.Peek(4096)
		comma = detectDelimiter(sample)
	}
	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// ReadXLSX reads the first sheet of a workbook. Cell values are taken raw so
// dates arrive as serial numbers.
func ReadXLSX(r io.Reader) ([]types.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheets[0], err)
	}
	return fromRows(rows), nil
}

// ReadXLS reads the first sheet of a legacy BIFF workbook.
func ReadXLS(r io.Reader) ([]types.Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	wb, err := xls.OpenReader(bytes.NewReader(b), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sh := wb.GetSheet(0)
	if sh == nil {
		return nil, nil
	}
	rows := make([][]string, 0, int(sh.MaxRow)+1)
	for i := 0; i <= int(sh.MaxRow); i++ {
		row := sh.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := range cells {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return fromRows(rows), nil
}

func detectDelimiter(b []byte) rune {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	cComma := bytes.Count(b, []byte{','})
	cTab := bytes.Count(b, []byte{'\t'})
	cSemi := bytes.Count(b, []byte{';'})
	if cTab > cComma && cTab > cSemi {
		return '\t'
	}
	if cSemi > cComma {
		return ';'
	}
	return ','
}

// fromRows maps data rows onto the header row. Empty cells are left out and
// fully empty rows are skipped.
func fromRows(rows [][]string) []types.Record {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	var out []types.Record
	for _, row := range rows[1:] {
		f := make(types.Fields, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				f[header[i]] = v
			}
		}
		if len(f) == 0 {
			continue
		}
		out = append(out, newRecord(f, len(out)+1))
	}
	return out
}
