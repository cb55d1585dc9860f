package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/erp-loader/internal/types"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadJSONL(t *testing.T) {
	p := writeFile(t, "records.jsonl", strings.Join([]string{
		`{"sequence_id":"1","PurchaseOrder":"4500000001","QuantityInEntryUnit":2.5}`,
		``,
		`{"PurchaseOrder":"4500000002"}`,
		`{"sequence_id":"3","status":"invalid","PurchaseOrder":"bad"}`,
		`{"sequence_id":"1","PurchaseOrder":"again"}`,
	}, "\n"))

	b, err := Load(context.Background(), p, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, b.Records, 2)
	assert.Equal(t, "1", b.Records[0].SequenceID)
	assert.Equal(t, json.Number("2.5"), b.Records[0].Fields["QuantityInEntryUnit"])
	assert.NotContains(t, b.Records[0].Fields, FieldSequenceID)
	assert.Equal(t, "row-2", b.Records[1].SequenceID)
	assert.Equal(t, types.RecordValid, b.Records[1].Status)

	require.Len(t, b.Invalid, 1)
	assert.Equal(t, "3", b.Invalid[0].SequenceID)
	assert.NotContains(t, b.Invalid[0].Fields, FieldStatus)

	require.Len(t, b.Duplicates, 1)
	assert.Equal(t, "again", b.Duplicates[0].String("PurchaseOrder"))
	assert.Equal(t, 2, b.Rejected())
}

func TestLoadJSONLBadLine(t *testing.T) {
	p := writeFile(t, "records.jsonl", "{\"a\":1}\n{oops\n")
	_, err := Load(context.Background(), p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadCSV(t *testing.T) {
	p := writeFile(t, "records.csv", "\ufeffPurchaseOrder,PostingDate,Note\n4500000001,2026-03-01,\n,,\n4500000002,2026-03-02,late\n")
	b, err := Load(context.Background(), "file://"+p, nil)
	require.NoError(t, err)
	require.Len(t, b.Records, 2)
	assert.Equal(t, "row-1", b.Records[0].SequenceID)
	assert.Equal(t, "4500000001", b.Records[0].String("PurchaseOrder"))
	assert.NotContains(t, b.Records[0].Fields, "Note", "empty cells are left out")
	assert.Equal(t, "row-2", b.Records[1].SequenceID)
	assert.Equal(t, "late", b.Records[1].String("Note"))
}

func TestLoadCSVSemicolon(t *testing.T) {
	p := writeFile(t, "export.csv", "sequence_id;OrderQuantity;Plant\n7;1,5;1010\n")
	b, err := Load(context.Background(), p, nil)
	require.NoError(t, err)
	require.Len(t, b.Records, 1)
	assert.Equal(t, "7", b.Records[0].SequenceID)
	assert.Equal(t, "1,5", b.Records[0].String("OrderQuantity"))
	assert.Equal(t, "1010", b.Records[0].String("Plant"))
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', detectDelimiter([]byte("a,b;c,d\n;;;;;;")))
	assert.Equal(t, ';', detectDelimiter([]byte("a;b;c")))
	assert.Equal(t, '\t', detectDelimiter([]byte("a\tb\tc,d")))
}

func TestLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"sequence_id", "FixedAssetExternalID", "CapitalizationDate"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"a-1", "FA-1", 46082}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"a-2", "FA-2", 46083}))
	p := filepath.Join(t.TempDir(), "assets.xlsx")
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	b, err := Load(context.Background(), p, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, b.Records, 2)
	assert.Equal(t, "a-1", b.Records[0].SequenceID)
	assert.Equal(t, "FA-2", b.Records[1].String("FixedAssetExternalID"))
	assert.Equal(t, "46082", b.Records[0].String("CapitalizationDate"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), writeFile(t, "records.json", "{}"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(context.Background(), writeFile(t, "empty.csv", "A,B\n"), nil)
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteResult(t *testing.T) {
	res := &types.ResultAggregate{
		RunID:          "run-1",
		TotalRecords:   2,
		ProcessedCount: 2,
		SuccessCount:   1,
		FailureCount:   1,
	}
	b := &Batch{Invalid: []types.Record{{SequenceID: "9", Status: types.RecordInvalid}}}
	uri := "file://" + filepath.Join(t.TempDir(), "out", "result.json")

	require.NoError(t, WriteResult(context.Background(), uri, NewManifest(res, b)))

	m, err := ReadResult(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.Summary.RunID)
	assert.Equal(t, 1, m.Summary.Rejected)
	assert.Equal(t, types.RunPartialSuccess, m.Summary.Result)
	require.Len(t, m.Invalid, 1)
	assert.Equal(t, "9", m.Invalid[0].SequenceID)
}
