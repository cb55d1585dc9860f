package grouping

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/erp-loader/internal/types"
)

func rec(id string, f types.Fields) types.Record {
	return types.Record{SequenceID: id, Status: types.RecordValid, Fields: f}
}

func TestGroupRecordsSizesAndOrder(t *testing.T) {
	records := []types.Record{
		rec("1", types.Fields{"DocumentNumber": "A"}),
		rec("2", types.Fields{"DocumentNumber": "B"}),
		rec("3", types.Fields{"DocumentNumber": "A"}),
		rec("4", types.Fields{"DocumentNumber": "C"}),
		rec("5", types.Fields{"DocumentNumber": "B"}),
		rec("6", types.Fields{"DocumentNumber": "B"}),
	}
	g := GroupRecords(records, []string{"DocumentNumber"})
	require.Equal(t, 3, g.Len())
	assert.Empty(t, g.Unknown)

	assert.Equal(t, "A", g.Groups[0].Key)
	assert.Equal(t, "B", g.Groups[1].Key)
	assert.Equal(t, "C", g.Groups[2].Key)

	ids := func(rs []types.Record) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.SequenceID)
		}
		return out
	}
	assert.Equal(t, []string{"1", "3"}, ids(g.Groups[0].Records))
	assert.Equal(t, []string{"2", "5", "6"}, ids(g.Groups[1].Records))
	assert.Equal(t, []string{"4"}, ids(g.Groups[2].Records))

	l := Layout{KeyFields: []string{"DocumentNumber"}, ItemFields: []string{"DocumentNumber"}}
	plan := l.Build(records)
	require.Len(t, plan.Documents, 3)
	assert.Len(t, plan.Documents[0].Items, 2)
	assert.Len(t, plan.Documents[1].Items, 3)
	assert.Len(t, plan.Documents[2].Items, 1)
	assert.Equal(t, "5", plan.Documents[1].Items[1].Record.SequenceID)
}

func TestGroupRecordsCompositeKeyAndUnknownBucket(t *testing.T) {
	records := []types.Record{
		rec("1", types.Fields{"PurchaseOrder": "4500000001", "PostingDate": "2026-03-01"}),
		rec("2", types.Fields{"PurchaseOrder": "4500000001", "PostingDate": "2026-03-02"}),
		rec("3", types.Fields{"PurchaseOrder": "4500000001"}),
		rec("4", types.Fields{"PurchaseOrder": "  ", "PostingDate": "2026-03-01"}),
	}
	g := GroupRecords(records, []string{"PurchaseOrder", "PostingDate"})
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, "4500000001|2026-03-01", g.Groups[0].Key)
	require.Len(t, g.Unknown, 2)
	assert.Contains(t, g.Map(), UnknownKey)

	plan := Layout{KeyFields: []string{"PurchaseOrder", "PostingDate"}}.Build(records)
	require.Len(t, plan.Rejected, 2)
	assert.Equal(t, CodeUngroupable, plan.Rejected[0].Code)
	assert.Contains(t, plan.Rejected[0].Message, "PostingDate")
	assert.Contains(t, plan.Rejected[1].Message, "PurchaseOrder")
}

func TestToDocumentLineIDsAndHeader(t *testing.T) {
	l, ok := Lookup("purchase-order")
	require.True(t, ok)
	records := []types.Record{
		rec("1", types.Fields{"DocumentNumber": "D1", "CompanyCode": "1000", "Supplier": "S1", "Material": "M1", "OrderQuantity": "2", "NetPriceAmount": 10.5}),
		rec("2", types.Fields{"DocumentNumber": "D1", "CompanyCode": "9999", "Material": "M2", "OrderQuantity": 1.23456, "PurchaseOrderItem": "00070"}),
		rec("3", types.Fields{"DocumentNumber": "D1", "Material": "M3", "OrderQuantity": "1,5"}),
	}
	doc, issues := l.ToDocument(records)
	require.Empty(t, issues)

	assert.Equal(t, "D1", doc.Key)
	assert.Equal(t, "1000", doc.Header["CompanyCode"], "header comes from the first record")
	assert.Equal(t, "S1", doc.Header["Supplier"])
	require.Len(t, doc.Items, 3)
	assert.Equal(t, "10", doc.Items[0].LineID)
	assert.Equal(t, "00070", doc.Items[1].LineID, "existing line id is kept")
	assert.Equal(t, "30", doc.Items[2].LineID)
	assert.Equal(t, "30", doc.Items[2].Fields["PurchaseOrderItem"])
	assert.Equal(t, "2.000", doc.Items[0].Fields["OrderQuantity"])
	assert.Equal(t, "10.50", doc.Items[0].Fields["NetPriceAmount"])
	assert.Equal(t, "1.235", doc.Items[1].Fields["OrderQuantity"])
	assert.Equal(t, "1.500", doc.Items[2].Fields["OrderQuantity"])
	assert.Len(t, doc.Records, 3)
}

func TestToDocumentOmitsEmptySections(t *testing.T) {
	l, ok := Lookup("fixed-asset")
	require.True(t, ok)

	doc, issues := l.ToDocument([]types.Record{rec("1", types.Fields{
		"FixedAssetExternalID":     "FA-1",
		"CompanyCode":              "1000",
		"AssetClass":               "3000",
		"DepreciationKey":          "LINA",
		"PlannedUsefulLifeInYears": "5",
		"Ledger":                   "",
		"AcquisitionValue":         nil,
	})})
	require.Empty(t, issues)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Valuation", doc.Sections[0].Name)
	assert.Equal(t, "5", doc.Sections[0].Fields["PlannedUsefulLifeInYears"])
	assert.Empty(t, doc.Items, "header-only layout has no items")
}

func TestToDocumentFlagsUnparseableValues(t *testing.T) {
	l, _ := Lookup("goods-receipt")
	records := []types.Record{
		rec("1", types.Fields{"PurchaseOrder": "45", "PostingDate": "2026-03-01", "QuantityInEntryUnit": "5"}),
		rec("2", types.Fields{"PurchaseOrder": "45", "PostingDate": "2026-03-01", "QuantityInEntryUnit": "five"}),
	}
	doc, issues := l.ToDocument(records)
	require.Len(t, issues, 1)
	assert.Equal(t, "2", issues[0].SequenceID)
	assert.Equal(t, "QuantityInEntryUnit", issues[0].Field)
	assert.Nil(t, doc.Items[1].Fields["QuantityInEntryUnit"])
	assert.Contains(t, doc.Items[1].Fields, "QuantityInEntryUnit")

	plan := l.Build(records)
	assert.Empty(t, plan.Documents)
	require.Len(t, plan.Rejected, 2)
	assert.Equal(t, CodeGroupWithheld, plan.Rejected[0].Code)
	assert.Equal(t, CodeInvalidField, plan.Rejected[1].Code)
}

func TestBuildHeaderOnlyRejectsRepeatedKey(t *testing.T) {
	l, _ := Lookup("wbs-element")
	records := []types.Record{
		rec("1", types.Fields{"ProjectElement": "P-1", "ProjectElementDescription": "first"}),
		rec("2", types.Fields{"ProjectElement": "P-1", "ProjectElementDescription": "second", "PlannedStartDate": "garbage"}),
		rec("3", types.Fields{"ProjectElement": "P-2"}),
	}
	plan := l.Build(records)

	require.Len(t, plan.Documents, 2)
	assert.Equal(t, "first", plan.Documents[0].Header["ProjectElementDescription"])
	require.Len(t, plan.Documents[0].Records, 1)
	assert.Equal(t, "1", plan.Documents[0].Records[0].SequenceID)
	assert.Empty(t, plan.Documents[0].Items)

	require.Len(t, plan.Rejected, 1)
	assert.Equal(t, "2", plan.Rejected[0].Record.SequenceID)
	assert.Equal(t, CodeDuplicateKey, plan.Rejected[0].Code)
	assert.Contains(t, plan.Rejected[0].Message, "record 1")
}

func TestToDocumentChecksLaterHeaderOnlyRecords(t *testing.T) {
	l, _ := Lookup("wbs-element")
	_, issues := l.ToDocument([]types.Record{
		rec("1", types.Fields{"ProjectElement": "P-1"}),
		rec("2", types.Fields{"ProjectElement": "P-1", "PlannedStartDate": "garbage"}),
	})
	require.Len(t, issues, 1)
	assert.Equal(t, "2", issues[0].SequenceID)
	assert.Equal(t, "PlannedStartDate", issues[0].Field)
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	l, _ := Lookup("purchase-order")
	in := []types.Record{rec("1", types.Fields{"DocumentNumber": "D", "OrderQuantity": "3"})}
	plan := l.Build(in)
	require.Len(t, plan.Documents, 1)
	plan.Documents[0].Records[0].Fields["OrderQuantity"] = "x"
	assert.Equal(t, "3", in[0].Fields["OrderQuantity"])
}

func TestFormatDate(t *testing.T) {
	cases := []struct {
		in     any
		format string
		want   string
	}{
		{"2026-03-01", "", "2026-03-01"},
		{"01.03.2026", "2006-01-02", "2026-03-01"},
		{"2026-03-01T10:30:00", "2006-01-02T15:04:05", "2026-03-01T00:00:00"},
		{float64(46082), "", "2026-03-01"},
		{json.Number("46082"), "", "2026-03-01"},
		{"/Date(1772323200000)/", "", "2026-03-01"},
		{time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), DateODataV2, "/Date(1772323200000)/"},
	}
	for _, c := range cases {
		got, err := FormatDate(c.in, c.format)
		require.NoError(t, err, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}

	_, err := FormatDate("31.02.2026x", "")
	assert.ErrorIs(t, err, ErrNotADate)
}

func TestFormatDecimal(t *testing.T) {
	got, err := FormatDecimal("1,234.5", 2)
	require.NoError(t, err)
	assert.Equal(t, "1234.50", got)

	got, err = FormatDecimal(json.Number("7"), 3)
	require.NoError(t, err)
	assert.Equal(t, "7.000", got)

	for in, want := range map[string]string{"12,5": "12.50", "0,12": "0.12", "1,2345": "1.23", "1.234": "1.23"} {
		got, err := FormatDecimal(in, 2)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"1,234", "-1,234", "1,234,567", "abc"} {
		_, err = FormatDecimal(in, 2)
		assert.ErrorIs(t, err, ErrNotANumber, in)
	}
	_, err = FormatDecimal(true, 2)
	assert.ErrorIs(t, err, ErrNotANumber)
}

func TestLookupNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "goods-receipt")
	assert.Contains(t, names, "wbs-element")
	_, ok := Lookup("nope")
	assert.False(t, ok)
}
