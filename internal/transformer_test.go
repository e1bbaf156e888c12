package internal

import (
	"testing"
	"time"

	"github.com/lychee-technology/formsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func purchaseForm() *formsync.FormDefinition {
	return &formsync.FormDefinition{
		ID:           "100",
		Name:         "Purchase",
		PrimaryTable: "T_100",
		Fields: []formsync.FieldDefinition{
			{Name: "field0001", Label: "Title", Type: formsync.FieldTypeText},
			{Name: "field0002", Label: "Amount", Type: formsync.FieldTypeNumeric},
			{Name: "field0003", Label: "Due", Type: formsync.FieldTypeDateTime},
			{Name: "field0004", Label: "Buyer", Type: formsync.FieldTypeOther},
		},
		SubTables: []formsync.SubTableDefinition{{
			Table:      "T_100_SUB",
			Label:      "Items",
			ForeignKey: "main_id",
			Fields: []formsync.FieldDefinition{
				{Name: "field0010", Label: "Item", Type: formsync.FieldTypeText},
			},
		}},
	}
}

func testTransformOptions() TransformOptions {
	return TransformOptionsFromConfig(formsync.DefaultConfig().Sync)
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestTransformer_Transform(t *testing.T) {
	tr := NewTransformer(purchaseForm(), testTransformOptions(), MemberLabels{"-4431": "Li Lei"})
	tr.now = fixedClock

	row := Row{
		"id":               int64(1),
		"field0001":        "Printer toner",
		"field0002":        1250.5,
		"field0003":        "2024-03-05T08:09:10.123",
		"field0004":        nil,
		"start_member_id":  int64(-4431),
		"modify_member_id": int64(99),
		"modify_date":      time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC),
		"state":            int32(1),
		"ratifyflag":       int32(0),
		"blank":            "",
	}
	children := [][]Row{{
		{"id": int64(10), "main_id": int64(1), "field0010": "toner"},
		{"id": int64(11), "main_id": int64(1), "field0010": "paper"},
	}}

	doc, ok := tr.Transform(row, children)
	require.True(t, ok)
	assert.Equal(t, "100_1", doc.ID)

	f := doc.Fields
	assert.Equal(t, "Printer toner", f["Title"])
	assert.Equal(t, "1250.5", f["Amount"])
	assert.Equal(t, "2024-03-05 08:09:10", f["Due"])
	assert.Equal(t, "Li Lei", f["Created By"], "resolved member shows the label")
	assert.Equal(t, "99", f["Modified By"], "unresolved member keeps the raw id")
	assert.Equal(t, "2024-03-06 09:00:00", f["Modified At"])
	assert.Equal(t, []string{"toner", "paper"}, f["Items_Item"])

	assert.NotContains(t, f, "Buyer", "null values are omitted")
	assert.NotContains(t, f, "blank", "empty values are omitted")
	assert.NotContains(t, f, "state")
	assert.NotContains(t, f, "ratifyflag")
	assert.NotContains(t, f, "Items_main_id", "child foreign key is not merged")
	assert.NotContains(t, f, "Items_id")

	assert.Equal(t, "100", f[formsync.FieldFormID])
	assert.Equal(t, "T_100", f[formsync.FieldTableName])
	assert.Equal(t, "1", f[formsync.FieldRecordID])
	assert.Equal(t, "2024-06-01T12:00:00Z", f[formsync.FieldSyncTime])
}

func TestTransformer_SingleChildRowStaysScalar(t *testing.T) {
	tr := NewTransformer(purchaseForm(), testTransformOptions(), nil)

	doc, ok := tr.Transform(Row{"id": int64(2)}, [][]Row{{{"main_id": int64(2), "field0010": "ink"}}})
	require.True(t, ok)
	assert.Equal(t, "ink", doc.Fields["Items_Item"])
}

func TestTransformer_NoChildren(t *testing.T) {
	tr := NewTransformer(purchaseForm(), testTransformOptions(), nil)

	doc, ok := tr.Transform(Row{"id": int64(3), "field0001": "Desk"}, nil)
	require.True(t, ok)
	assert.NotContains(t, doc.Fields, "Items_Item")
	assert.Equal(t, "Desk", doc.Fields["Title"])
}

func TestTransformer_IdempotentKey(t *testing.T) {
	tr := NewTransformer(purchaseForm(), testTransformOptions(), nil)
	row := Row{"ID": int64(9007199254740993), "field0001": "x"}

	a, ok := tr.Transform(row, nil)
	require.True(t, ok)
	b, ok := tr.Transform(row, nil)
	require.True(t, ok)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "100_9007199254740993", a.ID)
}

func TestTransformer_RowWithoutKeyIsSkipped(t *testing.T) {
	tr := NewTransformer(purchaseForm(), testTransformOptions(), nil)

	_, ok := tr.Transform(Row{"field0001": "orphan"}, nil)
	assert.False(t, ok)
}

func TestTransformer_BookkeepingWins(t *testing.T) {
	def := purchaseForm()
	def.Fields = append(def.Fields, formsync.FieldDefinition{Name: "field0009", Label: formsync.FieldRecordID})
	tr := NewTransformer(def, testTransformOptions(), nil)

	doc, ok := tr.Transform(Row{"id": int64(4), "field0009": "spoofed"}, nil)
	require.True(t, ok)
	assert.Equal(t, "4", doc.Fields[formsync.FieldRecordID])
}

func TestAccumulate(t *testing.T) {
	fields := map[string]any{}
	accumulate(fields, "k", "a")
	assert.Equal(t, "a", fields["k"])
	accumulate(fields, "k", "b")
	assert.Equal(t, []string{"a", "b"}, fields["k"])
	accumulate(fields, "k", "c")
	assert.Equal(t, []string{"a", "b", "c"}, fields["k"])
}

func TestBuildIndexMapping(t *testing.T) {
	m := BuildIndexMapping(purchaseForm(), testTransformOptions())

	assert.Equal(t, "keyword", m.Properties[formsync.FieldFormID].Type)
	assert.Equal(t, "date", m.Properties[formsync.FieldSyncTime].Type)
	assert.Equal(t, formsync.FieldMapping{Type: "text", Analyzer: "standard"}, m.Properties["Title"])
	assert.Equal(t, "double", m.Properties["Amount"].Type)
	assert.True(t, m.Properties["Amount"].IgnoreMalformed)
	assert.Equal(t, "date", m.Properties["Due"].Type)
	assert.Equal(t, dateFormats, m.Properties["Due"].Format)
	assert.Equal(t, "text", m.Properties["Buyer"].Type)
	assert.Equal(t, "text", m.Properties["Items_Item"].Type, "child fields are mapped under their merged key")
	assert.Equal(t, "keyword", m.Properties["Created By"].Type)
	assert.Equal(t, "date", m.Properties["Modified At"].Type)
}

func TestMemberIndexMapping(t *testing.T) {
	m := memberIndexMapping()
	assert.Equal(t, "keyword", m.Properties["member_id"].Type)
	assert.Equal(t, "keyword", m.Properties["name"].Fields["keyword"].Type)
	assert.Equal(t, 1, m.Shards)
}
