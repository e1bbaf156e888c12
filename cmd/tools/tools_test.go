package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/lychee-technology/formsync"
	"github.com/stretchr/testify/assert"
)

func TestPrintSyncResults(t *testing.T) {
	var buf bytes.Buffer
	printSyncResults(&buf, []*formsync.SyncResult{
		{FormID: "100", FormName: "Purchase", FullSync: true, Success: true, Count: 12345, Elapsed: 1.5, Rate: 8230, Message: "synced"},
		{FormID: "200", Success: false, Failed: 2, Message: "bulk request failed"},
	})
	out := buf.String()
	assert.Contains(t, out, "Purchase")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "full")
	assert.Contains(t, out, "incremental")
	assert.Contains(t, out, "FAILED")
}

func TestPrintSearchResult(t *testing.T) {
	var buf bytes.Buffer
	printSearchResult(&buf, &formsync.SearchResult{
		Total:    1,
		MaxScore: 2.5,
		Hits: []formsync.SearchHit{{
			Score: 2.5, FormID: "100", FormName: "Purchase", RecordID: "7",
			Highlight: map[string][]string{"Title": {"<mark>Printer</mark> toner"}, "Amount": {}},
		}},
	})
	out := buf.String()
	assert.Contains(t, out, "1 hits")
	assert.Contains(t, out, "Purchase (100)")
	assert.Contains(t, out, "<mark>Printer</mark>")
}

func TestFirstFragment(t *testing.T) {
	assert.Equal(t, "", firstFragment(nil))
	assert.Equal(t, "b: x", firstFragment(map[string][]string{"a": {}, "b": {"x"}, "c": {"y"}}))
}

func TestPrintWatermarks(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printWatermarks(&buf, map[string]time.Time{
		"200": now.Add(-2 * time.Hour),
		"100": now.Add(-3 * 24 * time.Hour),
	}, now)
	out := buf.String()
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "3 days ago")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("100")), bytes.Index(buf.Bytes(), []byte("200")))
}

func TestPrintForms(t *testing.T) {
	var buf bytes.Buffer
	printForms(&buf, &formsync.FormPage{
		Forms:      []formsync.FormSummary{{ID: "100", Name: "Purchase", TableName: "T_100"}},
		Pagination: formsync.Pagination{Page: 1, TotalPages: 3, Total: 1200},
	})
	assert.Contains(t, buf.String(), "T_100")
	assert.Contains(t, buf.String(), "page 1 of 3, 1,200 forms")
}
