package internal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lychee-technology/formsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	forms     []formsync.FormSummary
	err       error
	nameCalls int
}

func (c *fakeCatalog) ListForms(ctx context.Context) ([]formsync.FormSummary, error) {
	return c.forms, c.err
}

func (c *fakeCatalog) FormName(ctx context.Context, formID string) (string, error) {
	c.nameCalls++
	for _, f := range c.forms {
		if f.ID == formID {
			return f.Name, nil
		}
	}
	return "", formsync.NewSchemaNotFoundError(formID)
}

func newTestQueryEngine(t *testing.T, backend *fakeBackend, catalog *fakeCatalog) *QueryEngine {
	t.Helper()
	cfg := formsync.DefaultConfig()
	qe, err := NewQueryEngine(backend, catalog, cfg.Search, cfg.Query)
	require.NoError(t, err)
	return qe
}

func seedIndex(t *testing.T, backend *fakeBackend, formID string, docs map[string]map[string]any) {
	t.Helper()
	index := "form_" + formID
	require.NoError(t, backend.CreateIndex(context.Background(), index, formsync.IndexMapping{}))
	batch := make([]formsync.SyncDocument, 0, len(docs))
	for recordID, fields := range docs {
		fields[formsync.FieldFormID] = formID
		fields[formsync.FieldRecordID] = recordID
		fields[formsync.FieldTableName] = "T_" + formID
		fields[formsync.FieldSyncTime] = "2024-06-01T12:00:00Z"
		batch = append(batch, formsync.SyncDocument{ID: formsync.DocumentKey(formID, recordID), Fields: fields})
	}
	_, err := backend.Bulk(context.Background(), index, batch)
	require.NoError(t, err)
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{forms: []formsync.FormSummary{
		{ID: "100", Name: "Purchase Request", TableName: "T_100"},
		{ID: "200", Name: "Travel Expense", TableName: "T_200"},
		{ID: "300", Name: "Purchase Order", TableName: "T_300"},
	}}
}

func TestQueryEngine_EmptyQuery(t *testing.T) {
	backend := newFakeBackend()
	qe := newTestQueryEngine(t, backend, testCatalog())

	res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.Total)
	assert.Empty(t, backend.searchCalls, "no backend call")
}

func TestQueryEngine_NoIndices(t *testing.T) {
	backend := newFakeBackend()
	qe := newTestQueryEngine(t, backend, testCatalog())

	res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer"})
	require.NoError(t, err)
	assert.NotNil(t, res.Hits)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.Total)
}

func TestQueryEngine_Search(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "100", map[string]map[string]any{
		"1": {"Title": "Printer toner", "Amount": "1250.5"},
		"2": {"Title": "Desk"},
	})
	seedIndex(t, backend, "200", map[string]map[string]any{
		"7": {"Destination": "Printer factory visit"},
	})
	require.NoError(t, backend.CreateIndex(context.Background(), "system_members", formsync.IndexMapping{}))
	qe := newTestQueryEngine(t, backend, testCatalog())

	res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer", Size: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	require.Len(t, res.Hits, 2)

	hit := res.Hits[0]
	assert.Equal(t, "100", hit.FormID)
	assert.Equal(t, "Purchase Request", hit.FormName)
	assert.Equal(t, "T_100", hit.TableName)
	assert.Equal(t, "1", hit.RecordID)
	assert.Equal(t, "Printer toner", hit.Data["Title"])
	assert.NotContains(t, hit.Data, formsync.FieldSyncTime)
	assert.NotContains(t, hit.Data, formsync.FieldFormID)
	assert.Equal(t, "Travel Expense", res.Hits[1].FormName)

	assert.Equal(t, []string{"form_100", "form_200"}, backend.searchIdx[0], "member index is not searched")
	q := backend.searchCalls[0]
	assert.Equal(t, 100, q.Size, "size is capped")
	require.Len(t, q.Clauses, 3)
	assert.Equal(t, formsync.MatchPhrase, q.Clauses[0].Kind)
	assert.EqualValues(t, 3, q.Clauses[0].Boost)
	assert.Equal(t, formsync.MatchBestFields, q.Clauses[2].Kind)
	assert.Equal(t, "AUTO", q.Clauses[2].Fuzziness)
	assert.Equal(t, 1, q.MinimumShouldMatch)
	assert.Equal(t, formsync.FieldSyncTime, q.Sort[1].Field)
	assert.Equal(t, []string{formsync.FieldSyncTime}, q.SourceExcludes)
	assert.Equal(t, 150, q.Highlight.FragmentSize)
	assert.True(t, q.TrackTotalHits)
}

func TestQueryEngine_SearchSelectedForms(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "100", map[string]map[string]any{"1": {"Title": "Printer"}})
	seedIndex(t, backend, "200", map[string]map[string]any{"7": {"Title": "Printer"}})
	qe := newTestQueryEngine(t, backend, testCatalog())

	res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer", FormIDs: []string{"200", "200", "999"}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "200", res.Hits[0].FormID)
	assert.Equal(t, []string{"form_200"}, backend.searchIdx[0])
}

func TestQueryEngine_SelectedFormsWithoutIndex(t *testing.T) {
	backend := newFakeBackend()
	qe := newTestQueryEngine(t, backend, testCatalog())

	res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer", FormIDs: []string{"100"}})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Empty(t, backend.searchCalls)
}

func TestQueryEngine_UnknownFormName(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "555", map[string]map[string]any{"1": {"Title": "Printer"}})
	catalog := testCatalog()
	qe := newTestQueryEngine(t, backend, catalog)

	for range 2 {
		res, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer"})
		require.NoError(t, err)
		require.Len(t, res.Hits, 1)
		assert.Equal(t, "Unknown form", res.Hits[0].FormName)
	}
	assert.Equal(t, 1, catalog.nameCalls, "form names are cached")
}

func TestQueryEngine_ErrorTranslation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"timeout", &formsync.BackendError{Status: 504, Type: "timeout_exception", Reason: "took too long"}, formsync.ErrCodeQueryTimeout},
		{"deadline", fmt.Errorf("search: %w", context.DeadlineExceeded), formsync.ErrCodeQueryTimeout},
		{"missing index", &formsync.BackendError{Status: 404, Type: "index_not_found_exception", Reason: "no such index"}, formsync.ErrCodeIndexNotFound},
		{"other", errors.New("parse failure"), formsync.ErrCodeQueryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			seedIndex(t, backend, "100", map[string]map[string]any{"1": {"Title": "Printer"}})
			backend.searchErr = tt.err
			qe := newTestQueryEngine(t, backend, testCatalog())

			_, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer"})
			require.Error(t, err)
			var se *formsync.SyncError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, formsync.ErrorTypeQuery, se.Type)
			assert.Equal(t, tt.code, se.Code)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestQueryEngine_OtherFailuresKeepBackendReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		errType  formsync.ErrorType
		code     string
		contains string
	}{
		{"backend rejection", &formsync.BackendError{Status: 400, Type: "search_phase_execution_exception", Reason: "failed to parse query [Title:(]"},
			formsync.ErrorTypeQuery, formsync.ErrCodeQueryFailed, "search_phase_execution_exception: failed to parse query"},
		{"plain error", errors.New("malformed response body"),
			formsync.ErrorTypeQuery, formsync.ErrCodeQueryFailed, "malformed response body"},
		{"classified", formsync.NewValidationError("size", "size too large"),
			formsync.ErrorTypeValidation, formsync.ErrCodeInvalidParameter, "size too large"},
		{"cancelled", fmt.Errorf("search: %w", context.Canceled),
			formsync.ErrorTypeCancelled, formsync.ErrCodeCancelled, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			seedIndex(t, backend, "100", map[string]map[string]any{"1": {"Title": "Printer"}})
			backend.searchErr = tt.err
			qe := newTestQueryEngine(t, backend, testCatalog())

			_, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer"})
			var se *formsync.SyncError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.errType, se.Type)
			assert.Equal(t, tt.code, se.Code)
			assert.Contains(t, se.Message, tt.contains)
			assert.NotEqual(t, "search failed", se.Message)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestQueryEngine_ConnectionErrorsPassThrough(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "100", map[string]map[string]any{"1": {"Title": "Printer"}})
	backend.searchErr = formsync.NewConnectionUnavailableError("search", errors.New("circuit open"))
	qe := newTestQueryEngine(t, backend, testCatalog())

	_, err := qe.Search(context.Background(), formsync.SearchRequest{Query: "printer"})
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeConnectionUnavailable))
}

func TestQueryEngine_Suggest(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "100", map[string]map[string]any{
		"1": {"Title": "Printer toner", "Items_Item": []any{"printer paper", "ink"}},
		"2": {"Title": "Printer toner"},
	})
	qe := newTestQueryEngine(t, backend, testCatalog())

	out, err := qe.Suggest(context.Background(), "print")
	require.NoError(t, err)
	assert.Contains(t, out, "Printer toner")
	assert.LessOrEqual(t, len(out), 5)
	seen := map[string]bool{}
	for _, s := range out {
		assert.False(t, seen[s], "suggestions are distinct")
		seen[s] = true
	}

	short, err := qe.Suggest(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, short)
}

func TestQueryEngine_GetRecord(t *testing.T) {
	backend := newFakeBackend()
	seedIndex(t, backend, "100", map[string]map[string]any{"1": {"Title": "Printer", "Blank": ""}})
	qe := newTestQueryEngine(t, backend, testCatalog())

	rec, err := qe.GetRecord(context.Background(), "100", "1")
	require.NoError(t, err)
	assert.Equal(t, "Purchase Request", rec.FormName)
	assert.Equal(t, "Printer", rec.Data["Title"])
	assert.NotContains(t, rec.Data, "Blank")
	assert.Equal(t, "2024-06-01T12:00:00Z", rec.SyncTime)

	_, err = qe.GetRecord(context.Background(), "100", "2")
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeNotFound))

	_, err = qe.GetRecord(context.Background(), "", "2")
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeValidation))
}

func TestQueryEngine_ListForms(t *testing.T) {
	qe := newTestQueryEngine(t, newFakeBackend(), testCatalog())

	page, err := qe.ListForms(context.Background(), formsync.FormListRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Forms, 2)
	assert.Equal(t, formsync.Pagination{Page: 1, PageSize: 2, Total: 3, TotalPages: 2, HasNext: true}, page.Pagination)

	page, err = qe.ListForms(context.Background(), formsync.FormListRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Forms, 1)
	assert.Equal(t, "300", page.Forms[0].ID)
	assert.True(t, page.Pagination.HasPrev)

	page, err = qe.ListForms(context.Background(), formsync.FormListRequest{Search: "purchase"})
	require.NoError(t, err)
	assert.Len(t, page.Forms, 2)
	assert.Equal(t, 20, page.Pagination.PageSize)

	page, err = qe.ListForms(context.Background(), formsync.FormListRequest{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Forms)
	assert.False(t, page.Pagination.HasNext)
}

func TestDisplayData(t *testing.T) {
	out := displayData(map[string]any{
		"Title":                 "Printer",
		"Empty":                 " ",
		"Nil":                   nil,
		"List":                  []any{},
		formsync.FieldRecordID:  "1",
		formsync.FieldTableName: "T_100",
	})
	assert.Equal(t, map[string]any{"Title": "Printer"}, out)
}
