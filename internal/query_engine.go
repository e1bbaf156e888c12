package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// formCatalog lists forms and names them.
type formCatalog interface {
	ListForms(ctx context.Context) ([]formsync.FormSummary, error)
	FormName(ctx context.Context, formID string) (string, error)
}

// QueryEngine serves ranked searches, suggestions and record lookups over the form indices.
type QueryEngine struct {
	backend formsync.SearchBackend
	forms   formCatalog
	search  formsync.SearchConfig
	query   formsync.QueryConfig
	names   *lru.Cache[string, string]
}

// NewQueryEngine creates a query engine. Form names are cached for the lifetime of the engine.
func NewQueryEngine(backend formsync.SearchBackend, forms formCatalog, searchCfg formsync.SearchConfig, queryCfg formsync.QueryConfig) (*QueryEngine, error) {
	size := queryCfg.FormNameCacheSize
	if size <= 0 {
		size = 1024
	}
	names, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create form name cache: %w", err)
	}
	return &QueryEngine{backend: backend, forms: forms, search: searchCfg, query: queryCfg, names: names}, nil
}

// Search runs a ranked full-text query. An empty query or an empty index set yields an
// empty result without error.
func (qe *QueryEngine) Search(ctx context.Context, req formsync.SearchRequest) (*formsync.SearchResult, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		emitSearch(outcomeEmpty)
		return formsync.EmptySearchResult(req.Query), nil
	}

	indices, err := qe.targetIndices(ctx, req.FormIDs)
	if err != nil {
		emitSearch(outcomeFailure)
		return nil, translateSearchError(err)
	}
	if len(indices) == 0 {
		emitSearch(outcomeEmpty)
		return formsync.EmptySearchResult(req.Query), nil
	}

	size := req.Size
	if size <= 0 {
		size = qe.query.DefaultSize
	}
	size = min(size, qe.query.MaxSize)

	resp, err := qe.backend.Search(ctx, indices, qe.rankedQuery(text, size, max(req.From, 0)))
	if err != nil {
		emitSearch(outcomeFailure)
		zap.S().Warnw("search failed", "query", text, "indices", len(indices), "error", err)
		return nil, translateSearchError(err)
	}
	if resp.TimedOut {
		zap.S().Warnw("search timed out with partial results", "query", text, "hits", len(resp.Hits))
	}

	out := &formsync.SearchResult{
		Query:    req.Query,
		Hits:     make([]formsync.SearchHit, 0, len(resp.Hits)),
		Total:    resp.Total,
		MaxScore: resp.MaxScore,
		Took:     resp.Took,
	}
	for _, h := range resp.Hits {
		out.Hits = append(out.Hits, qe.renderHit(ctx, h))
	}
	emitSearch(outcomeSuccess)
	return out, nil
}

// rankedQuery combines an exact phrase, a phrase prefix and a fuzzy clause over every field.
func (qe *QueryEngine) rankedQuery(text string, size, from int) formsync.SearchQuery {
	all := []string{"*"}
	return formsync.SearchQuery{
		Text: text,
		Clauses: []formsync.MatchClause{
			{Kind: formsync.MatchPhrase, Fields: all, Boost: 3, Lenient: true},
			{Kind: formsync.MatchPhrasePrefix, Fields: all, Boost: 2, Lenient: true},
			{Kind: formsync.MatchBestFields, Fields: all, Boost: 1, Fuzziness: "AUTO", Lenient: true},
		},
		MinimumShouldMatch: 1,
		Size:               size,
		From:               from,
		Sort: []formsync.SortField{
			{Field: "_score", Desc: true},
			{Field: formsync.FieldSyncTime, Desc: true, IgnoreUnmapped: true},
		},
		Highlight: &formsync.HighlightSpec{
			Fields:        all,
			FragmentSize:  qe.query.FragmentSize,
			FragmentCount: qe.query.FragmentCount,
			PreTag:        "<mark>",
			PostTag:       "</mark>",
		},
		SourceExcludes: []string{formsync.FieldSyncTime},
		TrackTotalHits: true,
		Timeout:        qe.query.Timeout,
	}
}

// targetIndices maps form ids to their existing indices, or lists every form index.
func (qe *QueryEngine) targetIndices(ctx context.Context, formIDs []string) ([]string, error) {
	if len(formIDs) == 0 {
		all, err := qe.backend.ListIndices(ctx, qe.search.IndexPattern())
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, idx := range all {
			if idx != qe.search.MemberIndex {
				out = append(out, idx)
			}
		}
		return out, nil
	}

	seen := make(map[string]bool, len(formIDs))
	var out []string
	for _, id := range formIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		index := qe.search.IndexName(id)
		exists, err := qe.backend.IndexExists(ctx, index)
		if err != nil {
			return nil, err
		}
		if exists {
			out = append(out, index)
		}
	}
	return out, nil
}

func (qe *QueryEngine) renderHit(ctx context.Context, h formsync.BackendHit) formsync.SearchHit {
	formID := displayString(h.Source[formsync.FieldFormID])
	if formID == "" {
		formID = strings.TrimPrefix(h.Index, qe.search.IndexPrefix)
	}
	recordID := displayString(h.Source[formsync.FieldRecordID])
	if recordID == "" {
		recordID = strings.TrimPrefix(h.ID, formID+"_")
	}
	return formsync.SearchHit{
		Score:     h.Score,
		FormID:    formID,
		FormName:  qe.formName(ctx, formID),
		TableName: displayString(h.Source[formsync.FieldTableName]),
		RecordID:  recordID,
		Data:      displayData(h.Source),
		Highlight: h.Highlight,
	}
}

// formName returns the cached display name of formID, or the configured fallback.
func (qe *QueryEngine) formName(ctx context.Context, formID string) string {
	if name, ok := qe.names.Get(formID); ok {
		return name
	}
	name, err := qe.forms.FormName(ctx, formID)
	if err != nil || name == "" {
		if err != nil && !formsync.IsErrorType(err, formsync.ErrorTypeSchemaNotFound) {
			zap.S().Debugw("form name lookup failed", "formId", formID, "error", err)
			return qe.query.UnknownFormName
		}
		name = qe.query.UnknownFormName
	}
	qe.names.Add(formID, name)
	return name
}

// Suggest returns up to SuggestionCount distinct field values containing query.
func (qe *QueryEngine) Suggest(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	out := []string{}
	if utf8.RuneCountInString(query) < qe.query.MinSuggestionLength {
		return out, nil
	}

	indices, err := qe.targetIndices(ctx, nil)
	if err != nil {
		return nil, translateSearchError(err)
	}
	if len(indices) == 0 {
		return out, nil
	}

	resp, err := qe.backend.Search(ctx, indices, formsync.SearchQuery{
		Text: query,
		Clauses: []formsync.MatchClause{
			{Kind: formsync.MatchPhrasePrefix, Fields: []string{"*"}, Lenient: true},
		},
		MinimumShouldMatch: 1,
		Size:               qe.query.SuggestionCount,
		SourceExcludes:     []string{formsync.FieldSyncTime},
		Timeout:            qe.query.Timeout,
	})
	if err != nil {
		return nil, translateSearchError(err)
	}

	needle := strings.ToLower(query)
	seen := make(map[string]bool)
	for _, h := range resp.Hits {
		for k, v := range h.Source {
			if isBookkeeping(k) {
				continue
			}
			for _, s := range stringValues(v) {
				if len(out) >= qe.query.SuggestionCount {
					return out, nil
				}
				if !seen[s] && strings.Contains(strings.ToLower(s), needle) {
					seen[s] = true
					out = append(out, s)
				}
			}
		}
	}
	return out, nil
}

// GetRecord fetches the document of one record.
func (qe *QueryEngine) GetRecord(ctx context.Context, formID, recordID string) (*formsync.RecordDetail, error) {
	formID, recordID = strings.TrimSpace(formID), strings.TrimSpace(recordID)
	if formID == "" {
		return nil, formsync.NewValidationError("formId", "form id is required")
	}
	if recordID == "" {
		return nil, formsync.NewValidationError("recordId", "record id is required")
	}

	src, err := qe.backend.GetDocument(ctx, qe.search.IndexName(formID), formsync.DocumentKey(formID, recordID))
	if err != nil {
		if formsync.IsErrorType(err, formsync.ErrorTypeNotFound) {
			return nil, err
		}
		return nil, translateSearchError(err)
	}
	return &formsync.RecordDetail{
		FormID:   formID,
		FormName: qe.formName(ctx, formID),
		RecordID: recordID,
		Data:     displayData(src),
		SyncTime: displayString(src[formsync.FieldSyncTime]),
	}, nil
}

// ListForms pages the form listing, filtered by a case-insensitive name substring.
func (qe *QueryEngine) ListForms(ctx context.Context, req formsync.FormListRequest) (*formsync.FormPage, error) {
	forms, err := qe.forms.ListForms(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(req.Search))
	filtered := make([]formsync.FormSummary, 0, len(forms))
	for _, f := range forms {
		if f.Name != "" {
			qe.names.Add(f.ID, f.Name)
		}
		if needle == "" || strings.Contains(strings.ToLower(f.Name), needle) {
			filtered = append(filtered, f)
		}
	}

	page := max(req.Page, 1)
	size := req.PageSize
	if size <= 0 {
		size = qe.query.DefaultFormsPageSize
	}
	size = min(size, qe.query.MaxFormsPageSize)

	total := len(filtered)
	totalPages := (total + size - 1) / size
	start := min((page-1)*size, total)
	end := min(start+size, total)

	return &formsync.FormPage{
		Forms: filtered[start:end],
		Pagination: formsync.Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}, nil
}

// displayData strips bookkeeping fields and empty values from a stored document.
func displayData(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		if isBookkeeping(k) || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if list, ok := v.([]any); ok && len(list) == 0 {
			continue
		}
		out[k] = v
	}
	return out
}

func isBookkeeping(key string) bool {
	for _, f := range formsync.BookkeepingFields {
		if key == f {
			return true
		}
	}
	return false
}

// stringValues flattens a stored value into its string members.
func stringValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// translateSearchError maps backend failures to user-facing query errors. Errors that
// are already classified keep their type and code; anything else becomes QUERY_FAILED
// carrying the backend's own reason.
func translateSearchError(err error) error {
	var se *formsync.SyncError
	switch {
	case err == nil:
		return nil
	case formsync.IsErrorType(err, formsync.ErrorTypeConnectionUnavailable):
		return err
	case errors.Is(err, context.Canceled):
		return formsync.NewCancelledError(err)
	case isTimeout(err):
		return formsync.NewQueryError(formsync.ErrCodeQueryTimeout, formsync.MessageQueryTooBroad, err)
	case isIndexNotFound(err):
		return formsync.NewQueryError(formsync.ErrCodeIndexNotFound, formsync.MessageNoDataSynced, err)
	case errors.As(err, &se):
		return err
	default:
		return formsync.NewQueryError(formsync.ErrCodeQueryFailed, backendReason(err), err)
	}
}

// backendReason is the most specific failure text available for err.
func backendReason(err error) string {
	var be *formsync.BackendError
	if errors.As(err, &be) && be.Reason != "" {
		if be.Type != "" {
			return be.Type + ": " + be.Reason
		}
		return be.Reason
	}
	return err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}

func isIndexNotFound(err error) bool {
	var be *formsync.BackendError
	if errors.As(err, &be) {
		return be.Type == "index_not_found_exception"
	}
	var se *formsync.SyncError
	if errors.As(err, &se) {
		return se.Code == formsync.ErrCodeIndexNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "index_not_found")
}
