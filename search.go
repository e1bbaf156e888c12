package formsync

import (
	"context"
	"fmt"
	"time"
)

// FieldMapping is the index-side type of one document field
type FieldMapping struct {
	Type            string                  `json:"type"`
	Analyzer        string                  `json:"analyzer,omitempty"`
	Format          string                  `json:"format,omitempty"`
	IgnoreMalformed bool                    `json:"ignore_malformed,omitempty"`
	Fields          map[string]FieldMapping `json:"fields,omitempty"`
}

// IndexMapping is the explicit mapping an index is created with
type IndexMapping struct {
	Properties map[string]FieldMapping `json:"properties"`
	Shards     int                     `json:"-"`
	Replicas   int                     `json:"-"`
}

// MatchKind selects how a text clause matches
type MatchKind string

const (
	MatchPhrase       MatchKind = "phrase"
	MatchPhrasePrefix MatchKind = "phrase_prefix"
	MatchBestFields   MatchKind = "best_fields"
)

// MatchClause is one weighted multi-field clause of a ranked query
type MatchClause struct {
	Kind      MatchKind `json:"kind"`
	Fields    []string  `json:"fields"`
	Boost     float64   `json:"boost,omitempty"`
	Fuzziness string    `json:"fuzziness,omitempty"`
	Lenient   bool      `json:"lenient,omitempty"`
}

// TermsFilter restricts hits to documents whose field holds one of the values
type TermsFilter struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// SortField orders hits
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
	// IgnoreUnmapped tolerates indices that do not map the field.
	IgnoreUnmapped bool `json:"ignoreUnmapped,omitempty"`
}

// HighlightSpec requests highlighted fragments
type HighlightSpec struct {
	Fields        []string `json:"fields"`
	FragmentSize  int      `json:"fragmentSize"`
	FragmentCount int      `json:"fragmentCount"`
	PreTag        string   `json:"preTag"`
	PostTag       string   `json:"postTag"`
}

// SearchQuery carries everything a backend needs to run a ranked or filtered query.
// Clauses are OR-ed with MinimumShouldMatch; Terms, when set, is applied as a filter.
type SearchQuery struct {
	Text               string         `json:"text,omitempty"`
	Clauses            []MatchClause  `json:"clauses,omitempty"`
	MinimumShouldMatch int            `json:"minimumShouldMatch,omitempty"`
	Terms              *TermsFilter   `json:"terms,omitempty"`
	Size               int            `json:"size"`
	From               int            `json:"from"`
	Sort               []SortField    `json:"sort,omitempty"`
	Highlight          *HighlightSpec `json:"highlight,omitempty"`
	SourceIncludes     []string       `json:"sourceIncludes,omitempty"`
	SourceExcludes     []string       `json:"sourceExcludes,omitempty"`
	TrackTotalHits     bool           `json:"trackTotalHits"`
	Timeout            time.Duration  `json:"timeout,omitempty"`
}

// BackendHit is one raw hit returned by the search backend
type BackendHit struct {
	Index     string              `json:"index"`
	ID        string              `json:"id"`
	Score     float64             `json:"score"`
	Source    map[string]any      `json:"source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// SearchResponse is the raw result set returned by the search backend
type SearchResponse struct {
	Total    int64        `json:"total"`
	MaxScore float64      `json:"maxScore"`
	Took     int64        `json:"took"`
	TimedOut bool         `json:"timedOut"`
	Hits     []BackendHit `json:"hits"`
}

// BulkItemFailure is a document rejected inside an acknowledged bulk request
type BulkItemFailure struct {
	DocumentID string `json:"documentId"`
	Status     int    `json:"status"`
	Type       string `json:"type,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// BulkResult is the per-item outcome of one bulk request
type BulkResult struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failures  []BulkItemFailure `json:"failures,omitempty"`
}

// BackendError is an error response returned by the search backend
type BackendError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("search backend error [%d] %s: %s", e.Status, e.Type, e.Reason)
}

// SearchBackend is the search index lifecycle, bulk upsert and query surface
type SearchBackend interface {
	Ping(ctx context.Context) error
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping IndexMapping) error
	DeleteIndex(ctx context.Context, index string) error
	RefreshIndex(ctx context.Context, index string) error
	CountDocuments(ctx context.Context, index string) (int64, error)
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	Bulk(ctx context.Context, index string, docs []SyncDocument) (*BulkResult, error)
	Search(ctx context.Context, indices []string, query SearchQuery) (*SearchResponse, error)
	// GetDocument returns a not_found SyncError when the document or index is absent.
	GetDocument(ctx context.Context, index, id string) (map[string]any, error)
}
