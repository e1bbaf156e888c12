package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// retryStatuses are retried by the transport with exponential backoff.
var retryStatuses = []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}

// ElasticBackend implements formsync.SearchBackend over the Elasticsearch REST API.
type ElasticBackend struct {
	client      *elasticsearch.Client
	breaker     *CircuitBreaker
	timeout     time.Duration
	bulkTimeout time.Duration
}

// NewElasticBackend creates a client for cfg. No request is issued until the first call.
func NewElasticBackend(cfg formsync.SearchConfig) (*ElasticBackend, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: retryStatuses,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  retryDelay(cfg.RetryMinBackoff, cfg.RetryMaxBackoff),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	return &ElasticBackend{
		client:      client,
		breaker:     NewCircuitBreakerFromConfig(cfg.CircuitBreaker),
		timeout:     cfg.RequestTimeout,
		bulkTimeout: cfg.BulkTimeout,
	}, nil
}

// retryDelay returns the transport backoff for the n-th retry.
func retryDelay(minDelay, maxDelay time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		bo := backoff.NewExponentialBackOff()
		if minDelay > 0 {
			bo.InitialInterval = minDelay
		}
		if maxDelay > 0 {
			bo.MaxInterval = maxDelay
		}
		bo.Reset()
		d := bo.NextBackOff()
		for i := 1; i < attempt; i++ {
			d = bo.NextBackOff()
		}
		return d
	}
}

// do runs req through the circuit breaker. Transport failures and 5xx responses count
// against the breaker; the caller owns the returned body.
func (b *ElasticBackend) do(ctx context.Context, timeout time.Duration, req esapi.Request) (*esapi.Response, context.CancelFunc, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, nil, err
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		b.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("search request timed out: %w", err)
		}
		return nil, nil, formsync.NewConnectionUnavailableError("search", err)
	}
	if res.StatusCode >= 500 {
		b.breaker.RecordFailure()
	} else {
		b.breaker.RecordSuccess()
	}
	return res, cancel, nil
}

// call runs req and decodes a successful JSON body into out. A nil out discards the body.
func (b *ElasticBackend) call(ctx context.Context, timeout time.Duration, req esapi.Request, out any) (int, error) {
	res, cancel, err := b.do(ctx, timeout, req)
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer res.Body.Close()

	if res.IsError() {
		return res.StatusCode, decodeBackendError(res)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return res.StatusCode, nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return res.StatusCode, fmt.Errorf("failed to decode search response: %w", err)
	}
	return res.StatusCode, nil
}

func decodeBackendError(res *esapi.Response) error {
	var body struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	}
	raw, _ := io.ReadAll(res.Body)
	be := &formsync.BackendError{Status: res.StatusCode}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Error) == 0 {
		be.Reason = string(bytes.TrimSpace(raw))
		return be
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body.Error, &detail) == nil {
		be.Type, be.Reason = detail.Type, detail.Reason
	} else {
		_ = json.Unmarshal(body.Error, &be.Reason)
	}
	return be
}

// Ping checks that the cluster answers.
func (b *ElasticBackend) Ping(ctx context.Context) error {
	_, err := b.call(ctx, b.timeout, esapi.PingRequest{}, nil)
	return err
}

// IndexExists reports whether index exists.
func (b *ElasticBackend) IndexExists(ctx context.Context, index string) (bool, error) {
	res, cancel, err := b.do(ctx, b.timeout, esapi.IndicesExistsRequest{Index: []string{index}})
	if err != nil {
		return false, err
	}
	defer cancel()
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, decodeBackendError(res)
	}
}

// CreateIndex creates index with mapping and, when set, shard settings.
func (b *ElasticBackend) CreateIndex(ctx context.Context, index string, mapping formsync.IndexMapping) error {
	body := map[string]any{"mappings": map[string]any{"properties": mapping.Properties}}
	if mapping.Shards > 0 {
		body["settings"] = map[string]any{
			"number_of_shards":   mapping.Shards,
			"number_of_replicas": mapping.Replicas,
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode index mapping: %w", err)
	}
	if _, err := b.call(ctx, b.timeout, esapi.IndicesCreateRequest{Index: index, Body: bytes.NewReader(payload)}, nil); err != nil {
		return formsync.NewSyncError(formsync.ErrorTypeInternal, formsync.ErrCodeIndexLifecycle, "create index failed").
			WithDetail("index", index).WithCause(err)
	}
	return nil
}

// DeleteIndex drops index. A missing index is not an error.
func (b *ElasticBackend) DeleteIndex(ctx context.Context, index string) error {
	ignore := true
	if _, err := b.call(ctx, b.timeout, esapi.IndicesDeleteRequest{Index: []string{index}, IgnoreUnavailable: &ignore}, nil); err != nil {
		return formsync.NewSyncError(formsync.ErrorTypeInternal, formsync.ErrCodeIndexLifecycle, "delete index failed").
			WithDetail("index", index).WithCause(err)
	}
	return nil
}

// RefreshIndex makes recent writes to index searchable.
func (b *ElasticBackend) RefreshIndex(ctx context.Context, index string) error {
	_, err := b.call(ctx, b.timeout, esapi.IndicesRefreshRequest{Index: []string{index}}, nil)
	return err
}

// CountDocuments returns the number of documents in index.
func (b *ElasticBackend) CountDocuments(ctx context.Context, index string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if _, err := b.call(ctx, b.timeout, esapi.CountRequest{Index: []string{index}}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// ListIndices returns the names of the indices matching pattern.
func (b *ElasticBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	var rows []struct {
		Index string `json:"index"`
	}
	status, err := b.call(ctx, b.timeout, esapi.CatIndicesRequest{Index: []string{pattern}, Format: "json", H: []string{"index"}, S: []string{"index"}}, &rows)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Index)
	}
	return out, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// Bulk upserts docs into index. Rejected documents are reported per item; an error is
// returned only when the request itself fails.
func (b *ElasticBackend) Bulk(ctx context.Context, index string, docs []formsync.SyncDocument) (*formsync.BulkResult, error) {
	out := &formsync.BulkResult{Attempted: len(docs)}
	if len(docs) == 0 {
		return out, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(map[string]any{"index": map[string]string{"_id": d.ID}}); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(d.Fields); err != nil {
			return nil, fmt.Errorf("failed to encode document %s: %w", d.ID, err)
		}
	}

	var resp bulkResponse
	if _, err := b.call(ctx, b.bulkTimeout, esapi.BulkRequest{Index: index, Body: &buf, Timeout: b.bulkTimeout}, &resp); err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				out.Succeeded++
				continue
			}
			f := formsync.BulkItemFailure{DocumentID: r.ID, Status: r.Status}
			if r.Error != nil {
				f.Type, f.Reason = r.Error.Type, r.Error.Reason
			}
			out.Failures = append(out.Failures, f)
		}
	}
	if n := len(resp.Items); n != len(docs) {
		zap.S().Warnw("bulk response item count mismatch", "index", index, "sent", len(docs), "items", n)
	}
	return out, nil
}

type searchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		MaxScore *float64 `json:"max_score"`
		Hits     []struct {
			Index     string              `json:"_index"`
			ID        string              `json:"_id"`
			Score     *float64            `json:"_score"`
			Source    map[string]any      `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs query over indices.
func (b *ElasticBackend) Search(ctx context.Context, indices []string, query formsync.SearchQuery) (*formsync.SearchResponse, error) {
	payload, err := json.Marshal(buildSearchBody(query))
	if err != nil {
		return nil, fmt.Errorf("failed to encode search body: %w", err)
	}

	timeout := b.timeout
	if query.Timeout > 0 {
		// leave the cluster room to answer with partial results
		timeout = query.Timeout + 5*time.Second
	}
	var resp searchResponse
	if _, err := b.call(ctx, timeout, esapi.SearchRequest{Index: indices, Body: bytes.NewReader(payload)}, &resp); err != nil {
		return nil, err
	}

	out := &formsync.SearchResponse{
		Total:    resp.Hits.Total.Value,
		Took:     resp.Took,
		TimedOut: resp.TimedOut,
		Hits:     make([]formsync.BackendHit, 0, len(resp.Hits.Hits)),
	}
	if resp.Hits.MaxScore != nil {
		out.MaxScore = *resp.Hits.MaxScore
	}
	for _, h := range resp.Hits.Hits {
		hit := formsync.BackendHit{Index: h.Index, ID: h.ID, Source: h.Source, Highlight: h.Highlight}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// buildSearchBody renders a SearchQuery as a query DSL body.
func buildSearchBody(q formsync.SearchQuery) map[string]any {
	clauses := q.Clauses
	if q.Text != "" && len(clauses) == 0 {
		clauses = []formsync.MatchClause{{Kind: formsync.MatchBestFields, Fields: []string{"*"}}}
	}

	boolQuery := map[string]any{}
	if q.Text != "" {
		should := make([]any, 0, len(clauses))
		for _, c := range clauses {
			mm := map[string]any{
				"query":  q.Text,
				"type":   string(c.Kind),
				"fields": c.Fields,
			}
			if c.Boost > 0 {
				mm["boost"] = c.Boost
			}
			if c.Fuzziness != "" {
				mm["fuzziness"] = c.Fuzziness
			}
			if c.Lenient {
				mm["lenient"] = true
			}
			should = append(should, map[string]any{"multi_match": mm})
		}
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = max(q.MinimumShouldMatch, 1)
	}
	if q.Terms != nil {
		boolQuery["filter"] = []any{map[string]any{"terms": map[string]any{q.Terms.Field: q.Terms.Values}}}
	}

	body := map[string]any{"size": q.Size}
	if len(boolQuery) == 0 {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		body["query"] = map[string]any{"bool": boolQuery}
	}
	if q.From > 0 {
		body["from"] = q.From
	}

	if len(q.Sort) > 0 {
		sort := make([]any, 0, len(q.Sort))
		for _, s := range q.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			opts := map[string]any{"order": order}
			if s.IgnoreUnmapped {
				opts["unmapped_type"] = "date"
			}
			sort = append(sort, map[string]any{s.Field: opts})
		}
		body["sort"] = sort
	}

	if h := q.Highlight; h != nil {
		fields := make(map[string]any, len(h.Fields))
		for _, f := range h.Fields {
			fields[f] = map[string]any{}
		}
		hl := map[string]any{"fields": fields}
		if h.FragmentSize > 0 {
			hl["fragment_size"] = h.FragmentSize
		}
		if h.FragmentCount > 0 {
			hl["number_of_fragments"] = h.FragmentCount
		}
		if h.PreTag != "" {
			hl["pre_tags"] = []string{h.PreTag}
			hl["post_tags"] = []string{h.PostTag}
		}
		body["highlight"] = hl
	}

	if len(q.SourceIncludes) > 0 || len(q.SourceExcludes) > 0 {
		src := map[string]any{}
		if len(q.SourceIncludes) > 0 {
			src["includes"] = q.SourceIncludes
		}
		if len(q.SourceExcludes) > 0 {
			src["excludes"] = q.SourceExcludes
		}
		body["_source"] = src
	}
	if q.TrackTotalHits {
		body["track_total_hits"] = true
	}
	if q.Timeout > 0 {
		body["timeout"] = fmt.Sprintf("%dms", q.Timeout.Milliseconds())
	}
	return body
}

// GetDocument fetches the source of one document.
func (b *ElasticBackend) GetDocument(ctx context.Context, index, id string) (map[string]any, error) {
	var out struct {
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	status, err := b.call(ctx, b.timeout, esapi.GetRequest{Index: index, DocumentID: id}, &out)
	if status == http.StatusNotFound || (err == nil && !out.Found) {
		return nil, formsync.NewNotFoundError(formsync.ErrCodeRecordNotFound, fmt.Sprintf("record %s not found in %s", id, index))
	}
	if err != nil {
		return nil, err
	}
	return out.Source, nil
}
