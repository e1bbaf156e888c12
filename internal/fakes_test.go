package internal

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/lychee-technology/formsync"
)

// fakeBackend is an in-memory SearchBackend. Text queries match documents holding the
// query as a case-insensitive substring of any string field.
type fakeBackend struct {
	mu       sync.Mutex
	indices  map[string]map[string]map[string]any
	mappings map[string]formsync.IndexMapping

	searchErr error
	bulkErr   error
	// rejectIDs are reported as item failures by Bulk.
	rejectIDs map[string]bool

	bulkCalls   [][]string
	searchCalls []formsync.SearchQuery
	searchIdx   [][]string
	deleted     []string
	refreshed   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		indices:   make(map[string]map[string]map[string]any),
		mappings:  make(map[string]formsync.IndexMapping),
		rejectIDs: make(map[string]bool),
	}
}

func (f *fakeBackend) Ping(ctx context.Context) error { return nil }

func (f *fakeBackend) IndexExists(ctx context.Context, index string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indices[index]
	return ok, nil
}

func (f *fakeBackend) CreateIndex(ctx context.Context, index string, mapping formsync.IndexMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indices[index]; ok {
		return &formsync.BackendError{Status: 400, Type: "resource_already_exists_exception", Reason: index}
	}
	f.indices[index] = make(map[string]map[string]any)
	f.mappings[index] = mapping
	return nil
}

func (f *fakeBackend) DeleteIndex(ctx context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indices, index)
	delete(f.mappings, index)
	f.deleted = append(f.deleted, index)
	return nil
}

func (f *fakeBackend) RefreshIndex(ctx context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, index)
	return nil
}

func (f *fakeBackend) CountDocuments(ctx context.Context, index string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.indices[index])), nil
}

func (f *fakeBackend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.indices {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBackend) Bulk(ctx context.Context, index string, docs []formsync.SyncDocument) (*formsync.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	f.bulkCalls = append(f.bulkCalls, ids)
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	if _, ok := f.indices[index]; !ok {
		f.indices[index] = make(map[string]map[string]any)
	}
	res := &formsync.BulkResult{Attempted: len(docs)}
	for _, d := range docs {
		if f.rejectIDs[d.ID] {
			res.Failures = append(res.Failures, formsync.BulkItemFailure{DocumentID: d.ID, Status: 400, Type: "mapper_parsing_exception", Reason: "failed to parse"})
			continue
		}
		f.indices[index][d.ID] = d.Fields
		res.Succeeded++
	}
	return res, nil
}

func (f *fakeBackend) Search(ctx context.Context, indices []string, q formsync.SearchQuery) (*formsync.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, q)
	f.searchIdx = append(f.searchIdx, indices)
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	resp := &formsync.SearchResponse{}
	for _, index := range indices {
		docs, ok := f.indices[index]
		if !ok {
			return nil, &formsync.BackendError{Status: 404, Type: "index_not_found_exception", Reason: "no such index [" + index + "]"}
		}
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			doc := docs[id]
			if !matchesTerms(doc, q.Terms) || !matchesText(doc, q.Text) {
				continue
			}
			resp.Hits = append(resp.Hits, formsync.BackendHit{Index: index, ID: id, Score: 1, Source: copyDoc(doc)})
		}
	}
	resp.Total = int64(len(resp.Hits))
	if len(resp.Hits) > 0 {
		resp.MaxScore = 1
	}
	if q.From >= len(resp.Hits) {
		resp.Hits = nil
	} else {
		resp.Hits = resp.Hits[q.From:]
	}
	if q.Size > 0 && len(resp.Hits) > q.Size {
		resp.Hits = resp.Hits[:q.Size]
	}
	return resp, nil
}

func (f *fakeBackend) GetDocument(ctx context.Context, index, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.indices[index][id]
	if !ok {
		return nil, formsync.NewNotFoundError(formsync.ErrCodeRecordNotFound, fmt.Sprintf("document %s not found", id))
	}
	return copyDoc(doc), nil
}

func (f *fakeBackend) doc(index, id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indices[index][id]
}

func (f *fakeBackend) count(index string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indices[index])
}

func matchesTerms(doc map[string]any, terms *formsync.TermsFilter) bool {
	if terms == nil {
		return true
	}
	v := idString(doc[terms.Field])
	for _, want := range terms.Values {
		if v == want {
			return true
		}
	}
	return false
}

func matchesText(doc map[string]any, text string) bool {
	if text == "" {
		return true
	}
	text = strings.ToLower(text)
	for _, v := range doc {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}
	return false
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// fakeDirectory is an in-memory memberNameSource.
type fakeDirectory struct {
	names map[string]string
	err   error
	calls [][]string
}

func (d *fakeDirectory) Names(ctx context.Context, ids []string) (map[string]string, error) {
	d.calls = append(d.calls, ids)
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if n, ok := d.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (d *fakeDirectory) Name(ctx context.Context, id string) (string, bool, error) {
	names, err := d.Names(ctx, []string{id})
	if err != nil {
		return "", false, err
	}
	n, ok := names[id]
	return n, ok, nil
}
