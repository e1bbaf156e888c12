package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// maxMemberSearchSize caps member directory searches.
const maxMemberSearchSize = 100

// memberLister lists the member directory.
type memberLister interface {
	ListMembers(ctx context.Context) ([]Member, error)
}

// MemberSync keeps the member index in step with the member directory and serves
// searches over it.
type MemberSync struct {
	backend    formsync.SearchBackend
	members    memberLister
	index      string
	writeBatch int
	timeout    time.Duration
	now        func() time.Time
}

// NewMemberSync creates a member index syncer writing to index in batches of writeBatch.
func NewMemberSync(backend formsync.SearchBackend, members memberLister, index string, writeBatch int, queryTimeout time.Duration) *MemberSync {
	return &MemberSync{
		backend:    backend,
		members:    members,
		index:      index,
		writeBatch: max(writeBatch, 1),
		timeout:    queryTimeout,
		now:        time.Now,
	}
}

// SyncMembers rebuilds the member index from the directory. The result is never nil.
func (ms *MemberSync) SyncMembers(ctx context.Context) *formsync.SyncResult {
	res := &formsync.SyncResult{
		FormID:    "members",
		FormName:  "members",
		Index:     ms.index,
		FullSync:  true,
		StartedAt: ms.now(),
	}

	members, err := ms.members.ListMembers(ctx)
	if err != nil {
		return ms.fail(res, "member read failed", err)
	}
	res.Total = len(members)

	if err := ms.rebuildIndex(ctx); err != nil {
		return ms.fail(res, "member index preparation failed", err)
	}

	syncTime := ms.now().Format(time.RFC3339)
	docs := make([]formsync.SyncDocument, 0, len(members))
	for _, m := range members {
		if m.ID == "" {
			continue
		}
		docs = append(docs, memberDocument(m, syncTime))
	}

	for start := 0; start < len(docs); start += ms.writeBatch {
		if ctx.Err() != nil {
			return ms.fail(res, "member sync cancelled", formsync.NewCancelledError(ctx.Err()))
		}
		end := min(start+ms.writeBatch, len(docs))
		res.Attempted += end - start
		out, err := ms.backend.Bulk(ctx, ms.index, docs[start:end])
		if err != nil {
			return ms.fail(res, "member bulk write failed", formsync.NewBulkWriteFatalError(ms.index, err))
		}
		res.Count += out.Succeeded
		res.Failed += len(out.Failures)
		for i, f := range out.Failures {
			if i >= maxLoggedItemFailures {
				break
			}
			zap.S().Warnw("member document rejected", "memberId", f.DocumentID, "type", f.Type, "reason", f.Reason)
		}
	}

	if err := ms.backend.RefreshIndex(ctx, ms.index); err != nil {
		return ms.fail(res, "member index refresh failed", err)
	}

	res.Success = true
	res.Finish(ms.now())
	res.Message = fmt.Sprintf("synced %d members in %.1fs", res.Count, res.Elapsed)
	if res.Failed > 0 {
		res.Message = fmt.Sprintf("synced %d of %d members in %.1fs, %d rejected by the index",
			res.Count, len(docs), res.Elapsed, res.Failed)
	}
	emitIndexed(res.FormID, res.Count)
	emitItemFailures(res.FormID, res.Failed)
	zap.S().Infow("member sync finished", "index", ms.index, "count", res.Count, "failed", res.Failed, "elapsed", res.ElapsedTime)
	return res
}

func (ms *MemberSync) rebuildIndex(ctx context.Context) error {
	exists, err := ms.backend.IndexExists(ctx, ms.index)
	if err != nil {
		return err
	}
	if exists {
		if err := ms.backend.DeleteIndex(ctx, ms.index); err != nil {
			return err
		}
	}
	return ms.backend.CreateIndex(ctx, ms.index, memberIndexMapping())
}

func (ms *MemberSync) fail(res *formsync.SyncResult, step string, err error) *formsync.SyncResult {
	res.Err = err
	res.Finish(ms.now())
	res.Message = fmt.Sprintf("%s: %v (attempted %d, succeeded %d)", step, err, res.Attempted, res.Count)
	zap.S().Errorw("member sync failed", "index", ms.index, "step", step, "error", err)
	return res
}

func memberDocument(m Member, syncTime string) formsync.SyncDocument {
	fields := map[string]any{
		"member_id": m.ID,
		"name":      m.Name,
		"sync_time": syncTime,
	}
	optional := map[string]string{
		"department":  m.Department,
		"position":    m.Position,
		"email":       m.Email,
		"phone":       m.Phone,
		"status":      m.Status,
		"create_time": m.CreateTime,
		"update_time": m.UpdateTime,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return formsync.SyncDocument{ID: m.ID, Fields: fields}
}

// SearchMembers runs a ranked search over the member index. An empty query or a
// missing index yields no hits.
func (ms *MemberSync) SearchMembers(ctx context.Context, query string, size int) (*formsync.MemberSearchResult, error) {
	query = strings.TrimSpace(query)
	out := &formsync.MemberSearchResult{Hits: []formsync.MemberHit{}}
	if query == "" {
		return out, nil
	}
	if size <= 0 {
		size = 10
	}
	size = min(size, maxMemberSearchSize)

	resp, err := ms.backend.Search(ctx, []string{ms.index}, formsync.SearchQuery{
		Text: query,
		Clauses: []formsync.MatchClause{
			{Kind: formsync.MatchPhrasePrefix, Fields: []string{"name^3", "department^2", "position"}},
			{Kind: formsync.MatchBestFields, Fields: []string{"name", "department", "position", "email", "phone"}, Fuzziness: "AUTO"},
		},
		MinimumShouldMatch: 1,
		Size:               size,
		Sort: []formsync.SortField{
			{Field: "_score", Desc: true},
			{Field: "name.keyword"},
		},
		Highlight: &formsync.HighlightSpec{
			Fields:        []string{"name", "department", "position"},
			FragmentSize:  100,
			FragmentCount: 1,
			PreTag:        "<mark>",
			PostTag:       "</mark>",
		},
		TrackTotalHits: true,
		Timeout:        ms.timeout,
	})
	if err != nil {
		if isIndexNotFound(err) {
			return out, nil
		}
		return nil, err
	}

	out.Total = resp.Total
	for _, h := range resp.Hits {
		id := displayString(h.Source["member_id"])
		if id == "" {
			id = h.ID
		}
		out.Hits = append(out.Hits, formsync.MemberHit{
			Score:      h.Score,
			MemberID:   id,
			Name:       displayString(h.Source["name"]),
			Department: displayString(h.Source["department"]),
			Position:   displayString(h.Source["position"]),
			Email:      displayString(h.Source["email"]),
			Phone:      displayString(h.Source["phone"]),
			Status:     displayString(h.Source["status"]),
			Highlight:  h.Highlight,
		})
	}
	return out, nil
}
