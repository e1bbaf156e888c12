package internal

import (
	"context"
	"strings"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// memberLookupChunk bounds the number of ids per terms lookup.
const memberLookupChunk = 1000

// MemberLabels maps member ids to display names for one sync pass. It is read-only once built.
type MemberLabels map[string]string

// Resolve returns the display name of id.
func (m MemberLabels) Resolve(id string) (string, bool) {
	name, ok := m[strings.TrimSpace(id)]
	return name, ok
}

// memberNameSource resolves member names relationally.
type memberNameSource interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
	Name(ctx context.Context, id string) (string, bool, error)
}

// LabelResolver builds MemberLabels from the member index, falling back to the
// relational directory for ids the index does not know.
type LabelResolver struct {
	backend     formsync.SearchBackend
	memberIndex string
	directory   memberNameSource
}

// NewLabelResolver creates a resolver over the member index and directory.
func NewLabelResolver(backend formsync.SearchBackend, memberIndex string, directory memberNameSource) *LabelResolver {
	return &LabelResolver{backend: backend, memberIndex: memberIndex, directory: directory}
}

// Preload resolves every id in one index pass plus one relational query for the misses.
// Index failures degrade to the relational path; relational failures are returned.
func (lr *LabelResolver) Preload(ctx context.Context, ids []string) (MemberLabels, error) {
	ids = cleanMemberIDs(ids)
	labels := make(MemberLabels, len(ids))
	if len(ids) == 0 {
		return labels, nil
	}

	if err := lr.fromIndex(ctx, ids, labels); err != nil {
		zap.S().Warnw("member index lookup failed, using database", "index", lr.memberIndex, "error", err)
	}

	var missing []string
	for _, id := range ids {
		if _, ok := labels[id]; !ok {
			missing = append(missing, id)
		}
	}
	fromIndex := len(labels)

	if len(missing) > 0 && lr.directory != nil {
		names, err := lr.directory.Names(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, name := range names {
			labels[id] = name
		}
	}

	zap.S().Infow("member labels preloaded",
		"requested", len(ids),
		"fromIndex", fromIndex,
		"fromDatabase", len(labels)-fromIndex,
		"unresolved", len(ids)-len(labels))
	return labels, nil
}

func (lr *LabelResolver) fromIndex(ctx context.Context, ids []string, labels MemberLabels) error {
	if lr.backend == nil || lr.memberIndex == "" {
		return nil
	}
	for start := 0; start < len(ids); start += memberLookupChunk {
		end := min(start+memberLookupChunk, len(ids))
		chunk := ids[start:end]

		resp, err := lr.backend.Search(ctx, []string{lr.memberIndex}, formsync.SearchQuery{
			Terms:          &formsync.TermsFilter{Field: "member_id", Values: chunk},
			Size:           len(chunk),
			SourceIncludes: []string{"member_id", "name"},
		})
		if err != nil {
			return err
		}
		for _, hit := range resp.Hits {
			id := idString(hit.Source["member_id"])
			if id == "" {
				id = hit.ID
			}
			if name := displayString(hit.Source["name"]); name != "" {
				labels[id] = name
			}
		}
	}
	return nil
}

// ResolveOne looks up a single id outside a preloaded pass.
func (lr *LabelResolver) ResolveOne(ctx context.Context, id string) (string, bool, error) {
	labels := make(MemberLabels, 1)
	if err := lr.fromIndex(ctx, cleanMemberIDs([]string{id}), labels); err == nil {
		if name, ok := labels.Resolve(id); ok {
			return name, true, nil
		}
	}
	if lr.directory == nil {
		return "", false, nil
	}
	return lr.directory.Name(ctx, strings.TrimSpace(id))
}
