package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/lychee-technology/formsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	members []Member
	err     error
}

func (f *fakeLister) ListMembers(ctx context.Context) ([]Member, error) {
	return f.members, f.err
}

func directoryMembers() []Member {
	return []Member{
		{ID: "1", Name: "Li Lei", Department: "Finance", Position: "Analyst", Email: "li@example.com", Status: "1"},
		{ID: "2", Name: "Han Meimei", Department: "Purchasing"},
		{ID: "3", Name: "Wang Fang"},
	}
}

func TestMemberSync_SyncMembers(t *testing.T) {
	backend := newFakeBackend()
	ms := NewMemberSync(backend, &fakeLister{members: directoryMembers()}, "system_members", 2, 0)

	res := ms.SyncMembers(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, backend.bulkCalls, 2)
	assert.Equal(t, []string{"system_members"}, backend.refreshed)

	doc := backend.doc("system_members", "1")
	require.NotNil(t, doc)
	assert.Equal(t, "1", doc["member_id"])
	assert.Equal(t, "Finance", doc["department"])
	assert.Contains(t, doc, "sync_time")
	assert.NotContains(t, backend.doc("system_members", "3"), "department", "empty values are omitted")
	assert.Equal(t, 1, backend.mappings["system_members"].Shards)
}

func TestMemberSync_RebuildsExistingIndex(t *testing.T) {
	backend := newFakeBackend()
	require.NoError(t, backend.CreateIndex(context.Background(), "system_members", formsync.IndexMapping{}))
	_, err := backend.Bulk(context.Background(), "system_members", []formsync.SyncDocument{{ID: "99", Fields: map[string]any{"name": "Gone"}}})
	require.NoError(t, err)

	ms := NewMemberSync(backend, &fakeLister{members: directoryMembers()}, "system_members", 10, 0)
	res := ms.SyncMembers(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, []string{"system_members"}, backend.deleted)
	assert.Nil(t, backend.doc("system_members", "99"), "departed members are removed")
	assert.Equal(t, 3, backend.count("system_members"))
}

func TestMemberSync_ReadFailure(t *testing.T) {
	backend := newFakeBackend()
	ms := NewMemberSync(backend, &fakeLister{err: formsync.NewConnectionUnavailableError("postgres", errors.New("down"))}, "system_members", 10, 0)

	res := ms.SyncMembers(context.Background())
	assert.False(t, res.Success)
	assert.True(t, formsync.IsErrorType(res.Err, formsync.ErrorTypeConnectionUnavailable))
	assert.Contains(t, res.Message, "member read failed")
	assert.Empty(t, backend.bulkCalls)
}

func TestMemberSync_BulkFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.bulkErr = errors.New("connection reset")
	ms := NewMemberSync(backend, &fakeLister{members: directoryMembers()}, "system_members", 10, 0)

	res := ms.SyncMembers(context.Background())
	assert.False(t, res.Success)
	assert.True(t, formsync.IsErrorType(res.Err, formsync.ErrorTypeBulkWriteFatal))
}

func TestMemberSync_SearchMembers(t *testing.T) {
	backend := newFakeBackend()
	ms := NewMemberSync(backend, &fakeLister{members: directoryMembers()}, "system_members", 10, 0)
	require.True(t, ms.SyncMembers(context.Background()).Success)

	out, err := ms.SearchMembers(context.Background(), " finance ", 500)
	require.NoError(t, err)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "1", out.Hits[0].MemberID)
	assert.Equal(t, "Li Lei", out.Hits[0].Name)
	assert.EqualValues(t, 1, out.Total)

	q := backend.searchCalls[len(backend.searchCalls)-1]
	assert.Equal(t, "finance", q.Text)
	assert.Equal(t, maxMemberSearchSize, q.Size)
	require.Len(t, q.Clauses, 2)
	assert.Equal(t, []string{"name^3", "department^2", "position"}, q.Clauses[0].Fields)
	assert.Equal(t, "AUTO", q.Clauses[1].Fuzziness)
	assert.Equal(t, "name.keyword", q.Sort[1].Field)
}

func TestMemberSync_SearchMembersEmptyQuery(t *testing.T) {
	backend := newFakeBackend()
	ms := NewMemberSync(backend, &fakeLister{}, "system_members", 10, 0)

	out, err := ms.SearchMembers(context.Background(), "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, out.Hits)
	assert.Empty(t, backend.searchCalls)
}

func TestMemberSync_SearchMembersMissingIndex(t *testing.T) {
	backend := newFakeBackend()
	ms := NewMemberSync(backend, &fakeLister{}, "system_members", 10, 0)

	out, err := ms.SearchMembers(context.Background(), "li", 10)
	require.NoError(t, err)
	assert.Empty(t, out.Hits)
	assert.Zero(t, out.Total)
}
