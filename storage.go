package formsync

import (
	"context"
	"time"
)

// SyncManager provides the sync, task and query operations exposed at the request boundary
type SyncManager interface {
	// Form metadata
	ListForms(ctx context.Context, req FormListRequest) (*FormPage, error)

	// Synchronous sync operations
	SyncForm(ctx context.Context, formID string, fullSync bool) (*SyncResult, error)
	SyncAll(ctx context.Context, fullSync bool) (*SyncAllResult, error)
	SyncMembers(ctx context.Context) (*SyncResult, error)

	// Asynchronous sync operations
	StartSyncForm(formID string, fullSync bool) (string, error)
	StartSyncAll(fullSync bool) (string, error)
	TaskStatus(taskID string) (*TaskState, error)
	CancelTask(taskID string) error

	// Query operations
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	Suggest(ctx context.Context, query string) ([]string, error)
	GetRecord(ctx context.Context, formID, recordID string) (*RecordDetail, error)
	SearchMembers(ctx context.Context, query string, size int) (*MemberSearchResult, error)

	Health(ctx context.Context) HealthReport
	Close()
}

// WatermarkStore persists the last successful sync time of each form
type WatermarkStore interface {
	Get(ctx context.Context, formID string) (time.Time, bool, error)
	Set(ctx context.Context, formID string, at time.Time) error
	Delete(ctx context.Context, formID string) error
	List(ctx context.Context) (map[string]time.Time, error)
}
