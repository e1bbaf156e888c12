package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// Manager implements formsync.SyncManager on top of the pipeline components. It persists
// watermarks after successful passes and keeps passes of one form from overlapping.
type Manager struct {
	orchestrator *Orchestrator
	members      *MemberSync
	query        *QueryEngine
	watermarks   formsync.WatermarkStore
	tasks        *TaskRegistry
	health       *HealthChecker
	scheduler    *Scheduler

	// formLocks holds one *sync.Mutex per form id.
	formLocks sync.Map
	allLock   sync.Mutex
	closers   []func()
	closeOnce sync.Once
}

var _ formsync.SyncManager = (*Manager)(nil)

// ManagerDeps are the components a Manager coordinates.
type ManagerDeps struct {
	Orchestrator *Orchestrator
	Members      *MemberSync
	Query        *QueryEngine
	Watermarks   formsync.WatermarkStore
	Tasks        *TaskRegistry
	Health       *HealthChecker
	// Closers run in reverse order on Close.
	Closers []func()
}

// NewManager creates a manager from deps.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		orchestrator: deps.Orchestrator,
		members:      deps.Members,
		query:        deps.Query,
		watermarks:   deps.Watermarks,
		tasks:        deps.Tasks,
		health:       deps.Health,
		closers:      deps.Closers,
	}
}

// EnableSchedule runs an incremental SyncAll on spec until Close.
func (m *Manager) EnableSchedule(spec string) error {
	s, err := NewScheduler(spec, m.scheduledSync)
	if err != nil {
		return err
	}
	m.scheduler = s
	s.Start()
	return nil
}

func (m *Manager) scheduledSync(ctx context.Context) {
	res, err := m.SyncAll(ctx, false)
	if err != nil {
		zap.S().Warnw("scheduled sync skipped", "error", err)
		return
	}
	zap.S().Infow("scheduled sync finished", "success", res.Success, "message", res.Message)
}

// ListForms pages the form listing.
func (m *Manager) ListForms(ctx context.Context, req formsync.FormListRequest) (*formsync.FormPage, error) {
	return m.query.ListForms(ctx, req)
}

func (m *Manager) lockForm(formID string) (func(), error) {
	v, _ := m.formLocks.LoadOrStore(formID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, formsync.NewSyncError(formsync.ErrorTypeValidation, formsync.ErrCodeSyncInProgress,
			fmt.Sprintf("a sync of form %s is already running", formID)).WithForm(formID)
	}
	return mu.Unlock, nil
}

// SyncForm runs one pass. An incremental pass without a recorded watermark runs as a
// full sync. The returned error is the pass error when the pass failed.
func (m *Manager) SyncForm(ctx context.Context, formID string, fullSync bool) (*formsync.SyncResult, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return nil, formsync.NewValidationError("formId", "form id is required")
	}
	unlock, err := m.lockForm(formID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	opts := SyncOptions{FullSync: fullSync}
	if !fullSync {
		since, err := m.watermark(ctx, formID)
		if err != nil {
			return nil, err
		}
		opts.Since = since
		opts.FullSync = since == nil
	}

	res := m.orchestrator.SyncForm(ctx, formID, opts)
	m.recordWatermark(res)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

// SyncAll runs every form. Only one SyncAll runs at a time, and a form already being
// synced on its own is reported as failed with SYNC_IN_PROGRESS instead of run twice.
func (m *Manager) SyncAll(ctx context.Context, fullSync bool) (*formsync.SyncAllResult, error) {
	return m.syncAll(ctx, fullSync, nil, nil)
}

func (m *Manager) syncAll(ctx context.Context, fullSync bool,
	onStart func(int, int, formsync.FormSummary), onDone func(int, *formsync.SyncResult)) (*formsync.SyncAllResult, error) {
	if !m.allLock.TryLock() {
		return nil, formsync.NewSyncError(formsync.ErrorTypeValidation, formsync.ErrCodeSyncInProgress, "a sync of all forms is already running")
	}
	defer m.allLock.Unlock()

	out := m.orchestrator.SyncAll(ctx, SyncAllOptions{
		FullSync:    fullSync,
		Watermark:   m.watermark,
		OnFormStart: onStart,
		LockForm:    m.lockForm,
		OnFormDone: func(i int, res *formsync.SyncResult) {
			m.recordWatermark(res)
			if onDone != nil {
				onDone(i, res)
			}
		},
	})
	return out, nil
}

// SyncMembers rebuilds the member index.
func (m *Manager) SyncMembers(ctx context.Context) (*formsync.SyncResult, error) {
	res := m.members.SyncMembers(ctx)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

func (m *Manager) watermark(ctx context.Context, formID string) (*time.Time, error) {
	if m.watermarks == nil {
		return nil, nil
	}
	at, ok, err := m.watermarks.Get(ctx, formID)
	if err != nil || !ok {
		return nil, err
	}
	return &at, nil
}

// recordWatermark stores the source clock read at the start of a successful pass, so
// rows modified while it ran are read again next time.
func (m *Manager) recordWatermark(res *formsync.SyncResult) {
	if m.watermarks == nil || res == nil || !res.Success || res.FormID == "" || res.Watermark.IsZero() {
		return
	}
	// the pass may have been cancelled right after it finished
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.watermarks.Set(ctx, res.FormID, res.Watermark); err != nil {
		zap.S().Errorw("failed to record watermark", "formId", res.FormID, "error", err)
	}
}

// StartSyncForm runs SyncForm as a background task.
func (m *Manager) StartSyncForm(formID string, fullSync bool) (string, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return "", formsync.NewValidationError("formId", "form id is required")
	}
	id := m.tasks.Launch(formsync.TaskKindSyncForm, formID, fullSync, func(ctx context.Context, update func(func(*formsync.TaskState))) TaskOutcome {
		update(func(s *formsync.TaskState) {
			s.TotalForms = 1
			s.CurrentIndex = 1
			s.CurrentFormID = formID
		})
		res, err := m.SyncForm(ctx, formID, fullSync)
		if res == nil {
			return TaskOutcome{Message: err.Error()}
		}
		update(func(s *formsync.TaskState) {
			s.CurrentFormName = res.FormName
			if res.Success {
				s.SuccessCount = 1
			} else {
				s.FailureCount = 1
			}
		})
		return TaskOutcome{Success: res.Success, Message: res.Message, Results: []*formsync.SyncResult{res}}
	})
	return id, nil
}

// StartSyncAll runs SyncAll as a background task with per-form progress.
func (m *Manager) StartSyncAll(fullSync bool) (string, error) {
	id := m.tasks.Launch(formsync.TaskKindSyncAll, "", fullSync, func(ctx context.Context, update func(func(*formsync.TaskState))) TaskOutcome {
		out, err := m.syncAll(ctx, fullSync,
			func(i, total int, form formsync.FormSummary) {
				update(func(s *formsync.TaskState) {
					s.TotalForms = total
					s.CurrentIndex = i + 1
					s.CurrentFormID = form.ID
					s.CurrentFormName = form.Name
				})
			},
			func(_ int, res *formsync.SyncResult) {
				update(func(s *formsync.TaskState) {
					if res.Success {
						s.SuccessCount++
					} else {
						s.FailureCount++
					}
				})
			})
		if err != nil {
			return TaskOutcome{Message: err.Error()}
		}
		results := out.Results
		if out.Members != nil {
			results = append([]*formsync.SyncResult{out.Members}, results...)
		}
		return TaskOutcome{Success: out.Success, Message: out.Message, Results: results}
	})
	return id, nil
}

// TaskStatus returns a snapshot of a background task.
func (m *Manager) TaskStatus(taskID string) (*formsync.TaskState, error) {
	return m.tasks.Get(taskID)
}

// CancelTask requests cancellation of a background task.
func (m *Manager) CancelTask(taskID string) error {
	return m.tasks.Cancel(taskID)
}

// Search runs a ranked query over the form indices.
func (m *Manager) Search(ctx context.Context, req formsync.SearchRequest) (*formsync.SearchResult, error) {
	return m.query.Search(ctx, req)
}

// Suggest returns search suggestions for query.
func (m *Manager) Suggest(ctx context.Context, query string) ([]string, error) {
	return m.query.Suggest(ctx, query)
}

// GetRecord fetches one indexed record.
func (m *Manager) GetRecord(ctx context.Context, formID, recordID string) (*formsync.RecordDetail, error) {
	return m.query.GetRecord(ctx, formID, recordID)
}

// SearchMembers searches the member index.
func (m *Manager) SearchMembers(ctx context.Context, query string, size int) (*formsync.MemberSearchResult, error) {
	return m.members.SearchMembers(ctx, query, size)
}

// Health reports the status of every backing service.
func (m *Manager) Health(ctx context.Context) formsync.HealthReport {
	if m.health == nil {
		return formsync.HealthReport{Healthy: true, Dependencies: []formsync.DependencyStatus{}}
	}
	return m.health.Check(ctx)
}

// Close stops the scheduler, cancels running tasks and releases every resource.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.scheduler != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.scheduler.Stop(ctx); err != nil {
				zap.S().Warnw("scheduler did not stop in time", "error", err)
			}
			cancel()
		}
		if m.tasks != nil {
			m.tasks.Close()
		}
		for i := len(m.closers) - 1; i >= 0; i-- {
			m.closers[i]()
		}
		zap.S().Infow("sync manager closed")
	})
}
