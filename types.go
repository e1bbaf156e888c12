package formsync

import (
	"strings"
	"time"
)

// FieldType is the declared value type of a form column, used to pick the index field type.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeNumeric  FieldType = "numeric"
	FieldTypeMember   FieldType = "member"
	FieldTypeOther    FieldType = "other"
)

// ParseFieldType normalizes the free-form type names found in form metadata.
func ParseFieldType(raw string) FieldType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text", "varchar", "string", "textarea", "char":
		return FieldTypeText
	case "datetime", "timestamp", "date", "time":
		return FieldTypeDateTime
	case "decimal", "integer", "int", "number", "numeric", "float", "double", "bigint":
		return FieldTypeNumeric
	case "member":
		return FieldTypeMember
	default:
		return FieldTypeOther
	}
}

// Bookkeeping fields written on every document.
const (
	FieldFormID    = "form_id"
	FieldTableName = "table_name"
	FieldRecordID  = "record_id"
	FieldSyncTime  = "sync_time"
)

// BookkeepingFields lists the fields the pipeline adds to every document.
var BookkeepingFields = []string{FieldFormID, FieldTableName, FieldRecordID, FieldSyncTime}

// FieldDefinition describes one column of a form table
type FieldDefinition struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	RawType string    `json:"rawType,omitempty"`
}

// SubTableDefinition describes a child table joined to the primary table by a foreign key
type SubTableDefinition struct {
	Table         string            `json:"table"`
	DeclaredTable string            `json:"declaredTable,omitempty"`
	Label         string            `json:"label"`
	ForeignKey    string            `json:"foreignKey"`
	KeyGuessed    bool              `json:"keyGuessed,omitempty"`
	Fields        []FieldDefinition `json:"fields"`
}

// FormDefinition is the structured description of a form built from its metadata row
type FormDefinition struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	PrimaryTable string               `json:"primaryTable"`
	Fields       []FieldDefinition    `json:"fields"`
	SubTables    []SubTableDefinition `json:"subTables,omitempty"`
}

// FieldsByName indexes fields by lower-cased column name.
func FieldsByName(fields []FieldDefinition) map[string]FieldDefinition {
	out := make(map[string]FieldDefinition, len(fields))
	for _, f := range fields {
		out[strings.ToLower(f.Name)] = f
	}
	return out
}

// FormSummary is one entry of the form listing
type FormSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TableName string `json:"tableName,omitempty"`
}

// FormListRequest filters and pages the form listing
type FormListRequest struct {
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Search   string `json:"search,omitempty"`
}

// Pagination describes one page of a listing
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// FormPage is a page of form summaries
type FormPage struct {
	Forms      []FormSummary `json:"forms"`
	Pagination Pagination    `json:"pagination"`
}

// SyncDocument is the unit written to the search index
type SyncDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// DocumentKey composes the stable document key of a row.
func DocumentKey(formID, recordID string) string {
	return formID + "_" + recordID
}

// SyncResult reports the outcome of one sync pass
type SyncResult struct {
	FormID    string    `json:"formId,omitempty"`
	FormName  string    `json:"formName,omitempty"`
	Index     string    `json:"index,omitempty"`
	FullSync  bool      `json:"fullSync"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Total     int       `json:"total"`
	Attempted int       `json:"attempted"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"startedAt"`
	// Watermark is the source clock read before any row of the pass, in the source
	// session frame. It becomes the next incremental boundary after a successful pass.
	Watermark   time.Time     `json:"-"`
	ElapsedTime time.Duration `json:"-"`
	Elapsed     float64       `json:"elapsedTime"`
	Rate        float64       `json:"rate"`
	Err         error         `json:"-"`
}

// Finish stamps elapsed time and throughput.
func (r *SyncResult) Finish(now time.Time) {
	r.ElapsedTime = now.Sub(r.StartedAt)
	r.Elapsed = r.ElapsedTime.Seconds()
	if r.Elapsed > 0 {
		r.Rate = float64(r.Count) / r.Elapsed
	}
}

// SyncAllResult aggregates the passes of a multi-form run
type SyncAllResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	FullSync     bool          `json:"fullSync"`
	Members      *SyncResult   `json:"members,omitempty"`
	Results      []*SyncResult `json:"results"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Count        int           `json:"count"`
	Elapsed      float64       `json:"elapsedTime"`
}

// SearchRequest is a ranked full-text query over form indices
type SearchRequest struct {
	Query   string   `json:"query"`
	FormIDs []string `json:"formIds,omitempty"`
	Size    int      `json:"size"`
	From    int      `json:"from"`
}

// SearchHit is one rendered result
type SearchHit struct {
	Score     float64             `json:"score"`
	FormID    string              `json:"formId"`
	FormName  string              `json:"formName"`
	TableName string              `json:"tableName"`
	RecordID  string              `json:"recordId"`
	Data      map[string]any      `json:"data"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// SearchResult is the rendered result set of a query
type SearchResult struct {
	Query    string      `json:"query"`
	Hits     []SearchHit `json:"hits"`
	Total    int64       `json:"total"`
	MaxScore float64     `json:"maxScore"`
	Took     int64       `json:"took"`
}

// EmptySearchResult returns a result with no hits.
func EmptySearchResult(query string) *SearchResult {
	return &SearchResult{Query: query, Hits: []SearchHit{}}
}

// RecordDetail is a single indexed document
type RecordDetail struct {
	FormID   string         `json:"formId"`
	FormName string         `json:"formName"`
	RecordID string         `json:"recordId"`
	Data     map[string]any `json:"data"`
	SyncTime string         `json:"syncTime,omitempty"`
}

// MemberHit is one result of a member directory search
type MemberHit struct {
	Score      float64             `json:"score"`
	MemberID   string              `json:"memberId"`
	Name       string              `json:"name"`
	Department string              `json:"department,omitempty"`
	Position   string              `json:"position,omitempty"`
	Email      string              `json:"email,omitempty"`
	Phone      string              `json:"phone,omitempty"`
	Status     string              `json:"status,omitempty"`
	Highlight  map[string][]string `json:"highlight,omitempty"`
}

// MemberSearchResult is the result of a member directory search
type MemberSearchResult struct {
	Hits  []MemberHit `json:"hits"`
	Total int64       `json:"total"`
}

// TaskKind identifies what an asynchronous task runs
type TaskKind string

const (
	TaskKindSyncForm    TaskKind = "sync_form"
	TaskKindSyncAll     TaskKind = "sync_all"
	TaskKindSyncMembers TaskKind = "sync_members"
)

// TaskStatus is the lifecycle state of an asynchronous task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the task can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// TaskState is a snapshot of an asynchronous task
type TaskState struct {
	ID              string        `json:"id"`
	Kind            TaskKind      `json:"kind"`
	Status          TaskStatus    `json:"status"`
	FullSync        bool          `json:"fullSync"`
	FormID          string        `json:"formId,omitempty"`
	CurrentIndex    int           `json:"currentIndex"`
	TotalForms      int           `json:"totalForms"`
	CurrentFormID   string        `json:"currentFormId,omitempty"`
	CurrentFormName string        `json:"currentFormName,omitempty"`
	SuccessCount    int           `json:"successCount"`
	FailureCount    int           `json:"failureCount"`
	Message         string        `json:"message,omitempty"`
	Results         []*SyncResult `json:"results,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	FinishedAt      *time.Time    `json:"finishedAt,omitempty"`
}

// DependencyStatus is the health of one backing service
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthReport aggregates dependency health
type HealthReport struct {
	Healthy      bool               `json:"healthy"`
	Dependencies []DependencyStatus `json:"dependencies"`
}
