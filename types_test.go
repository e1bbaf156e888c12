package formsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Field Type Tests
// =============================================================================

func TestParseFieldType(t *testing.T) {
	tests := []struct {
		raw  string
		want FieldType
	}{
		{"text", FieldTypeText},
		{"VARCHAR", FieldTypeText},
		{"datetime", FieldTypeDateTime},
		{"TIMESTAMP", FieldTypeDateTime},
		{"date", FieldTypeDateTime},
		{"DECIMAL", FieldTypeNumeric},
		{"INTEGER", FieldTypeNumeric},
		{"member", FieldTypeMember},
		{" Member ", FieldTypeMember},
		{"attachment", FieldTypeOther},
		{"", FieldTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFieldType(tt.raw))
		})
	}
}

func TestFieldsByName_IsCaseInsensitive(t *testing.T) {
	fields := []FieldDefinition{
		{Name: "Field0001", Label: "Title", Type: FieldTypeText},
		{Name: "field0002", Label: "Amount", Type: FieldTypeNumeric},
	}

	byName := FieldsByName(fields)
	require.Len(t, byName, 2)
	assert.Equal(t, "Title", byName["field0001"].Label)
	assert.Equal(t, FieldTypeNumeric, byName["field0002"].Type)
}

// =============================================================================
// Document and Result Tests
// =============================================================================

func TestDocumentKey_IsStable(t *testing.T) {
	assert.Equal(t, "100_1", DocumentKey("100", "1"))
	assert.Equal(t, DocumentKey("100", "1"), DocumentKey("100", "1"))
	assert.NotEqual(t, DocumentKey("10", "01"), DocumentKey("100", "1"))
}

func TestSyncResult_Finish(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &SyncResult{StartedAt: start, Count: 500}

	r.Finish(start.Add(2 * time.Second))

	assert.Equal(t, 2*time.Second, r.ElapsedTime)
	assert.InDelta(t, 2.0, r.Elapsed, 1e-9)
	assert.InDelta(t, 250.0, r.Rate, 1e-9)
}

func TestSyncResult_FinishZeroElapsed(t *testing.T) {
	start := time.Now()
	r := &SyncResult{StartedAt: start, Count: 3}
	r.Finish(start)
	assert.Zero(t, r.Rate)
}

func TestSyncResult_JSON(t *testing.T) {
	r := &SyncResult{FormID: "100", Success: true, Count: 3, Total: 3, Elapsed: 1.5, Rate: 2, Err: errors.New("hidden")}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "100", decoded["formId"])
	assert.Equal(t, 1.5, decoded["elapsedTime"])
	assert.NotContains(t, decoded, "Err")
}

func TestEmptySearchResult(t *testing.T) {
	r := EmptySearchResult("printer")
	assert.Equal(t, "printer", r.Query)
	assert.NotNil(t, r.Hits)
	assert.Empty(t, r.Hits)
	assert.Zero(t, r.Total)
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskRunning.Terminal())
	assert.True(t, TaskSucceeded.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCancelled.Terminal())
}

// =============================================================================
// Error Tests
// =============================================================================

func TestSyncError_Format(t *testing.T) {
	err := NewTableMissingError("t_100_sub").WithForm("100")
	assert.Equal(t, "[table_missing:TABLE_MISSING] form 100 table t_100_sub: table does not exist", err.Error())

	plain := NewSyncError(ErrorTypeInternal, ErrCodeInternalError, "boom")
	assert.Equal(t, "[internal:INTERNAL_ERROR] boom", plain.Error())
}

func TestSyncError_UnwrapAndClassify(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("sync form: %w", NewConnectionUnavailableError("postgres", cause))

	assert.True(t, IsSyncError(err))
	assert.Equal(t, ErrorTypeConnectionUnavailable, ErrorTypeOf(err))
	assert.True(t, IsErrorType(err, ErrorTypeConnectionUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeInternal, ErrorTypeOf(cause))
}

func TestSyncError_Details(t *testing.T) {
	err := NewBulkWritePartialError("form_100", 500, 3)
	assert.Equal(t, 500, err.Details["attempted"])
	assert.Equal(t, 3, err.Details["failed"])
	assert.Equal(t, "form_100", err.Details["index"])

	err.WithDetails(map[string]any{"batch": 2})
	assert.Equal(t, 2, err.Details["batch"])
}

func TestBackendError(t *testing.T) {
	err := &BackendError{Status: 404, Type: "index_not_found_exception", Reason: "no such index [form_1]"}
	assert.Contains(t, err.Error(), "index_not_found_exception")
}
