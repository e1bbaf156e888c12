package formsync

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnectionUnavailable ErrorType = "connection_unavailable"
	ErrorTypeSchemaNotFound        ErrorType = "schema_not_found"
	ErrorTypeSchemaInvalid         ErrorType = "schema_invalid"
	ErrorTypeTableMissing          ErrorType = "table_missing"
	ErrorTypeColumnMissing         ErrorType = "column_missing"
	ErrorTypeBulkWritePartial      ErrorType = "bulk_write_partial"
	ErrorTypeBulkWriteFatal        ErrorType = "bulk_write_fatal"
	ErrorTypePoolExhausted         ErrorType = "pool_exhausted"
	ErrorTypeQuery                 ErrorType = "query"
	ErrorTypeNotFound              ErrorType = "not_found"
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeCancelled             ErrorType = "cancelled"
	ErrorTypeInternal              ErrorType = "internal"
)

// SyncError is the unified error returned by every component of the pipeline.
type SyncError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	FormID  string         `json:"formId,omitempty"`
	Table   string         `json:"table,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SyncError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.FormID != "" && e.Table != "" {
		return fmt.Sprintf("[%s:%s] form %s table %s: %s", e.Type, e.Code, e.FormID, e.Table, msg)
	}
	if e.FormID != "" {
		return fmt.Sprintf("[%s:%s] form %s: %s", e.Type, e.Code, e.FormID, msg)
	}
	if e.Table != "" {
		return fmt.Sprintf("[%s:%s] table %s: %s", e.Type, e.Code, e.Table, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to a SyncError
func (e *SyncError) WithDetails(details map[string]any) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to a SyncError
func (e *SyncError) WithDetail(key string, value any) *SyncError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a SyncError
func (e *SyncError) WithCause(cause error) *SyncError {
	e.Cause = cause
	return e
}

// WithForm attaches the form identifier
func (e *SyncError) WithForm(formID string) *SyncError {
	e.FormID = formID
	return e
}

// WithTable attaches the physical table name
func (e *SyncError) WithTable(table string) *SyncError {
	e.Table = table
	return e
}

// Error codes
const (
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeConnectionLost   = "CONNECTION_LOST"
	ErrCodePoolExhausted    = "POOL_EXHAUSTED"
	ErrCodePoolClosed       = "POOL_CLOSED"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"

	ErrCodeSchemaNotFound     = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid      = "SCHEMA_INVALID"
	ErrCodeInvalidFieldInfo   = "INVALID_FIELD_INFO"
	ErrCodePrimaryTableAbsent = "PRIMARY_TABLE_ABSENT"
	ErrCodeInvalidIdentifier  = "INVALID_IDENTIFIER"

	ErrCodeTableMissing  = "TABLE_MISSING"
	ErrCodeColumnMissing = "COLUMN_MISSING"

	ErrCodeReadFailed       = "READ_FAILED"
	ErrCodeBulkItemsFailed  = "BULK_ITEMS_FAILED"
	ErrCodeBulkRequestFail  = "BULK_REQUEST_FAILED"
	ErrCodeIndexLifecycle   = "INDEX_LIFECYCLE_FAILED"
	ErrCodeQueryTimeout     = "QUERY_TIMEOUT"
	ErrCodeIndexNotFound    = "INDEX_NOT_FOUND"
	ErrCodeQueryFailed      = "QUERY_FAILED"
	ErrCodeRecordNotFound   = "RECORD_NOT_FOUND"
	ErrCodeTaskNotFound     = "TASK_NOT_FOUND"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeSyncInProgress   = "SYNC_IN_PROGRESS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// User-facing messages for translated search failures.
const (
	MessageQueryTooBroad = "query too broad, narrow terms"
	MessageNoDataSynced  = "no data synced yet"
)

// NewSyncError creates a new SyncError
func NewSyncError(errorType ErrorType, code, message string) *SyncError {
	return &SyncError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewConnectionUnavailableError reports an unreachable relational or search backend.
func NewConnectionUnavailableError(backend string, cause error) *SyncError {
	return NewSyncError(ErrorTypeConnectionUnavailable, ErrCodeConnectionFailed,
		backend+" unavailable").WithDetail("backend", backend).WithCause(cause)
}

// NewPoolExhaustedError reports that no connection could be checked out in time.
func NewPoolExhaustedError(pool string, cause error) *SyncError {
	return NewSyncError(ErrorTypePoolExhausted, ErrCodePoolExhausted,
		"no connection available in pool "+pool).WithDetail("pool", pool).WithCause(cause)
}

// NewSchemaNotFoundError reports an unknown or deleted form.
func NewSchemaNotFoundError(formID string) *SyncError {
	return NewSyncError(ErrorTypeSchemaNotFound, ErrCodeSchemaNotFound,
		"form definition not found or deleted").WithForm(formID)
}

// NewSchemaInvalidError reports metadata that cannot be turned into a usable definition.
func NewSchemaInvalidError(formID, code, message string) *SyncError {
	return NewSyncError(ErrorTypeSchemaInvalid, code, message).WithForm(formID)
}

// NewTableMissingError reports an absent table.
func NewTableMissingError(table string) *SyncError {
	return NewSyncError(ErrorTypeTableMissing, ErrCodeTableMissing, "table does not exist").WithTable(table)
}

// NewColumnMissingError reports an absent column.
func NewColumnMissingError(table, column string) *SyncError {
	return NewSyncError(ErrorTypeColumnMissing, ErrCodeColumnMissing,
		"column "+column+" does not exist").WithTable(table).WithDetail("column", column)
}

// NewBulkWritePartialError reports rejected documents inside an acknowledged bulk request.
func NewBulkWritePartialError(index string, attempted, failed int) *SyncError {
	return NewSyncError(ErrorTypeBulkWritePartial, ErrCodeBulkItemsFailed,
		fmt.Sprintf("%d of %d documents rejected", failed, attempted)).
		WithDetail("index", index).
		WithDetail("attempted", attempted).
		WithDetail("failed", failed)
}

// NewBulkWriteFatalError reports a bulk request that failed as a whole.
func NewBulkWriteFatalError(index string, cause error) *SyncError {
	return NewSyncError(ErrorTypeBulkWriteFatal, ErrCodeBulkRequestFail,
		"bulk request failed").WithDetail("index", index).WithCause(cause)
}

// NewQueryError wraps a search failure with a user-facing message.
func NewQueryError(code, message string, cause error) *SyncError {
	return NewSyncError(ErrorTypeQuery, code, message).WithCause(cause)
}

// NewNotFoundError reports a missing record or task.
func NewNotFoundError(code, message string) *SyncError {
	return NewSyncError(ErrorTypeNotFound, code, message)
}

// NewValidationError reports an invalid caller-supplied parameter.
func NewValidationError(field, message string) *SyncError {
	return NewSyncError(ErrorTypeValidation, ErrCodeInvalidParameter, message).WithDetail("field", field)
}

// NewCancelledError reports a pass stopped by its caller.
func NewCancelledError(cause error) *SyncError {
	return NewSyncError(ErrorTypeCancelled, ErrCodeCancelled, "sync cancelled").WithCause(cause)
}

// IsSyncError reports whether err carries a SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// ErrorTypeOf returns the category of err, or ErrorTypeInternal for foreign errors.
func ErrorTypeOf(err error) ErrorType {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// IsErrorType reports whether err carries a SyncError of the given category.
func IsErrorType(err error, t ErrorType) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Type == t
}
