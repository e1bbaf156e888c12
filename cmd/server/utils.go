package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// APIError is the error half of the response envelope
type APIError struct {
	Type    formsync.ErrorType `json:"type"`
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Details map[string]any     `json:"details,omitempty"`
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Debugw("failed to write response", "error", err)
	}
}

// writeSuccess writes a success envelope
func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

// writeError writes an error envelope with the status matching err's category.
// data, when not nil, carries partial results alongside the error.
func writeError(w http.ResponseWriter, err error, data any) {
	apiErr := toAPIError(err)
	status := statusFor(apiErr)
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "type", apiErr.Type, "code", apiErr.Code, "error", err)
	}
	writeJSON(w, status, APIResponse{Success: false, Data: data, Error: apiErr})
}

func badRequest(w http.ResponseWriter, field, message string) {
	writeError(w, formsync.NewValidationError(field, message), nil)
}

func toAPIError(err error) *APIError {
	var se *formsync.SyncError
	if errors.As(err, &se) {
		msg := se.Message
		if se.Cause != nil && se.Type != formsync.ErrorTypeQuery {
			msg = msg + ": " + se.Cause.Error()
		}
		details := se.Details
		if se.FormID != "" {
			details = withDetail(details, "formId", se.FormID)
		}
		if se.Table != "" {
			details = withDetail(details, "table", se.Table)
		}
		return &APIError{Type: se.Type, Code: se.Code, Message: msg, Details: details}
	}
	return &APIError{Type: formsync.ErrorTypeInternal, Code: formsync.ErrCodeInternalError, Message: err.Error()}
}

func withDetail(details map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}

// statusFor maps an error category onto an HTTP status code
func statusFor(e *APIError) int {
	switch e.Type {
	case formsync.ErrorTypeValidation:
		if e.Code == formsync.ErrCodeSyncInProgress {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case formsync.ErrorTypeNotFound, formsync.ErrorTypeSchemaNotFound:
		return http.StatusNotFound
	case formsync.ErrorTypeSchemaInvalid:
		return http.StatusUnprocessableEntity
	case formsync.ErrorTypeConnectionUnavailable, formsync.ErrorTypePoolExhausted:
		return http.StatusServiceUnavailable
	case formsync.ErrorTypeQuery:
		switch e.Code {
		case formsync.ErrCodeQueryTimeout:
			return http.StatusGatewayTimeout
		case formsync.ErrCodeIndexNotFound:
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case formsync.ErrorTypeBulkWriteFatal, formsync.ErrorTypeBulkWritePartial:
		return http.StatusBadGateway
	case formsync.ErrorTypeCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseBool reads a boolean query parameter
func parseBool(params url.Values, key string, defaultValue bool) (bool, error) {
	v := params.Get(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", key)
	}
	return b, nil
}

// parseInt reads a non-negative integer query parameter
func parseInt(params url.Values, key string, defaultValue int) (int, error) {
	v := params.Get(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// parseList splits a comma separated, possibly repeated parameter
func parseList(params url.Values, key string) []string {
	var out []string
	for _, v := range params[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.S().Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}
