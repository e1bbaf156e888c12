package internal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "trim quotes and spaces", input: `  "a" . "b" .. "c"  `, expected: pgx.Identifier{"a", "b", "c"}.Sanitize()},
		{name: "mixed quoted and plain", input: `foo."Bar baz"`, expected: pgx.Identifier{"foo", "Bar baz"}.Sanitize()},
		{name: "all empty parts fallback", input: "...", expected: pgx.Identifier{"..."}.Sanitize()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeIdentifier(tt.input))
		})
	}
}

func TestDisplayString(t *testing.T) {
	u := uuid.MustParse("6f1c2d8e-4b0a-4c1e-9d7e-0a1b2c3d4e5f")
	var amount pgtype.Numeric
	assert.NoError(t, amount.Scan("1250.50"))

	tests := []struct {
		name   string
		input  any
		expect string
	}{
		{name: "nil", input: nil, expect: ""},
		{name: "string", input: "printer", expect: "printer"},
		{name: "bytes", input: []byte("abc"), expect: "abc"},
		{name: "bool", input: true, expect: "true"},
		{name: "int32", input: int32(7), expect: "7"},
		{name: "int64", input: int64(9007199254740993), expect: "9007199254740993"},
		{name: "float", input: 2.5, expect: "2.5"},
		{name: "time", input: time.Date(2024, 3, 5, 8, 9, 10, 500, time.UTC), expect: "2024-03-05 08:09:10"},
		{name: "uuid array", input: [16]byte(u), expect: u.String()},
		{name: "numeric", input: amount, expect: "1250.50"},
		{name: "json object", input: map[string]any{"a": float64(1)}, expect: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, displayString(tt.input))
		})
	}
}

func TestNormalizeDateTime(t *testing.T) {
	tests := []struct {
		input  any
		expect string
	}{
		{input: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), expect: "2024-01-02 03:04:05"},
		{input: "2024-01-02T03:04:05Z", expect: "2024-01-02 03:04:05"},
		{input: "2024-01-02T03:04:05.123456", expect: "2024-01-02 03:04:05"},
		{input: "2024-01-02 03:04:05.9", expect: "2024-01-02 03:04:05"},
		{input: "2024-01-02", expect: "2024-01-02"},
		{input: "  ", expect: ""},
		{input: (*time.Time)(nil), expect: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, normalizeDateTime(tt.input), "input %v", tt.input)
	}
}

func TestWallClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	local := time.Date(2026, 10, 19, 10, 0, 0, 500, ny)
	got := wallClock(local)

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, "2026-10-19 10:00:00", got.Format(displayDateTimeLayout))
	assert.Equal(t, 500, got.Nanosecond())
	assert.Equal(t, got, wallClock(got))
}
