package internal

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// displayDateTimeLayout is the rendering of every date/time value written to an index.
const displayDateTimeLayout = "2006-01-02 15:04:05"

// displayString renders a scalar column value the way it is shown to users.
// Driver values such as pgtype.Numeric go through their driver.Valuer.
func displayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(displayDateTimeLayout)
	case [16]byte:
		return uuid.UUID(t).String()
	case uuid.UUID:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return ""
		}
		return displayString(dv)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// normalizeDateTime renders a date/time value as "YYYY-MM-DD HH:MM:SS". Strings are
// split on the ISO separator and stripped of fractional seconds and zone suffixes.
func normalizeDateTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(displayDateTimeLayout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(displayDateTimeLayout)
	}

	s := strings.TrimSpace(displayString(v))
	if s == "" {
		return ""
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.Format(displayDateTimeLayout)
	}
	s = strings.Replace(s, "T", " ", 1)
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	if i := strings.IndexAny(s, "+Z"); i > 10 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// wallClock keeps the calendar fields of t and drops its zone. Watermarks live in the
// source database's session frame, which is how timestamp columns are compared.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
