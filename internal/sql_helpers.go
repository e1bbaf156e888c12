package internal

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/formsync"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres SQLSTATE codes that mean a table or column is absent.
const (
	sqlStateUndefinedTable  = "42P01"
	sqlStateUndefinedColumn = "42703"
)

// validIdentifier reports whether name can be interpolated as a single SQL identifier.
func validIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// tableIdentifier validates a metadata-supplied table name and quotes it the way
// Postgres folds unquoted DDL, so T_100 addresses the table created as t_100.
func tableIdentifier(name string) (string, error) {
	if !validIdentifier(name) {
		return "", formsync.NewSyncError(formsync.ErrorTypeValidation, formsync.ErrCodeInvalidIdentifier,
			"invalid table identifier").WithTable(name)
	}
	return pgx.Identifier{strings.ToLower(name)}.Sanitize(), nil
}

// columnIdentifier quotes a column name discovered from the live table or validated from metadata.
func columnIdentifier(name string) (string, error) {
	if !validIdentifier(name) {
		return "", formsync.NewSyncError(formsync.ErrorTypeValidation, formsync.ErrCodeInvalidIdentifier,
			"invalid column identifier").WithDetail("column", name)
	}
	return sanitizeIdentifier(strings.ToLower(name)), nil
}

func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}

// pgErrorCode returns the SQLSTATE of err, or "" when err is not a server error.
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
