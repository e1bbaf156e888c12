package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// TableInspector answers structural questions about live tables with trivial single-row
// queries. Answers are cached until Reset, which callers invoke once per sync pass.
type TableInspector struct {
	pool *ConnPool

	mu      sync.RWMutex
	exists  map[string]bool
	columns map[string][]string
}

// NewTableInspector creates an inspector that queries through pool.
func NewTableInspector(pool *ConnPool) *TableInspector {
	return &TableInspector{
		pool:    pool,
		exists:  make(map[string]bool),
		columns: make(map[string][]string),
	}
}

// Reset drops cached answers so the next pass sees the current database.
func (ti *TableInspector) Reset() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.exists = make(map[string]bool)
	ti.columns = make(map[string][]string)
}

// TableExists reports whether a single-row select against table succeeds.
func (ti *TableInspector) TableExists(ctx context.Context, table string) (bool, error) {
	key := strings.ToLower(table)
	ti.mu.RLock()
	known, ok := ti.exists[key]
	ti.mu.RUnlock()
	if ok {
		return known, nil
	}

	ident, err := tableIdentifier(table)
	if err != nil {
		zap.S().Warnw("table name from metadata is not a valid identifier", "table", table)
		return false, nil
	}

	var found bool
	err = withConn(ctx, ti.pool, func(conn Conn) error {
		var qerr error
		found, qerr = existenceQuery(ctx, conn, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", ident))
		return qerr
	})
	if err != nil {
		return false, err
	}

	ti.mu.Lock()
	ti.exists[key] = found
	ti.mu.Unlock()
	return found, nil
}

// ColumnExists reports whether a single-row select of column from table succeeds.
func (ti *TableInspector) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	tableIdent, err := tableIdentifier(table)
	if err != nil {
		return false, nil
	}
	colIdent, err := columnIdentifier(column)
	if err != nil {
		return false, nil
	}

	var found bool
	err = withConn(ctx, ti.pool, func(conn Conn) error {
		var qerr error
		found, qerr = existenceQuery(ctx, conn, fmt.Sprintf("SELECT %s FROM %s LIMIT 1", colIdent, tableIdent))
		return qerr
	})
	return found, err
}

// Columns returns the live column names of table, discovered from a zero-row query.
func (ti *TableInspector) Columns(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)
	ti.mu.RLock()
	cols, ok := ti.columns[key]
	ti.mu.RUnlock()
	if ok {
		return cols, nil
	}

	ident, err := tableIdentifier(table)
	if err != nil {
		return nil, err
	}

	err = withConn(ctx, ti.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", ident))
		if err != nil {
			return err
		}
		defer rows.Close()
		fds := rows.FieldDescriptions()
		cols = make([]string, 0, len(fds))
		for _, fd := range fds {
			cols = append(cols, fd.Name)
		}
		for rows.Next() {
		}
		return rows.Err()
	})
	if err != nil {
		if code := pgErrorCode(err); code == sqlStateUndefinedTable {
			return nil, formsync.NewTableMissingError(table).WithCause(err)
		}
		return nil, err
	}

	ti.mu.Lock()
	ti.columns[key] = cols
	ti.mu.Unlock()
	return cols, nil
}

// existenceQuery runs sql and reports whether it succeeded. Only undefined table and
// undefined column mean "does not exist". Other server rejections, such as a missing
// privilege or a cancelled statement, are query errors and transport failures are
// connection errors.
func existenceQuery(ctx context.Context, conn Conn, sql string) (bool, error) {
	rows, err := conn.Query(ctx, sql)
	if err == nil {
		for rows.Next() {
		}
		rows.Close()
		err = rows.Err()
	}
	if err == nil {
		return true, nil
	}
	switch code := pgErrorCode(err); code {
	case sqlStateUndefinedTable, sqlStateUndefinedColumn:
		return false, nil
	case "":
	default:
		zap.S().Warnw("existence check rejected by server", "sql", sql, "sqlstate", code)
		return false, formsync.NewQueryError(formsync.ErrCodeReadFailed, "existence check failed", err).
			WithDetail("sqlstate", code)
	}
	return false, formsync.NewConnectionUnavailableError("postgres", err)
}
