package internal

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// Row is one relational row keyed by live column name.
type Row = map[string]any

// ReadRequest describes a paginated read of one table.
type ReadRequest struct {
	Table           string
	BatchSize       int
	PrimaryKey      string
	WatermarkColumn string
	// Since restricts the read to rows modified after it; nil reads everything.
	Since *time.Time
}

// BatchReader streams row batches from the relational source. Every query holds a
// pooled connection only for its own duration.
type BatchReader struct {
	pool      *ConnPool
	inspector *TableInspector
}

// NewBatchReader creates a reader over pool.
func NewBatchReader(pool *ConnPool, inspector *TableInspector) *BatchReader {
	return &BatchReader{pool: pool, inspector: inspector}
}

// SourceTime returns the source database's clock as a session-local wall clock. It is
// the watermark frame: values compare directly against timestamp columns and convert
// through the session time zone for timestamptz columns.
func (br *BatchReader) SourceTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	err := withConn(ctx, br.pool, func(conn Conn) error {
		return conn.QueryRow(ctx, "SELECT LOCALTIMESTAMP").Scan(&now)
	})
	if err != nil {
		return time.Time{}, formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodeReadFailed,
			"failed to read source clock").WithCause(err)
	}
	return wallClock(now), nil
}

// BeginPass forgets cached table and column lookups so a pass sees the current schema.
func (br *BatchReader) BeginPass() {
	br.inspector.Reset()
}

// TableExists reports whether table is present for the current pass.
func (br *BatchReader) TableExists(ctx context.Context, table string) (bool, error) {
	return br.inspector.TableExists(ctx, table)
}

// Batches returns a restartable sequence of row batches ordered by primary key. Each
// iteration starts from the first row. The sequence ends after a batch shorter than
// BatchSize or an empty batch, so a final page of exactly BatchSize rows costs one
// extra empty query. A missing table yields an empty sequence.
func (br *BatchReader) Batches(ctx context.Context, req ReadRequest) iter.Seq2[[]Row, error] {
	return func(yield func([]Row, error) bool) {
		if req.BatchSize <= 0 {
			yield(nil, formsync.NewValidationError("batchSize", "batch size must be greater than 0"))
			return
		}

		exists, err := br.inspector.TableExists(ctx, req.Table)
		if err != nil {
			yield(nil, err)
			return
		}
		if !exists {
			zap.S().Infow("table absent, nothing to read", "table", req.Table)
			return
		}

		query, err := br.buildPageQuery(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}

		var cursor any
		for page := 0; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, formsync.NewCancelledError(err))
				return
			}

			rows, err := br.readPage(ctx, query, cursor)
			if err != nil {
				yield(nil, formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodeReadFailed,
					"failed to read batch").WithTable(req.Table).WithDetail("page", page).WithCause(err))
				return
			}
			if len(rows) == 0 {
				return
			}

			cursor = rows[len(rows)-1][query.pkColumn]
			if !yield(rows, nil) {
				return
			}
			if len(rows) < req.BatchSize || cursor == nil {
				return
			}
		}
	}
}

// pageQuery is a prepared keyset query. Arguments are the optional watermark, then the cursor.
type pageQuery struct {
	first    string
	next     string
	pkColumn string
	args     []any
}

func (br *BatchReader) buildPageQuery(ctx context.Context, req ReadRequest) (*pageQuery, error) {
	table, err := tableIdentifier(req.Table)
	if err != nil {
		return nil, err
	}
	cols, err := br.inspector.Columns(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	pk, ok := findColumn(cols, req.PrimaryKey)
	if !ok {
		return nil, formsync.NewColumnMissingError(req.Table, req.PrimaryKey)
	}
	pkIdent := sanitizeIdentifier(pk)

	var where []string
	var args []any
	if req.Since != nil {
		if wm, ok := findColumn(cols, req.WatermarkColumn); ok {
			args = append(args, wallClock(*req.Since))
			where = append(where, fmt.Sprintf("%s > $%d::timestamp", sanitizeIdentifier(wm), len(args)))
		} else {
			zap.S().Warnw("watermark column absent, reading every row", "table", req.Table, "column", req.WatermarkColumn)
		}
	}

	build := func(withCursor bool) string {
		clauses := append([]string(nil), where...)
		if withCursor {
			clauses = append(clauses, fmt.Sprintf("%s > $%d", pkIdent, len(args)+1))
		}
		sql := "SELECT * FROM " + table
		if len(clauses) > 0 {
			sql += " WHERE " + strings.Join(clauses, " AND ")
		}
		return sql + fmt.Sprintf(" ORDER BY %s LIMIT %d", pkIdent, req.BatchSize)
	}

	return &pageQuery{first: build(false), next: build(true), pkColumn: pk, args: args}, nil
}

func (br *BatchReader) readPage(ctx context.Context, q *pageQuery, cursor any) ([]Row, error) {
	sql, args := q.first, q.args
	if cursor != nil {
		sql = q.next
		args = append(append([]any(nil), q.args...), cursor)
	}

	var out []Row
	err := withConn(ctx, br.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToMap)
		return err
	})
	return out, err
}

// ChildRows returns the rows of child whose foreign key references one of parentIDs,
// grouped by the referenced id and capped at limit rows per parent.
func (br *BatchReader) ChildRows(ctx context.Context, child formsync.SubTableDefinition, parentIDs []any, limit int) (map[string][]Row, error) {
	out := make(map[string][]Row)
	if len(parentIDs) == 0 {
		return out, nil
	}

	table, err := tableIdentifier(child.Table)
	if err != nil {
		return nil, err
	}
	cols, err := br.inspector.Columns(ctx, child.Table)
	if err != nil {
		if formsync.IsErrorType(err, formsync.ErrorTypeTableMissing) {
			return out, nil
		}
		return nil, err
	}
	fk, ok := findColumn(cols, child.ForeignKey)
	if !ok {
		zap.S().Warnw("foreign key column absent, child rows skipped",
			"error", formsync.NewColumnMissingError(child.Table, child.ForeignKey))
		return out, nil
	}
	fkIdent := sanitizeIdentifier(fk)

	order := fkIdent
	if id, ok := findColumn(cols, "id"); ok {
		order += ", " + sanitizeIdentifier(id)
	}

	predicate, arg := anyPredicate(fkIdent, parentIDs)
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s", table, predicate, order)

	var rows []Row
	err = withConn(ctx, br.pool, func(conn Conn) error {
		r, err := conn.Query(ctx, sql, arg)
		if err != nil {
			return err
		}
		rows, err = pgx.CollectRows(r, pgx.RowToMap)
		return err
	})
	if err != nil {
		return nil, formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodeReadFailed,
			"failed to read child rows").WithTable(child.Table).WithCause(err)
	}

	for _, row := range rows {
		key := idString(row[fk])
		if key == "" {
			continue
		}
		if limit > 0 && len(out[key]) >= limit {
			continue
		}
		out[key] = append(out[key], row)
	}
	return out, nil
}

// anyPredicate builds "col = ANY($1)" with a homogeneous array argument. Mixed id
// types are compared as text.
func anyPredicate(col string, ids []any) (string, any) {
	ints := make([]int64, 0, len(ids))
	strs := make([]string, 0, len(ids))
	allInts, allStrings := true, true
	for _, id := range ids {
		switch v := id.(type) {
		case int64:
			ints = append(ints, v)
			allStrings = false
		case int32:
			ints = append(ints, int64(v))
			allStrings = false
		case int:
			ints = append(ints, int64(v))
			allStrings = false
		case string:
			strs = append(strs, v)
			allInts = false
		default:
			allInts, allStrings = false, false
		}
	}
	switch {
	case allInts:
		return col + " = ANY($1)", ints
	case allStrings:
		return col + " = ANY($1)", strs
	default:
		text := make([]string, 0, len(ids))
		for _, id := range ids {
			if s := idString(id); s != "" {
				text = append(text, s)
			}
		}
		return "CAST(" + col + " AS TEXT) = ANY($1)", text
	}
}

// MemberReferences returns the distinct non-empty values of every column of table whose
// name ends in suffix, restricted to rows modified after since when it is set.
func (br *BatchReader) MemberReferences(ctx context.Context, table, suffix, watermarkColumn string, since *time.Time) ([]string, error) {
	tableIdent, err := tableIdentifier(table)
	if err != nil {
		return nil, err
	}
	cols, err := br.inspector.Columns(ctx, table)
	if err != nil {
		if formsync.IsErrorType(err, formsync.ErrorTypeTableMissing) {
			return nil, nil
		}
		return nil, err
	}

	suffix = strings.ToLower(suffix)
	var memberCols []string
	for _, c := range cols {
		if strings.HasSuffix(strings.ToLower(c), suffix) {
			memberCols = append(memberCols, c)
		}
	}
	if len(memberCols) == 0 {
		return nil, nil
	}

	var filter string
	var args []any
	if since != nil {
		if wm, ok := findColumn(cols, watermarkColumn); ok {
			filter = fmt.Sprintf(" AND %s > $1::timestamp", sanitizeIdentifier(wm))
			args = append(args, wallClock(*since))
		}
	}

	parts := make([]string, 0, len(memberCols))
	for _, c := range memberCols {
		ident := sanitizeIdentifier(c)
		parts = append(parts, fmt.Sprintf("SELECT CAST(%s AS TEXT) AS ref FROM %s WHERE %s IS NOT NULL%s", ident, tableIdent, ident, filter))
	}
	sql := "SELECT DISTINCT ref FROM (" + strings.Join(parts, " UNION ALL ") + ") refs"

	var refs []string
	err = withConn(ctx, br.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		refs, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodeReadFailed,
			"failed to collect member references").WithTable(table).WithCause(err)
	}

	out := refs[:0]
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" && r != "0" {
			out = append(out, r)
		}
	}
	return out, nil
}

// findColumn matches name case-insensitively against live columns.
func findColumn(cols []string, name string) (string, bool) {
	for _, c := range cols {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// idString renders a key value for map lookups and document keys.
func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return displayString(v)
	}
}
