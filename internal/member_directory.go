package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// Member is one row of the member directory.
type Member struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Status     string
	Department string
	Position   string
	// CreateTime and UpdateTime are normalized "YYYY-MM-DD HH:MM:SS" strings.
	CreateTime string
	UpdateTime string
}

// MemberDirectory reads member names from the relational source. It is the slow path
// behind the member index.
type MemberDirectory struct {
	pool      *ConnPool
	inspector *TableInspector
	tables    formsync.TableNames
	names     *expirable.LRU[string, string]
}

// NewMemberDirectory creates a directory reading tables through pool. Single-id lookups
// are cached for ttl.
func NewMemberDirectory(pool *ConnPool, inspector *TableInspector, tables formsync.TableNames, cacheSize int, ttl time.Duration) *MemberDirectory {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &MemberDirectory{
		pool:      pool,
		inspector: inspector,
		tables:    tables,
		names:     expirable.NewLRU[string, string](cacheSize, nil, ttl),
	}
}

// Names resolves ids to display names in one query. Unknown ids are absent from the result.
func (md *MemberDirectory) Names(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	ids = cleanMemberIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}

	table, err := tableIdentifier(md.tables.Member)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT CAST(id AS TEXT), COALESCE(name, '') FROM %s WHERE CAST(id AS TEXT) = ANY($1)", table)

	err = withConn(ctx, md.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, query, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			if name != "" {
				out[id] = name
			}
		}
		return rows.Err()
	})
	if err != nil {
		if formsync.IsSyncError(err) {
			return nil, err
		}
		return nil, formsync.NewConnectionUnavailableError("postgres", err).WithTable(md.tables.Member)
	}

	zap.S().Debugw("resolved member names from database", "requested", len(ids), "found", len(out))
	return out, nil
}

// Name resolves a single id, consulting a short-lived cache first.
func (md *MemberDirectory) Name(ctx context.Context, id string) (string, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "0" {
		return "", false, nil
	}
	if name, ok := md.names.Get(id); ok {
		return name, true, nil
	}

	names, err := md.Names(ctx, []string{id})
	if err != nil {
		return "", false, err
	}
	name, ok := names[id]
	if ok {
		md.names.Add(id, name)
	}
	return name, ok, nil
}

// ListMembers returns every non-deleted member ordered by id. Department and position
// names are joined only when both lookup tables exist.
func (md *MemberDirectory) ListMembers(ctx context.Context) ([]Member, error) {
	member, err := tableIdentifier(md.tables.Member)
	if err != nil {
		return nil, err
	}

	hasDept, err := md.inspector.TableExists(ctx, md.tables.Department)
	if err != nil {
		return nil, err
	}
	hasPos, err := md.inspector.TableExists(ctx, md.tables.Position)
	if err != nil {
		return nil, err
	}

	var query string
	if hasDept && hasPos {
		dept, _ := tableIdentifier(md.tables.Department)
		pos, _ := tableIdentifier(md.tables.Position)
		query = fmt.Sprintf(`SELECT CAST(m.id AS TEXT), COALESCE(m.name, ''), COALESCE(m.email, ''), COALESCE(m.phone, ''), COALESCE(CAST(m.status AS TEXT), ''), COALESCE(CAST(m.create_time AS TEXT), ''), COALESCE(CAST(m.update_time AS TEXT), ''), COALESCE(d.name, ''), COALESCE(p.name, '') FROM %s m LEFT JOIN %s d ON m.department_id = d.id LEFT JOIN %s p ON m.position_id = p.id WHERE m.delete_flag = 0 ORDER BY m.id`,
			member, dept, pos)
	} else {
		zap.S().Infow("department or position table absent, members listed without them",
			"department", hasDept, "position", hasPos)
		query = fmt.Sprintf(`SELECT CAST(id AS TEXT), COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''), COALESCE(CAST(status AS TEXT), ''), COALESCE(CAST(create_time AS TEXT), ''), COALESCE(CAST(update_time AS TEXT), ''), '', '' FROM %s WHERE delete_flag = 0 ORDER BY id`,
			member)
	}

	var members []Member
	err = withConn(ctx, md.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		members, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
			var m Member
			err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Phone, &m.Status, &m.CreateTime, &m.UpdateTime, &m.Department, &m.Position)
			m.CreateTime = normalizeDateTime(m.CreateTime)
			m.UpdateTime = normalizeDateTime(m.UpdateTime)
			return m, err
		})
		return err
	})
	if err != nil {
		if code := pgErrorCode(err); code == sqlStateUndefinedTable {
			return nil, formsync.NewTableMissingError(md.tables.Member).WithCause(err)
		}
		if formsync.IsSyncError(err) {
			return nil, err
		}
		return nil, formsync.NewConnectionUnavailableError("postgres", err).WithTable(md.tables.Member)
	}
	return members, nil
}

// cleanMemberIDs trims ids and drops blanks, zero and duplicates.
func cleanMemberIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == "0" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
