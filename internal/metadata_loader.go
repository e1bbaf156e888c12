package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// formRecord is one non-deleted row of the form definition table.
type formRecord struct {
	ID        string
	Name      string
	FieldInfo []byte
}

// MetadataLoader reads form definition rows from the metadata table
type MetadataLoader struct {
	pool      *ConnPool
	tableName string
}

// NewMetadataLoader creates a new metadata loader
func NewMetadataLoader(pool *ConnPool, tableName string) *MetadataLoader {
	return &MetadataLoader{
		pool:      pool,
		tableName: tableName,
	}
}

// LoadForm returns the definition row of formID, or schema_not_found when it is absent or deleted.
// Identifiers are compared as text so large numeric ids survive intact.
func (ml *MetadataLoader) LoadForm(ctx context.Context, formID string) (*formRecord, error) {
	table, err := tableIdentifier(ml.tableName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT CAST(id AS TEXT), COALESCE(name, ''), COALESCE(CAST(field_info AS TEXT), '') FROM %s WHERE CAST(id AS TEXT) = $1 AND delete_flag = 0",
		table)

	var rec formRecord
	var fieldInfo string
	err = withConn(ctx, ml.pool, func(conn Conn) error {
		return conn.QueryRow(ctx, query, formID).Scan(&rec.ID, &rec.Name, &fieldInfo)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, formsync.NewSchemaNotFoundError(formID)
	}
	if err != nil {
		if formsync.IsSyncError(err) {
			return nil, err
		}
		return nil, formsync.NewConnectionUnavailableError("postgres", err)
	}
	rec.FieldInfo = []byte(fieldInfo)
	return &rec, nil
}

// LoadAll returns every non-deleted definition row ordered by id.
func (ml *MetadataLoader) LoadAll(ctx context.Context) ([]formRecord, error) {
	table, err := tableIdentifier(ml.tableName)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT CAST(id AS TEXT), COALESCE(name, ''), COALESCE(CAST(field_info AS TEXT), '') FROM %s WHERE delete_flag = 0 ORDER BY id",
		table)

	var records []formRecord
	err = withConn(ctx, ml.pool, func(conn Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to query form definitions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec formRecord
			var fieldInfo string
			if err := rows.Scan(&rec.ID, &rec.Name, &fieldInfo); err != nil {
				return fmt.Errorf("failed to scan form definition row: %w", err)
			}
			rec.FieldInfo = []byte(fieldInfo)
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		if formsync.IsSyncError(err) {
			return nil, err
		}
		return nil, formsync.NewConnectionUnavailableError("postgres", err)
	}

	zap.S().Debugw("loaded form definitions", "table", ml.tableName, "count", len(records))
	return records, nil
}
