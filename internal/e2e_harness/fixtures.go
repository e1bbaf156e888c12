package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PurchaseFieldInfo is the metadata of form 100: a purchase request with an item list.
const PurchaseFieldInfo = `{
  "front_formmain": {
    "tableName": "T_100",
    "fieldInfo": [
      {"name": "field0001", "display": "Title", "type": "VARCHAR"},
      {"name": "field0002", "display": "Amount", "type": "DECIMAL"},
      {"name": "field0003", "display": "Due", "type": "DATETIME"},
      {"name": "field0004", "display": "Approver", "type": "member"}
    ]
  },
  "formsons": [
    {
      "tableName": "T_100_SUB",
      "display": "Items",
      "foreignKey": "formmain_id",
      "fields": [
        {"name": "field0010", "display": "Item", "type": "VARCHAR"}
      ]
    },
    {"tableName": "T_100_GONE", "display": "Dropped"}
  ]
}`

// TravelFieldInfo is the metadata of form 200, which has no child tables.
const TravelFieldInfo = `{
  "front_formmain": {
    "tableName": "T_200",
    "fieldInfo": [
      {"name": "field0001", "display": "Destination", "type": "VARCHAR"}
    ]
  }
}`

// SeedBase is the modify_date of every seeded row.
var SeedBase = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// SeedForms creates the metadata, member and form tables and inserts:
// form 100 with three rows (two items under row 1) and form 200 with one row.
// T_100_GONE is declared in metadata but never created.
func SeedForms(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cap_form_definition (
  id BIGINT PRIMARY KEY,
  name TEXT,
  field_info TEXT,
  delete_flag INTEGER DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS org_department (id BIGINT PRIMARY KEY, name TEXT);`,
		`CREATE TABLE IF NOT EXISTS org_position (id BIGINT PRIMARY KEY, name TEXT);`,
		`CREATE TABLE IF NOT EXISTS org_member (
  id BIGINT PRIMARY KEY,
  name TEXT,
  email TEXT,
  phone TEXT,
  status INTEGER,
  create_time TIMESTAMP,
  update_time TIMESTAMP,
  department_id BIGINT,
  position_id BIGINT,
  delete_flag INTEGER DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS t_100 (
  id BIGINT PRIMARY KEY,
  field0001 TEXT,
  field0002 NUMERIC(12,2),
  field0003 TIMESTAMP,
  field0004 BIGINT,
  start_member_id BIGINT,
  start_date TIMESTAMP,
  modify_date TIMESTAMP
);`,
		`CREATE TABLE IF NOT EXISTS t_100_sub (
  id BIGINT PRIMARY KEY,
  formmain_id BIGINT,
  field0010 TEXT
);`,
		`CREATE TABLE IF NOT EXISTS t_200 (
  id BIGINT PRIMARY KEY,
  field0001 TEXT,
  modify_date TIMESTAMP
);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	inserts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO cap_form_definition (id, name, field_info, delete_flag) VALUES ($1, $2, $3, 0)`, []any{100, "Purchase Request", PurchaseFieldInfo}},
		{`INSERT INTO cap_form_definition (id, name, field_info, delete_flag) VALUES ($1, $2, $3, 0)`, []any{200, "Travel Expense", TravelFieldInfo}},
		{`INSERT INTO cap_form_definition (id, name, field_info, delete_flag) VALUES ($1, $2, $3, 1)`, []any{300, "Retired Form", TravelFieldInfo}},
		{`INSERT INTO org_department (id, name) VALUES (1, 'Finance'), (2, 'Purchasing')`, nil},
		{`INSERT INTO org_position (id, name) VALUES (1, 'Analyst'), (2, 'Manager')`, nil},
		{`INSERT INTO org_member (id, name, email, status, create_time, update_time, department_id, position_id, delete_flag) VALUES
  (7, 'Li Lei', 'li@example.com', 1, $1, $1, 1, 1, 0),
  (8, 'Han Meimei', 'han@example.com', 1, $1, $1, 2, 2, 0),
  (9, 'Gone Member', NULL, 0, $1, $1, NULL, NULL, 1)`, []any{SeedBase}},
		{`INSERT INTO t_100 (id, field0001, field0002, field0003, field0004, start_member_id, start_date, modify_date) VALUES
  (1, 'Printer toner', 1250.50, $1, 8, 7, $1, $1),
  (2, 'Standing desk', 899.00, NULL, NULL, 8, $1, $1),
  (3, 'Office chair', NULL, NULL, NULL, 42, $1, $1)`, []any{SeedBase}},
		{`INSERT INTO t_100_sub (id, formmain_id, field0010) VALUES (10, 1, 'black toner'), (11, 1, 'printer paper')`, nil},
		{`INSERT INTO t_200 (id, field0001, modify_date) VALUES (1, 'Shanghai', $1)`, []any{SeedBase}},
	}
	for _, ins := range inserts {
		if _, err := db.ExecContext(ctx, ins.sql, ins.args...); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

// TouchRow retitles a primary row of form 100 and stamps it with the database clock.
func TouchRow(ctx context.Context, db *sql.DB, id int, title string) error {
	_, err := db.ExecContext(ctx, `UPDATE t_100 SET field0001 = $1, modify_date = LOCALTIMESTAMP WHERE id = $2`, title, id)
	return err
}
