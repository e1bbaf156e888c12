package internal

import (
	"strings"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// skippedColumns are internal columns never written to a document.
var skippedColumns = map[string]bool{
	"id":           true,
	"form_id":      true,
	"table_name":   true,
	"record_id":    true,
	"sync_time":    true,
	"state":        true,
	"sort":         true,
	"ratifyflag":   true,
	"finishedflag": true,
	"approve_date": true,
	"ratify_date":  true,
}

// systemDateColumns hold audit timestamps that are displayed.
var systemDateColumns = map[string]bool{
	"start_date":  true,
	"modify_date": true,
}

// TransformOptions are the pipeline settings the transformer depends on.
type TransformOptions struct {
	PrimaryKey   string
	MemberSuffix string
	SystemLabels map[string]string
}

// TransformOptionsFromConfig extracts transformer settings from the sync configuration.
func TransformOptionsFromConfig(cfg formsync.SyncConfig) TransformOptions {
	return TransformOptions{
		PrimaryKey:   cfg.PrimaryKey,
		MemberSuffix: cfg.MemberSuffix,
		SystemLabels: cfg.SystemLabels,
	}
}

// columnPlan says how one column is keyed and rendered.
type columnPlan struct {
	key    string
	kind   formsync.FieldType
	skip   bool
	member bool
}

// tablePlan resolves column plans for one table, memoizing per column name.
type tablePlan struct {
	prefix  string
	fields  map[string]formsync.FieldDefinition
	skip    map[string]bool
	opts    TransformOptions
	columns map[string]columnPlan
}

func newTablePlan(prefix string, fields []formsync.FieldDefinition, extraSkips []string, opts TransformOptions) *tablePlan {
	skip := make(map[string]bool, len(extraSkips))
	for _, s := range extraSkips {
		if s != "" {
			skip[strings.ToLower(s)] = true
		}
	}
	return &tablePlan{
		prefix:  prefix,
		fields:  formsync.FieldsByName(fields),
		skip:    skip,
		opts:    opts,
		columns: make(map[string]columnPlan),
	}
}

// plan returns how column is written. Plans are built lazily because a table may carry
// columns the metadata does not declare.
func (p *tablePlan) plan(column string) columnPlan {
	if cp, ok := p.columns[column]; ok {
		return cp
	}
	lower := strings.ToLower(column)
	cp := columnPlan{}
	switch {
	case skippedColumns[lower], p.skip[lower]:
		cp.skip = true
	default:
		label := column
		kind := formsync.FieldTypeOther
		if f, ok := p.fields[lower]; ok {
			label, kind = f.Label, f.Type
		} else if sys, ok := p.opts.SystemLabels[lower]; ok {
			label = sys
		}
		if label == "" {
			label = column
		}
		if systemDateColumns[lower] {
			kind = formsync.FieldTypeDateTime
		}
		suffix := strings.ToLower(p.opts.MemberSuffix)
		cp.member = kind == formsync.FieldTypeMember || (suffix != "" && strings.HasSuffix(lower, suffix))
		if cp.member {
			kind = formsync.FieldTypeMember
		}
		cp.kind = kind
		cp.key = label
		if p.prefix != "" {
			cp.key = p.prefix + "_" + label
		}
	}
	p.columns[column] = cp
	return cp
}

// declared returns plans for the metadata-declared fields, in declaration order.
func (p *tablePlan) declared(fields []formsync.FieldDefinition) []columnPlan {
	out := make([]columnPlan, 0, len(fields))
	for _, f := range fields {
		if cp := p.plan(f.Name); !cp.skip {
			out = append(out, cp)
		}
	}
	return out
}

// Transformer turns rows of one form into SyncDocuments. It is built once per pass and
// performs no I/O.
type Transformer struct {
	def     *formsync.FormDefinition
	opts    TransformOptions
	members MemberLabels
	main    *tablePlan
	subs    []*tablePlan
	now     func() time.Time
}

// NewTransformer creates a transformer for def using the pass's member labels.
func NewTransformer(def *formsync.FormDefinition, opts TransformOptions, members MemberLabels) *Transformer {
	t := &Transformer{
		def:     def,
		opts:    opts,
		members: members,
		main:    newTablePlan("", def.Fields, []string{opts.PrimaryKey}, opts),
		now:     time.Now,
	}
	for _, sub := range def.SubTables {
		prefix := sub.Label
		if prefix == "" {
			prefix = sub.Table
		}
		t.subs = append(t.subs, newTablePlan(prefix, sub.Fields, []string{sub.ForeignKey}, opts))
	}
	return t
}

// RecordID returns the primary key of row rendered as a string.
func (t *Transformer) RecordID(row Row) string {
	if v, ok := row[t.opts.PrimaryKey]; ok {
		return idString(v)
	}
	for k, v := range row {
		if strings.EqualFold(k, t.opts.PrimaryKey) {
			return idString(v)
		}
	}
	return ""
}

// Transform builds the document for row. children[i] holds the rows of the i-th sub-table
// that reference row. It reports false when the row has no primary key value.
func (t *Transformer) Transform(row Row, children [][]Row) (formsync.SyncDocument, bool) {
	recordID := t.RecordID(row)
	if recordID == "" {
		zap.S().Warnw("row without primary key skipped", "formId", t.def.ID, "table", t.def.PrimaryTable)
		return formsync.SyncDocument{}, false
	}

	fields := make(map[string]any, len(row)+len(formsync.BookkeepingFields))
	for col, v := range row {
		cp := t.main.plan(col)
		if cp.skip {
			continue
		}
		if s := t.render(cp, v); s != "" {
			fields[cp.key] = s
		}
	}

	for i, rows := range children {
		if i >= len(t.subs) {
			break
		}
		for _, child := range rows {
			for col, v := range child {
				cp := t.subs[i].plan(col)
				if cp.skip {
					continue
				}
				if s := t.render(cp, v); s != "" {
					accumulate(fields, cp.key, s)
				}
			}
		}
	}

	fields[formsync.FieldFormID] = t.def.ID
	fields[formsync.FieldTableName] = t.def.PrimaryTable
	fields[formsync.FieldRecordID] = recordID
	fields[formsync.FieldSyncTime] = t.now().Format(time.RFC3339)

	return formsync.SyncDocument{ID: formsync.DocumentKey(t.def.ID, recordID), Fields: fields}, true
}

// render returns the display string of v, or "" when the value is omitted.
func (t *Transformer) render(cp columnPlan, v any) string {
	switch {
	case v == nil:
		return ""
	case cp.member:
		id := strings.TrimSpace(displayString(v))
		if id == "" || id == "0" {
			return ""
		}
		if name, ok := t.members.Resolve(id); ok {
			return name
		}
		return id
	case cp.kind == formsync.FieldTypeDateTime:
		return normalizeDateTime(v)
	}
	if ts, ok := v.(time.Time); ok {
		return ts.Format(displayDateTimeLayout)
	}
	return strings.TrimRight(displayString(v), " ")
}

// accumulate stores v under key, promoting an existing value to a list.
func accumulate(fields map[string]any, key, v string) {
	switch cur := fields[key].(type) {
	case nil:
		fields[key] = v
	case []string:
		fields[key] = append(cur, v)
	case string:
		fields[key] = []string{cur, v}
	default:
		fields[key] = v
	}
}
