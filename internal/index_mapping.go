package internal

import (
	"sort"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// dateFormats accepts the rendered "YYYY-MM-DD HH:MM:SS" form as well as ISO dates and epochs.
const dateFormats = "yyyy-MM-dd HH:mm:ss||yyyy-MM-dd||strict_date_optional_time||epoch_millis"

// fieldMappingFor picks the index type of a declared value type.
func fieldMappingFor(kind formsync.FieldType) formsync.FieldMapping {
	switch kind {
	case formsync.FieldTypeText:
		return formsync.FieldMapping{Type: "text", Analyzer: "standard"}
	case formsync.FieldTypeDateTime:
		return formsync.FieldMapping{Type: "date", Format: dateFormats, IgnoreMalformed: true}
	case formsync.FieldTypeNumeric:
		return formsync.FieldMapping{Type: "double", IgnoreMalformed: true}
	case formsync.FieldTypeMember:
		return formsync.FieldMapping{Type: "keyword"}
	default:
		return formsync.FieldMapping{Type: "text"}
	}
}

// BuildIndexMapping derives the mapping of a form index from every declared field,
// including child-table fields under their prefixed keys. Property names are the
// document keys produced by the Transformer.
func BuildIndexMapping(def *formsync.FormDefinition, opts TransformOptions) formsync.IndexMapping {
	props := map[string]formsync.FieldMapping{
		formsync.FieldFormID:    {Type: "keyword"},
		formsync.FieldTableName: {Type: "keyword"},
		formsync.FieldRecordID:  {Type: "keyword"},
		formsync.FieldSyncTime:  {Type: "date"},
	}

	add := func(cp columnPlan) {
		if cp.skip || cp.key == "" {
			return
		}
		m := fieldMappingFor(cp.kind)
		if prev, ok := props[cp.key]; ok {
			if prev.Type != m.Type {
				zap.S().Debugw("mapping key declared twice, keeping first type",
					"formId", def.ID, "key", cp.key, "kept", prev.Type, "ignored", m.Type)
			}
			return
		}
		props[cp.key] = m
	}

	tr := NewTransformer(def, opts, nil)
	for _, cp := range tr.main.declared(def.Fields) {
		add(cp)
	}

	systemCols := make([]string, 0, len(opts.SystemLabels))
	for col := range opts.SystemLabels {
		systemCols = append(systemCols, col)
	}
	sort.Strings(systemCols)
	for _, col := range systemCols {
		add(tr.main.plan(col))
	}

	for i, sub := range def.SubTables {
		for _, cp := range tr.subs[i].declared(sub.Fields) {
			add(cp)
		}
	}

	return formsync.IndexMapping{Properties: props}
}

// memberIndexMapping is the mapping of the member directory index.
func memberIndexMapping() formsync.IndexMapping {
	return formsync.IndexMapping{
		Properties: map[string]formsync.FieldMapping{
			"member_id": {Type: "keyword"},
			"name": {Type: "text", Analyzer: "standard", Fields: map[string]formsync.FieldMapping{
				"keyword": {Type: "keyword"},
			}},
			"department":  {Type: "text", Analyzer: "standard"},
			"position":    {Type: "text", Analyzer: "standard"},
			"email":       {Type: "keyword"},
			"phone":       {Type: "keyword"},
			"status":      {Type: "keyword"},
			"create_time": {Type: "date", Format: dateFormats, IgnoreMalformed: true},
			"update_time": {Type: "date", Format: dateFormats, IgnoreMalformed: true},
			"sync_time":   {Type: "date"},
		},
		Shards:   1,
		Replicas: 0,
	}
}
