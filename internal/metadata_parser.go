package internal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// fieldInfoSchema is the structural contract of the field_info metadata column. Only the
// containers are checked; malformed entries inside the lists are dropped while parsing.
const fieldInfoSchema = `{
  "type": "object",
  "required": ["front_formmain"],
  "properties": {
    "front_formmain": {
      "type": "object",
      "properties": {
        "tableName": {"type": "string"},
        "fieldInfo": {"type": ["array", "null"]},
        "fields": {"type": ["array", "null"]}
      }
    },
    "formsons": {"type": ["array", "null"]}
  }
}`

var resolvedFieldInfoSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(fieldInfoSchema), &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal field info schema: %w", err)
	}
	return schema.Resolve(&jsonschema.ResolveOptions{})
})

// parsedSubTable is a child table as declared in metadata, before existence and key checks.
type parsedSubTable struct {
	DeclaredTable string
	Label         string
	OwnerTable    string
	ForeignKey    string
	Fields        []formsync.FieldDefinition
}

// parsedFieldInfo is the decoded field_info column.
type parsedFieldInfo struct {
	MainTable string
	Fields    []formsync.FieldDefinition
	SubTables []parsedSubTable
}

// parseFieldInfo validates and decodes the field_info JSON of a form. The formID
// is used for readable errors.
func parseFieldInfo(raw []byte, formID string) (*parsedFieldInfo, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodeInvalidFieldInfo, "field_info is empty")
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodeInvalidFieldInfo,
			"field_info is not valid JSON").WithCause(err)
	}

	resolved, err := resolvedFieldInfoSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field info schema: %w", err)
	}
	if err := resolved.Validate(doc); err != nil {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodeInvalidFieldInfo,
			"field_info has an unexpected structure").WithCause(err)
	}

	main, _ := doc["front_formmain"].(map[string]any)
	info := &parsedFieldInfo{
		MainTable: firstString(main, "tableName", "table_name", "name"),
		Fields:    parseFieldList(firstList(main, "fieldInfo", "fields"), formID),
	}

	sons, _ := doc["formsons"].([]any)
	for i, s := range sons {
		son, ok := s.(map[string]any)
		if !ok {
			zap.S().Debugw("malformed sub-table entry dropped", "formId", formID, "position", i)
			continue
		}
		table := firstString(son, "tableName", "table_name", "name")
		if table == "" {
			zap.S().Warnw("sub-table without a table name ignored", "formId", formID, "position", i)
			continue
		}
		info.SubTables = append(info.SubTables, parsedSubTable{
			DeclaredTable: table,
			Label:         firstString(son, "display", "label", "title", "front_tableName", "tableName", "table_name", "name"),
			OwnerTable:    firstString(son, "ownerTable", "owner_table"),
			ForeignKey:    firstString(son, "foreignKey", "foreign_key"),
			Fields:        parseFieldList(firstList(son, "fieldInfo", "fields"), formID),
		})
	}

	return info, nil
}

// parseFieldList converts raw field entries, dropping entries with neither a name nor a label.
func parseFieldList(raw []any, formID string) []formsync.FieldDefinition {
	fields := make([]formsync.FieldDefinition, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			zap.S().Debugw("malformed field entry dropped", "formId", formID)
			continue
		}
		name := firstString(entry, "name", "columnName", "column_name")
		label := firstString(entry, "display", "label", "title")
		if name == "" && label == "" {
			zap.S().Debugw("field without name or label dropped", "formId", formID)
			continue
		}
		if label == "" {
			label = name
		}
		rawType := firstString(entry, "type", "fieldType", "field_type")
		fields = append(fields, formsync.FieldDefinition{
			Name:    name,
			Label:   label,
			Type:    formsync.ParseFieldType(rawType),
			RawType: rawType,
		})
	}
	return fields
}

// mainTableOf extracts the primary table name without full validation; used by listings.
func mainTableOf(raw []byte) string {
	var doc struct {
		Main map[string]any `json:"front_formmain"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	return firstString(doc.Main, "tableName", "table_name", "name")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			var s string
			switch t := v.(type) {
			case string:
				s = t
			case float64, bool, json.Number:
				s = fmt.Sprint(t)
			}
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstList(m map[string]any, keys ...string) []any {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v
		}
	}
	return nil
}
