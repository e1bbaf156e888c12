package internal

import (
	"context"
	"regexp"
	"strings"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// defaultForeignKey is used when no conventional key name matches a child table.
const defaultForeignKey = "main_id"

// conventionalForeignKeys are tried, in order, after the owner-derived name.
var conventionalForeignKeys = []string{
	"main_id",
	"mainid",
	"parent_id",
	"parentid",
	"form_main_id",
	"formmain_id",
}

// ResolverOptions tunes child table normalization.
type ResolverOptions struct {
	ChildTablePrefix string
	ChildTableRegex  *regexp.Regexp
}

// ResolverOptionsFromConfig compiles the sync settings used by the resolver.
func ResolverOptionsFromConfig(cfg formsync.SyncConfig) ResolverOptions {
	opts := ResolverOptions{ChildTablePrefix: strings.ToLower(cfg.ChildTablePrefix)}
	if cfg.ChildTableRegex != "" {
		opts.ChildTableRegex = regexp.MustCompile("(?i)" + cfg.ChildTableRegex)
	}
	return opts
}

// SchemaResolver turns form metadata rows into FormDefinitions checked against the live database.
type SchemaResolver struct {
	loader    *MetadataLoader
	inspector *TableInspector
	opts      ResolverOptions
}

// NewSchemaResolver creates a resolver reading metadata through loader and probing tables through inspector.
func NewSchemaResolver(loader *MetadataLoader, inspector *TableInspector, opts ResolverOptions) *SchemaResolver {
	return &SchemaResolver{loader: loader, inspector: inspector, opts: opts}
}

// Resolve returns the definition of formID. Child tables that do not exist are dropped;
// a missing or absent primary table fails resolution.
func (r *SchemaResolver) Resolve(ctx context.Context, formID string) (*formsync.FormDefinition, error) {
	rec, err := r.loader.LoadForm(ctx, formID)
	if err != nil {
		return nil, err
	}

	info, err := parseFieldInfo(rec.FieldInfo, formID)
	if err != nil {
		return nil, err
	}
	if info.MainTable == "" {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodeSchemaInvalid, "form has no primary table")
	}
	if !validIdentifier(info.MainTable) {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodeInvalidIdentifier,
			"primary table name is not a valid identifier").WithTable(info.MainTable)
	}

	exists, err := r.inspector.TableExists(ctx, info.MainTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, formsync.NewSchemaInvalidError(formID, formsync.ErrCodePrimaryTableAbsent,
			"primary table does not exist").WithTable(info.MainTable)
	}

	def := &formsync.FormDefinition{
		ID:           rec.ID,
		Name:         rec.Name,
		PrimaryTable: info.MainTable,
		Fields:       info.Fields,
	}

	for _, son := range info.SubTables {
		sub, err := r.resolveSubTable(ctx, formID, info.MainTable, son)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			def.SubTables = append(def.SubTables, *sub)
		}
	}

	zap.S().Infow("resolved form definition",
		"formId", def.ID,
		"table", def.PrimaryTable,
		"fields", len(def.Fields),
		"subTables", len(def.SubTables))
	return def, nil
}

func (r *SchemaResolver) resolveSubTable(ctx context.Context, formID, mainTable string, son parsedSubTable) (*formsync.SubTableDefinition, error) {
	table := r.normalizeChildTable(son.DeclaredTable)

	exists, err := r.inspector.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		zap.S().Infow("sub-table skipped for this pass", "error", formsync.NewTableMissingError(table).WithForm(formID))
		return nil, nil
	}

	owner := son.OwnerTable
	if owner == "" {
		owner = mainTable
	}
	fk, guessed, err := r.resolveForeignKey(ctx, table, son.ForeignKey, owner)
	if err != nil {
		return nil, err
	}
	if guessed {
		zap.S().Warnw("no conventional foreign key found on sub-table, using default",
			"formId", formID, "table", table, "foreignKey", fk)
	} else {
		zap.S().Infow("sub-table foreign key resolved", "formId", formID, "table", table, "foreignKey", fk)
	}

	return &formsync.SubTableDefinition{
		Table:         table,
		DeclaredTable: son.DeclaredTable,
		Label:         son.Label,
		ForeignKey:    fk,
		KeyGuessed:    guessed,
		Fields:        son.Fields,
	}, nil
}

// normalizeChildTable strips the configured prefix only when the remainder follows
// the child table naming convention.
func (r *SchemaResolver) normalizeChildTable(declared string) string {
	prefix := r.opts.ChildTablePrefix
	if prefix == "" || r.opts.ChildTableRegex == nil {
		return declared
	}
	if !strings.HasPrefix(strings.ToLower(declared), prefix) {
		return declared
	}
	rest := declared[len(prefix):]
	if r.opts.ChildTableRegex.MatchString(rest) {
		return rest
	}
	return declared
}

// foreignKeyCandidates lists key names in the order they are tried.
func foreignKeyCandidates(declared, owner string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(conventionalForeignKeys)+2)
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(declared)
	if owner != "" {
		add(owner + "_id")
	}
	for _, c := range conventionalForeignKeys {
		add(c)
	}
	return out
}

// resolveForeignKey returns the first candidate that exists on table. ColumnMissing
// outcomes only advance the search; guessed is true when the default is used.
func (r *SchemaResolver) resolveForeignKey(ctx context.Context, table, declared, owner string) (string, bool, error) {
	for _, candidate := range foreignKeyCandidates(declared, owner) {
		ok, err := r.inspector.ColumnExists(ctx, table, candidate)
		if err != nil {
			return "", false, err
		}
		if ok {
			return candidate, false, nil
		}
		zap.S().Debugw("foreign key candidate absent", "error", formsync.NewColumnMissingError(table, candidate))
	}
	return defaultForeignKey, true, nil
}

// ListForms returns a summary of every non-deleted form.
func (r *SchemaResolver) ListForms(ctx context.Context) ([]formsync.FormSummary, error) {
	recs, err := r.loader.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]formsync.FormSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, formsync.FormSummary{
			ID:        rec.ID,
			Name:      rec.Name,
			TableName: mainTableOf(rec.FieldInfo),
		})
	}
	return out, nil
}

// FormName returns the display name of formID.
func (r *SchemaResolver) FormName(ctx context.Context, formID string) (string, error) {
	rec, err := r.loader.LoadForm(ctx, formID)
	if err != nil {
		return "", err
	}
	return rec.Name, nil
}

// BeginPass clears the inspector caches so existence is checked once per pass.
func (r *SchemaResolver) BeginPass() {
	r.inspector.Reset()
}
