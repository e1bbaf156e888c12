package internal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxLoggedItemFailures bounds the per-batch item failures written to the log.
const maxLoggedItemFailures = 10

// schemaSource resolves form definitions.
type schemaSource interface {
	Resolve(ctx context.Context, formID string) (*formsync.FormDefinition, error)
	ListForms(ctx context.Context) ([]formsync.FormSummary, error)
	BeginPass()
}

// rowSource reads form rows.
type rowSource interface {
	Batches(ctx context.Context, req ReadRequest) iter.Seq2[[]Row, error]
	ChildRows(ctx context.Context, child formsync.SubTableDefinition, parentIDs []any, limit int) (map[string][]Row, error)
	MemberReferences(ctx context.Context, table, suffix, watermarkColumn string, since *time.Time) ([]string, error)
	SourceTime(ctx context.Context) (time.Time, error)
	BeginPass()
}

// labelSource pre-warms member labels for a pass.
type labelSource interface {
	Preload(ctx context.Context, ids []string) (MemberLabels, error)
}

// memberSyncer rebuilds the member index.
type memberSyncer interface {
	SyncMembers(ctx context.Context) *formsync.SyncResult
}

// SyncOptions selects the kind of pass run for one form.
type SyncOptions struct {
	FullSync bool
	// Since is the watermark of an incremental pass. A nil Since reads every row.
	Since *time.Time
}

// SyncAllOptions drives a multi-form run.
type SyncAllOptions struct {
	FullSync bool
	// Watermark returns the incremental boundary of a form; nil means full sync.
	Watermark func(ctx context.Context, formID string) (*time.Time, error)
	// OnFormStart is called before each form pass. It may be called concurrently.
	OnFormStart func(index, total int, form formsync.FormSummary)
	// OnFormDone is called after each form pass. It may be called concurrently.
	OnFormDone func(index int, result *formsync.SyncResult)
	// LockForm claims a form before its pass and returns the release func. The claim is
	// held through OnFormDone. An error fails that form without running it.
	LockForm func(formID string) (func(), error)
}

// Orchestrator drives the read, transform and write pipeline of form sync passes.
type Orchestrator struct {
	schemas schemaSource
	rows    rowSource
	labels  labelSource
	backend formsync.SearchBackend
	members memberSyncer

	search formsync.SearchConfig
	sync   formsync.SyncConfig
	opts   TransformOptions
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator. members may be nil when no member index is kept.
func NewOrchestrator(schemas schemaSource, rows rowSource, labels labelSource, backend formsync.SearchBackend,
	members memberSyncer, searchCfg formsync.SearchConfig, syncCfg formsync.SyncConfig) *Orchestrator {
	return &Orchestrator{
		schemas: schemas,
		rows:    rows,
		labels:  labels,
		backend: backend,
		members: members,
		search:  searchCfg,
		sync:    syncCfg,
		opts:    TransformOptionsFromConfig(syncCfg),
		now:     time.Now,
	}
}

// SyncForm runs one pass for formID. The result is never nil; Success is false and Err
// set when a step failed. Concurrent passes of the same form must be serialized by the caller.
func (o *Orchestrator) SyncForm(ctx context.Context, formID string, opts SyncOptions) *formsync.SyncResult {
	o.beginPass()
	return o.syncForm(ctx, formID, opts)
}

// beginPass drops existence and column caches left over from an earlier pass.
func (o *Orchestrator) beginPass() {
	o.schemas.BeginPass()
	o.rows.BeginPass()
}

func (o *Orchestrator) syncForm(ctx context.Context, formID string, opts SyncOptions) *formsync.SyncResult {
	res := &formsync.SyncResult{
		FormID:    formID,
		Index:     o.search.IndexName(formID),
		FullSync:  opts.FullSync,
		StartedAt: o.now(),
	}
	if opts.FullSync {
		opts.Since = nil
	}

	def, err := o.schemas.Resolve(ctx, formID)
	if err != nil {
		return o.fail(res, "schema resolution failed", err)
	}
	res.FormName = def.Name

	// rows modified from here on are newer than the recorded watermark
	res.Watermark, err = o.rows.SourceTime(ctx)
	if err != nil {
		return o.fail(res, "source clock read failed", err)
	}

	if err := o.prepareIndex(ctx, res.Index, def, opts.FullSync); err != nil {
		return o.fail(res, "index preparation failed", err)
	}

	labels, err := o.preloadLabels(ctx, def, opts.Since)
	if err != nil {
		return o.fail(res, "member label preload failed", err)
	}
	tr := NewTransformer(def, o.opts, labels)

	zap.S().Infow("sync pass started",
		"formId", formID,
		"index", res.Index,
		"fullSync", opts.FullSync,
		"since", opts.Since,
		"memberLabels", len(labels))

	batches := o.rows.Batches(ctx, ReadRequest{
		Table:           def.PrimaryTable,
		BatchSize:       o.sync.ReadBatchSize,
		PrimaryKey:      o.sync.PrimaryKey,
		WatermarkColumn: o.sync.WatermarkColumn,
		Since:           opts.Since,
	})
	batchNo := 0
	for batch, err := range batches {
		if err != nil {
			return o.fail(res, "batch read failed", err)
		}
		batchNo++
		res.Total += len(batch)

		docs, err := o.buildDocuments(ctx, def, tr, batch)
		if err != nil {
			return o.fail(res, "child row read failed", err)
		}
		if err := o.writeDocuments(ctx, res, docs); err != nil {
			return o.fail(res, "bulk write failed", err)
		}

		zap.S().Debugw("batch synced",
			"formId", formID,
			"batch", batchNo,
			"count", res.Count,
			"total", res.Total)
	}

	if err := o.backend.RefreshIndex(ctx, res.Index); err != nil {
		return o.fail(res, "index refresh failed", err)
	}

	res.Success = true
	res.Finish(o.now())
	if res.Failed > 0 {
		res.Message = fmt.Sprintf("synced %d of %d records in %.1fs, %d rejected by the index",
			res.Count, res.Total, res.Elapsed, res.Failed)
		res.Err = formsync.NewBulkWritePartialError(res.Index, res.Attempted, res.Failed).WithForm(formID)
	} else {
		res.Message = fmt.Sprintf("synced %d records in %.1fs (%.1f records/s)", res.Count, res.Elapsed, res.Rate)
	}
	emitSyncPass(outcomeSuccess, res.ElapsedTime)

	zap.S().Infow("sync pass finished",
		"formId", formID,
		"count", res.Count,
		"total", res.Total,
		"failed", res.Failed,
		"elapsed", res.ElapsedTime,
		"rate", res.Rate)
	return res
}

// prepareIndex rebuilds the index for a full pass and creates it when missing otherwise.
func (o *Orchestrator) prepareIndex(ctx context.Context, index string, def *formsync.FormDefinition, full bool) error {
	exists, err := o.backend.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists && !full {
		return nil
	}
	if exists {
		if err := o.backend.DeleteIndex(ctx, index); err != nil {
			return err
		}
		zap.S().Infow("dropped index for rebuild", "formId", def.ID, "index", index)
	}
	mapping := BuildIndexMapping(def, o.opts)
	if err := o.backend.CreateIndex(ctx, index, mapping); err != nil {
		return err
	}
	zap.S().Infow("created index", "formId", def.ID, "index", index, "properties", len(mapping.Properties))
	return nil
}

// preloadLabels collects every member id referenced by the pass and resolves them at once.
func (o *Orchestrator) preloadLabels(ctx context.Context, def *formsync.FormDefinition, since *time.Time) (MemberLabels, error) {
	ids, err := o.rows.MemberReferences(ctx, def.PrimaryTable, o.sync.MemberSuffix, o.sync.WatermarkColumn, since)
	if err != nil {
		return nil, err
	}
	// child rows of a modified parent need not be modified themselves
	for _, sub := range def.SubTables {
		childIDs, err := o.rows.MemberReferences(ctx, sub.Table, o.sync.MemberSuffix, o.sync.WatermarkColumn, nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, childIDs...)
	}
	if len(ids) == 0 {
		return MemberLabels{}, nil
	}
	return o.labels.Preload(ctx, ids)
}

// buildDocuments attaches child rows to a batch and transforms it.
func (o *Orchestrator) buildDocuments(ctx context.Context, def *formsync.FormDefinition, tr *Transformer, batch []Row) ([]formsync.SyncDocument, error) {
	parentIDs := make([]any, 0, len(batch))
	for _, row := range batch {
		if id := tr.RecordID(row); id != "" {
			parentIDs = append(parentIDs, primaryKeyValue(row, o.sync.PrimaryKey))
		}
	}

	children := make([]map[string][]Row, len(def.SubTables))
	for i, sub := range def.SubTables {
		rows, err := o.rows.ChildRows(ctx, sub, parentIDs, o.sync.ChildRowLimit)
		if err != nil {
			return nil, err
		}
		children[i] = rows
	}

	docs := make([]formsync.SyncDocument, 0, len(batch))
	perRow := make([][]Row, len(def.SubTables))
	for _, row := range batch {
		id := tr.RecordID(row)
		for i := range children {
			perRow[i] = children[i][id]
		}
		if doc, ok := tr.Transform(row, perRow); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// writeDocuments issues bulk writes in sub-batches. Item failures are counted and the
// pass continues; a failed request aborts it.
func (o *Orchestrator) writeDocuments(ctx context.Context, res *formsync.SyncResult, docs []formsync.SyncDocument) error {
	size := max(o.sync.WriteBatchSize, 1)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		chunk := docs[start:end]
		res.Attempted += len(chunk)

		out, err := o.backend.Bulk(ctx, res.Index, chunk)
		if err != nil {
			if formsync.IsErrorType(err, formsync.ErrorTypeBulkWriteFatal) {
				return err
			}
			return formsync.NewBulkWriteFatalError(res.Index, err).
				WithDetail("attempted", res.Attempted).
				WithDetail("succeeded", res.Count)
		}

		res.Count += out.Succeeded
		res.Failed += len(out.Failures)
		emitIndexed(res.FormID, out.Succeeded)
		emitItemFailures(res.FormID, len(out.Failures))
		for i, f := range out.Failures {
			if i >= maxLoggedItemFailures {
				zap.S().Warnw("further bulk item failures not logged", "formId", res.FormID, "remaining", len(out.Failures)-i)
				break
			}
			zap.S().Warnw("bulk item rejected",
				"formId", res.FormID,
				"documentId", f.DocumentID,
				"status", f.Status,
				"type", f.Type,
				"reason", f.Reason)
		}
	}
	return nil
}

// fail closes res as a failed pass.
func (o *Orchestrator) fail(res *formsync.SyncResult, step string, err error) *formsync.SyncResult {
	res.Success = false
	res.Err = err
	res.Finish(o.now())

	outcome := outcomeFailure
	if errors.Is(err, context.Canceled) || formsync.IsErrorType(err, formsync.ErrorTypeCancelled) {
		outcome = outcomeCancelled
		res.Message = fmt.Sprintf("sync cancelled after %d of %d records", res.Count, res.Total)
	} else {
		res.Message = fmt.Sprintf("%s: %v (attempted %d, succeeded %d)", step, err, res.Attempted, res.Count)
	}
	emitSyncPass(outcome, res.ElapsedTime)

	zap.S().Errorw("sync pass failed",
		"formId", res.FormID,
		"step", step,
		"attempted", res.Attempted,
		"count", res.Count,
		"error", err)
	return res
}

// SyncAll runs every form, preceded by a member sync when configured. Form failures never
// stop other forms; cancellation skips forms not yet started.
func (o *Orchestrator) SyncAll(ctx context.Context, opts SyncAllOptions) *formsync.SyncAllResult {
	start := o.now()
	out := &formsync.SyncAllResult{FullSync: opts.FullSync}

	o.beginPass()

	if o.sync.SyncMembersFirst && o.members != nil {
		out.Members = o.members.SyncMembers(ctx)
		if !out.Members.Success {
			zap.S().Warnw("member sync failed, continuing with forms", "message", out.Members.Message)
		}
	}

	forms, err := o.schemas.ListForms(ctx)
	if err != nil {
		out.Message = fmt.Sprintf("failed to list forms: %v", err)
		out.Elapsed = o.now().Sub(start).Seconds()
		zap.S().Errorw("sync all aborted", "error", err)
		return out
	}

	// each worker writes only its own slot
	results := make([]*formsync.SyncResult, len(forms))
	g := new(errgroup.Group)
	g.SetLimit(max(o.sync.Workers, 1))

	for i, form := range forms {
		if ctx.Err() != nil {
			results[i] = o.skipped(form, opts.FullSync, ctx.Err())
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = o.skipped(form, opts.FullSync, ctx.Err())
				return nil
			}
			if opts.OnFormStart != nil {
				opts.OnFormStart(i, len(forms), form)
			}
			if opts.LockForm != nil {
				unlock, err := opts.LockForm(form.ID)
				if err != nil {
					res := &formsync.SyncResult{FormID: form.ID, FormName: form.Name, Index: o.search.IndexName(form.ID),
						FullSync: opts.FullSync, StartedAt: o.now()}
					results[i] = o.fail(res, "form sync already running", err)
					if opts.OnFormDone != nil {
						opts.OnFormDone(i, results[i])
					}
					return nil
				}
				defer unlock()
			}
			res := o.runForm(ctx, form, opts)
			results[i] = res
			if opts.OnFormDone != nil {
				opts.OnFormDone(i, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	out.Results = results
	for _, r := range results {
		if r.Success {
			out.SuccessCount++
			out.Count += r.Count
		} else {
			out.FailureCount++
		}
	}
	out.Success = out.FailureCount == 0 && ctx.Err() == nil
	out.Elapsed = o.now().Sub(start).Seconds()
	out.Message = fmt.Sprintf("synced %d forms, %d failed, %d records in %.1fs",
		out.SuccessCount, out.FailureCount, out.Count, out.Elapsed)

	zap.S().Infow("sync all finished",
		"forms", len(forms),
		"succeeded", out.SuccessCount,
		"failed", out.FailureCount,
		"count", out.Count)
	return out
}

func (o *Orchestrator) runForm(ctx context.Context, form formsync.FormSummary, opts SyncAllOptions) *formsync.SyncResult {
	passOpts := SyncOptions{FullSync: opts.FullSync}
	if !opts.FullSync && opts.Watermark != nil {
		since, err := opts.Watermark(ctx, form.ID)
		if err != nil {
			res := &formsync.SyncResult{FormID: form.ID, FormName: form.Name, Index: o.search.IndexName(form.ID), StartedAt: o.now()}
			return o.fail(res, "watermark lookup failed", err)
		}
		passOpts.Since = since
		passOpts.FullSync = since == nil
	}
	res := o.syncForm(ctx, form.ID, passOpts)
	if res.FormName == "" {
		res.FormName = form.Name
	}
	return res
}

func (o *Orchestrator) skipped(form formsync.FormSummary, full bool, cause error) *formsync.SyncResult {
	return &formsync.SyncResult{
		FormID:    form.ID,
		FormName:  form.Name,
		Index:     o.search.IndexName(form.ID),
		FullSync:  full,
		StartedAt: o.now(),
		Message:   "skipped: run cancelled",
		Err:       formsync.NewCancelledError(cause),
	}
}

// primaryKeyValue returns the raw key value of row, matching the column case-insensitively.
func primaryKeyValue(row Row, pk string) any {
	if v, ok := row[pk]; ok {
		return v
	}
	for k, v := range row {
		if strings.EqualFold(k, pk) {
			return v
		}
	}
	return nil
}
