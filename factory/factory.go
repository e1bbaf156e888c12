package factory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/formsync"
	"github.com/lychee-technology/formsync/internal"
	"go.uber.org/zap"
)

// Components exposes the wired pieces behind a SyncManager for operator tooling.
type Components struct {
	Manager    *internal.Manager
	Backend    *internal.ElasticBackend
	Watermarks *internal.SQLiteWatermarkStore
	Labels     *internal.LabelResolver
	Schemas    *internal.SchemaResolver
	Config     *formsync.Config
}

// NewSyncManagerWithConfig creates a fully wired SyncManager from config.
// This is the primary way for external projects to create a SyncManager instance.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/formsync"
//	    "github.com/lychee-technology/formsync/factory"
//	)
//
//	config := formsync.DefaultConfig()
//	sm, err := factory.NewSyncManagerWithConfig(ctx, config)
//	if err != nil {
//	    // handle error
//	}
//	defer sm.Close()
func NewSyncManagerWithConfig(ctx context.Context, config *formsync.Config) (formsync.SyncManager, error) {
	c, err := NewComponents(ctx, config)
	if err != nil {
		return nil, err
	}
	return c.Manager, nil
}

// NewComponents validates config, connects to the relational source and wires every
// component. The metadata table must exist. The caller owns Manager and must Close it.
func NewComponents(ctx context.Context, config *formsync.Config) (*Components, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := internal.ValidateDatabaseConfig(config.Database); err != nil {
		return nil, err
	}
	if err := internal.ValidateSearchConfig(config.Search); err != nil {
		return nil, err
	}

	connCfg, err := pgx.ParseConfig(config.Database.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	dial := internal.PgxDialer(connCfg)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db := config.Database
	pool, err := internal.NewConnPool("sync", db.PoolSize, dial, db.AcquireTimeout, db.ValidateTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync pool: %w", err)
	}
	closers = append(closers, pool.Close)

	light, err := internal.NewConnPool("light", db.LightPoolSize, dial, db.AcquireTimeout, db.ValidateTimeout)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create light pool: %w", err)
	}
	closers = append(closers, light.Close)

	inspector := internal.NewTableInspector(light)
	ok, err := inspector.TableExists(ctx, db.Tables.FormDefinition)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	if !ok {
		cleanup()
		return nil, fmt.Errorf("required metadata table %q is missing in the database", db.Tables.FormDefinition)
	}

	backend, err := internal.NewElasticBackend(config.Search)
	if err != nil {
		cleanup()
		return nil, err
	}

	loader := internal.NewMetadataLoader(light, db.Tables.FormDefinition)
	schemas := internal.NewSchemaResolver(loader, inspector, internal.ResolverOptionsFromConfig(config.Sync))
	reader := internal.NewBatchReader(pool, inspector)
	directory := internal.NewMemberDirectory(light, inspector, db.Tables, config.Query.MemberLabelCacheSize, config.Query.MemberLabelCacheTTL)
	labels := internal.NewLabelResolver(backend, config.Search.MemberIndex, directory)
	members := internal.NewMemberSync(backend, directory, config.Search.MemberIndex, config.Sync.WriteBatchSize, config.Query.Timeout)
	orchestrator := internal.NewOrchestrator(schemas, reader, labels, backend, members, config.Search, config.Sync)

	query, err := internal.NewQueryEngine(backend, schemas, config.Search, config.Query)
	if err != nil {
		cleanup()
		return nil, err
	}

	watermarks, err := internal.OpenWatermarkStore(config.Watermark.Path)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, func() {
		if err := watermarks.Close(); err != nil {
			zap.S().Warnw("failed to close watermark store", "error", err)
		}
	})

	tasks, err := internal.NewTaskRegistry(config.Tasks.Capacity)
	if err != nil {
		cleanup()
		return nil, err
	}

	health := internal.NewHealthChecker(db.ValidateTimeout).
		Add("postgres", pool).
		Add("postgres_light", light).
		Add("search", backend)

	manager := internal.NewManager(internal.ManagerDeps{
		Orchestrator: orchestrator,
		Members:      members,
		Query:        query,
		Watermarks:   watermarks,
		Tasks:        tasks,
		Health:       health,
		Closers:      closers,
	})

	if config.Scheduler.Enabled {
		if err := manager.EnableSchedule(config.Scheduler.Spec); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to schedule sync: %w", err)
		}
		zap.S().Infow("scheduled incremental sync", "spec", config.Scheduler.Spec)
	}

	zap.S().Infow("sync manager ready",
		"database", db.Database,
		"search", config.Search.Addresses,
		"poolSize", db.PoolSize,
		"workers", config.Sync.Workers)

	return &Components{
		Manager:    manager,
		Backend:    backend,
		Watermarks: watermarks,
		Labels:     labels,
		Schemas:    schemas,
		Config:     config,
	}, nil
}
