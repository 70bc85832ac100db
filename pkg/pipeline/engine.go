// Package pipeline implements the migration orchestrator (C3): one source
// adapter and one sink adapter, driven table by table, with independent
// retry budgets at the table level and the batch-write level. Grounded on
// pkg/replicator/service.go's guarded-start/structured-logging shape,
// adapted from a long-lived multi-stream service into a single-shot,
// sequential-per-table run, and on original_source/universal_migration_
// service/pipeline_engine.py for the exact retry counts and per-source-kind
// batch sizing.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/metrics"
	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/registry"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source"
)

// family tags passed to sink.Adapter methods so a sink can apply
// per-source-family policy (ClickHouse's table-engine choice, for
// instance) without importing every source package.
const (
	familyRelational   = "relational"
	familyCRMSaaS      = "crmsaas"
	familyWorkItemSaaS = "workitemsaas"
)

// kindFamily maps a registered source kind to the coarser family string
// the sink interface understands. Unrecognized kinds pass through
// unchanged — a future source kind with its own family still reaches the
// sink, which falls back to generic handling for anything it doesn't
// recognize.
func kindFamily(sourceKind string) string {
	switch sourceKind {
	case "postgresql", "mysql", "mssql":
		return familyRelational
	case "zoho":
		return familyCRMSaaS
	case "devops":
		return familyWorkItemSaaS
	default:
		return sourceKind
	}
}

// batchSizeFor chooses a read batch size by source family: work-item SaaS
// APIs charge per call and paginate narrowly, CRM SaaS APIs a bit more
// generously, and database sources can comfortably stream in large chunks.
func batchSizeFor(family string) int {
	switch family {
	case familyWorkItemSaaS:
		return 50
	case familyCRMSaaS:
		return 200
	default:
		return 1000
	}
}

// Engine orchestrates one migration run at a time against a frozen
// Registry. It holds no per-run state between calls to Migrate — every
// run constructs fresh, single-tenant adapter instances per I1.
type Engine struct {
	registry *registry.Registry
	metrics  *metrics.Collector
}

// New returns an Engine backed by reg. metricsCollector may be nil, in
// which case run counters are simply not recorded.
func New(reg *registry.Registry, metricsCollector *metrics.Collector) *Engine {
	return &Engine{registry: reg, metrics: metricsCollector}
}

// Migrate executes one full or incremental migration per SPEC_FULL §4.4.
// It never returns a non-nil error for a migration-content failure — those
// are reported inside RunResult.Errors/TablesFailed. A non-nil error means
// the request itself was invalid (unknown adapter kind, bad operation
// mode) and no adapters were touched.
func (e *Engine) Migrate(ctx context.Context, req models.MigrationRequest) (models.RunResult, error) {
	result := models.RunResult{Success: true, StartedAt: time.Now()}

	if req.SourceKind == req.SinkKind {
		return result, fmt.Errorf("cannot migrate from %s to itself: %w", req.SourceKind, migerr.ErrConfiguration)
	}
	if req.OperationType == models.ModeIncremental && req.LastSyncTime == "" {
		return result, fmt.Errorf("last_sync_time is required for incremental migration: %w", migerr.ErrConfiguration)
	}
	if req.OperationType == models.ModeIncremental {
		if _, err := time.Parse(time.RFC3339, req.LastSyncTime); err != nil {
			return result, fmt.Errorf("last_sync_time %q is not an RFC3339 timestamp: %w", req.LastSyncTime, migerr.ErrConfiguration)
		}
	}

	src, err := e.registry.NewSource(req.SourceKind, req.Source)
	if err != nil {
		return result, err
	}
	snk, err := e.registry.NewSink(req.SinkKind, req.Destination)
	if err != nil {
		return result, err
	}

	if e.metrics != nil {
		e.metrics.RunsStarted.Inc()
	}

	family := kindFamily(req.SourceKind)
	batchSize := batchSizeFor(family)

	connectStart := time.Now()
	log.Info().Str("source", req.SourceKind).Msg("connecting to source")
	if err := src.Connect(ctx, req.Source); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("connect source %s: %v", req.SourceKind, err))
		return result, nil
	}
	defer func() {
		if derr := src.Disconnect(ctx); derr != nil {
			log.Warn().Err(derr).Str("source", req.SourceKind).Msg("error disconnecting source")
		}
	}()

	log.Info().Str("sink", req.SinkKind).Msg("connecting to destination")
	if err := snk.Connect(ctx, req.Destination); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("connect sink %s: %v", req.SinkKind, err))
		return result, nil
	}
	defer func() {
		if derr := snk.Disconnect(ctx); derr != nil {
			log.Warn().Err(derr).Str("sink", req.SinkKind).Msg("error disconnecting sink")
		}
	}()
	log.Info().Dur("elapsed", time.Since(connectStart)).Msg("connections established")

	log.Info().Msg("listing tables from source")
	listStart := time.Now()
	tables, err := src.ListTables(ctx)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("list tables: %v", err))
		return result, nil
	}
	result.TotalTables = len(tables)
	log.Info().Int("count", len(tables)).Dur("elapsed", time.Since(listStart)).Msg("found tables to migrate")

	if len(tables) == 0 {
		log.Warn().Msg("no tables found in source")
		result.Errors = append(result.Errors, "no tables found in source")
		result.FinishedAt = time.Now()
		return result, nil
	}

	constraintsSupported := family == familyRelational && isRelationalSink(req.SinkKind)

	for _, tableID := range tables {
		e.migrateTable(ctx, tableMigration{
			tableID:       tableID,
			source:        src,
			sink:          snk,
			sourceKind:    family,
			constraints:   constraintsSupported,
			operationMode: req.OperationType,
			watermark:     req.LastSyncTime,
			batchSize:     batchSize,
		}, &result)
	}

	result.Success = len(result.TablesFailed) == 0
	result.FinishedAt = time.Now()

	if e.metrics != nil {
		e.metrics.RunDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
		e.metrics.TablesMigrated.Add(float64(len(result.TablesMigrated)))
		e.metrics.TablesFailed.Add(float64(len(result.TablesFailed)))
		for _, tr := range result.TablesMigrated {
			e.metrics.RecordsWritten.Add(float64(tr.Records))
		}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	log.Info().
		Bool("success", result.Success).
		Int("migrated", len(result.TablesMigrated)).
		Int("failed", len(result.TablesFailed)).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Uint64("heap_alloc_bytes", memStats.HeapAlloc).
		Msg("migration run complete")

	return result, nil
}

// isRelationalSink reports whether sinkKind names one of the three
// relational sink dialects. Used only to gate constraint propagation —
// ClickHouse has no equivalent and silently ignores constraints anyway,
// but skipping the auxiliary fetches there avoids wasted source round
// trips.
func isRelationalSink(sinkKind string) bool {
	switch sinkKind {
	case "postgresql", "mysql", "mssql":
		return true
	default:
		return false
	}
}

// tableMigration bundles everything migrateTable needs for one table so
// its signature doesn't balloon across the retry loop.
type tableMigration struct {
	tableID       string
	source        source.Adapter
	sink          sink.Adapter
	sourceKind    string
	constraints   bool
	operationMode models.OperationMode
	watermark     string
	batchSize     int
	primaryKey    []string
}

// migrateTable runs the full per-table retry loop (§4.4, state machine),
// appending exactly one terminal result — success or failure — to result.
func (e *Engine) migrateTable(ctx context.Context, tm tableMigration, result *models.RunResult) {
	policy := models.DefaultTableRetryPolicy()
	var lastErr error
	var lastErrType string

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			log.Info().Str("table", tm.tableID).Int("attempt", attempt).Msg("retrying table migration")
			time.Sleep(policy.Delay)
		}

		records, err := e.attemptTable(ctx, tm)
		if err == nil {
			result.TablesMigrated = append(result.TablesMigrated, models.TableResult{Table: tm.tableID, Records: records})
			return
		}

		lastErr = err
		lastErrType = migerr.Classify(err)
		log.Error().
			Str("table", tm.tableID).
			Int("attempt", attempt).
			Str("error_type", lastErrType).
			Err(err).
			Msg("table migration attempt failed")
	}

	result.TablesFailed = append(result.TablesFailed, models.TableFailure{
		Table:     tm.tableID,
		Error:     lastErr.Error(),
		ErrorType: lastErrType,
	})
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", tm.tableID, lastErr))
}

// attemptTable runs one attempt of schema fetch through final constraint
// creation for one table. Any error aborts the attempt; the caller decides
// whether to retry.
func (e *Engine) attemptTable(ctx context.Context, tm tableMigration) (int, error) {
	tableStart := time.Now()
	log.Info().Str("table", tm.tableID).Msg("migrating table")

	schema, err := tm.source.GetSchema(ctx, tm.tableID)
	if err != nil {
		return 0, fmt.Errorf("get schema for %s: %w", tm.tableID, err)
	}

	if tm.constraints {
		if describer, ok := tm.source.(source.ConstraintDescriber); ok {
			schema.PrimaryKey = fetchPrimaryKeys(ctx, describer, tm.tableID)
			schema.ForeignKeys = fetchForeignKeys(ctx, describer, tm.tableID)
			schema.UniqueConstraints = fetchUniqueConstraints(ctx, describer, tm.tableID)
			schema.Indexes = fetchIndexes(ctx, describer, tm.tableID)
		}
	}
	tm.primaryKey = schema.PrimaryKey

	sinkSchema := tm.sink.MapTypes(schema, tm.sourceKind)
	sinkSchema.PrimaryKey = schema.PrimaryKey
	sinkSchema.ForeignKeys = schema.ForeignKeys
	sinkSchema.UniqueConstraints = schema.UniqueConstraints
	sinkSchema.Indexes = schema.Indexes

	if err := tm.sink.CreateTable(ctx, tm.tableID, sinkSchema, tm.sourceKind); err != nil {
		return 0, fmt.Errorf("create table %s: %w", tm.tableID, err)
	}

	var iter source.BatchIterator
	switch tm.operationMode {
	case models.ModeIncremental:
		iter, err = tm.source.ReadIncremental(ctx, tm.tableID, tm.watermark, tm.batchSize)
	default:
		iter, err = tm.source.ReadData(ctx, tm.tableID, tm.batchSize)
	}
	if err != nil {
		return 0, fmt.Errorf("open reader for %s: %w", tm.tableID, err)
	}

	recordsWritten := 0
	batchCount := 0
	for {
		batch, more, err := iter.Next(ctx)
		if err != nil {
			return recordsWritten, fmt.Errorf("read batch %d for %s: %w", batchCount+1, tm.tableID, err)
		}
		if !more {
			break
		}
		batchCount++
		if len(batch.Records) == 0 {
			log.Warn().Str("table", tm.tableID).Int("batch", batchCount).Msg("received empty batch, skipping")
			continue
		}

		// The sink owns retry/split behavior for its own batch writes
		// (SPEC_FULL §4.3's backoff-then-split policy); a write error
		// reaching here has already exhausted that budget and fails
		// this table attempt outright.
		written, err := tm.sink.WriteData(ctx, tm.tableID, batch, tm.sourceKind, tm.primaryKey)
		if err != nil {
			return recordsWritten, fmt.Errorf("write batch %d for %s: %w", batchCount, tm.tableID, err)
		}
		recordsWritten += written

		if batchCount%10 == 0 {
			log.Debug().Str("table", tm.tableID).Int("batch", batchCount).Int("records", recordsWritten).Msg("progress")
		}
	}

	if tm.constraints {
		if len(schema.Indexes) > 0 {
			if err := tm.sink.CreateIndexes(ctx, tm.tableID, schema.Indexes); err != nil {
				log.Warn().Str("table", tm.tableID).Err(err).Msg("could not create indexes")
			}
		}
		if len(schema.UniqueConstraints) > 0 {
			if err := tm.sink.CreateUniqueConstraints(ctx, tm.tableID, schema.UniqueConstraints); err != nil {
				log.Warn().Str("table", tm.tableID).Err(err).Msg("could not create unique constraints")
			}
		}
		if len(schema.ForeignKeys) > 0 {
			if err := tm.sink.CreateForeignKeys(ctx, tm.tableID, schema.ForeignKeys); err != nil {
				log.Warn().Str("table", tm.tableID).Err(err).Msg("could not create foreign keys")
			}
		}
	}

	elapsed := time.Since(tableStart)
	rate := float64(0)
	if elapsed.Seconds() > 0 {
		rate = float64(recordsWritten) / elapsed.Seconds()
	}
	log.Info().
		Str("table", tm.tableID).
		Int("records", recordsWritten).
		Dur("elapsed", elapsed).
		Float64("records_per_sec", rate).
		Msg("table migrated successfully")

	return recordsWritten, nil
}

func fetchPrimaryKeys(ctx context.Context, d source.ConstraintDescriber, tableID string) []string {
	pk, err := d.GetPrimaryKeyColumns(ctx, tableID)
	if err != nil {
		log.Warn().Str("table", tableID).Err(err).Msg("could not get primary keys")
		return nil
	}
	return pk
}

func fetchForeignKeys(ctx context.Context, d source.ConstraintDescriber, tableID string) []models.ForeignKey {
	fks, err := d.GetForeignKeys(ctx, tableID)
	if err != nil {
		log.Warn().Str("table", tableID).Err(err).Msg("could not get foreign keys")
		return nil
	}
	return fks
}

func fetchUniqueConstraints(ctx context.Context, d source.ConstraintDescriber, tableID string) [][]string {
	uniques, err := d.GetUniqueConstraints(ctx, tableID)
	if err != nil {
		log.Warn().Str("table", tableID).Err(err).Msg("could not get unique constraints")
		return nil
	}
	return uniques
}

func fetchIndexes(ctx context.Context, d source.ConstraintDescriber, tableID string) []models.IndexDescriptor {
	idx, err := d.GetIndexes(ctx, tableID)
	if err != nil {
		log.Warn().Str("table", tableID).Err(err).Msg("could not get indexes")
		return nil
	}
	return idx
}
