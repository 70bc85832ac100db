package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadactin/migrator/pkg/metrics"
	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/registry"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source"
)

type fakeIterator struct {
	batches []models.Batch
	idx     int
	failAt  int
}

func (it *fakeIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.failAt > 0 && it.idx == it.failAt-1 {
		return models.Batch{}, false, fmt.Errorf("iterator failure: %w", migerr.ErrTransientNetwork)
	}
	if it.idx >= len(it.batches) {
		return models.Batch{}, false, nil
	}
	b := it.batches[it.idx]
	it.idx++
	return b, true, nil
}

type fakeSource struct {
	tables       []string
	schema       models.TableSchema
	batches      []models.Batch
	connectErr   error
	listErr      error
	schemaErr    error
	iterFailOnce bool
}

func (f *fakeSource) Connect(ctx context.Context, config map[string]interface{}) error { return f.connectErr }
func (f *fakeSource) Disconnect(ctx context.Context) error                             { return nil }
func (f *fakeSource) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	return true
}
func (f *fakeSource) ListTables(ctx context.Context) ([]string, error) { return f.tables, f.listErr }
func (f *fakeSource) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	return f.schema, f.schemaErr
}
func (f *fakeSource) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	failAt := 0
	if f.iterFailOnce {
		failAt = len(f.batches) + 1
	}
	return &fakeIterator{batches: f.batches, failAt: failAt}, nil
}
func (f *fakeSource) ReadIncremental(ctx context.Context, tableID string, watermark string, batchSize int) (source.BatchIterator, error) {
	return &fakeIterator{batches: f.batches}, nil
}

type fakeSink struct {
	created      map[string]bool
	written      map[string]int
	writeErr     error
	writeErrOnce bool
	writeCalls   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{created: map[string]bool{}, written: map[string]int{}}
}

func (s *fakeSink) Connect(ctx context.Context, config map[string]interface{}) error    { return nil }
func (s *fakeSink) Disconnect(ctx context.Context) error                                { return nil }
func (s *fakeSink) TestConnection(ctx context.Context, config map[string]interface{}) bool { return true }
func (s *fakeSink) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	return sourceSchema
}
func (s *fakeSink) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	return s.created[tableID], nil
}
func (s *fakeSink) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
	s.created[tableID] = true
	return nil
}
func (s *fakeSink) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
	s.writeCalls++
	if s.writeErr != nil {
		if s.writeErrOnce {
			err := s.writeErr
			s.writeErr = nil
			return 0, err
		}
		return 0, s.writeErr
	}
	s.written[tableID] += len(batch.Records)
	return len(batch.Records), nil
}
func (s *fakeSink) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	return nil
}
func (s *fakeSink) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	return nil
}
func (s *fakeSink) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	return nil
}

func newTestRegistry(src source.Adapter, snk sink.Adapter) *registry.Registry {
	reg := registry.New()
	reg.RegisterSource("fakesrc", func(map[string]interface{}) (source.Adapter, error) { return src, nil })
	reg.RegisterSink("fakesink", func(map[string]interface{}) (sink.Adapter, error) { return snk, nil })
	reg.Freeze()
	return reg
}

func TestMigrateHappyPath(t *testing.T) {
	src := &fakeSource{
		tables: []string{"orders"},
		schema: models.TableSchema{Table: "orders", Columns: []models.ColumnDescriptor{{Name: "id", Type: models.TypeInt64}}},
		batches: []models.Batch{
			{Table: "orders", Records: []models.Record{{"id": int64(1)}, {"id": int64(2)}}},
		},
	}
	snk := newFakeSink()
	reg := newTestRegistry(src, snk)
	eng := New(reg, metrics.New())

	result, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind:    "fakesrc",
		SinkKind:      "fakesink",
		Source:        map[string]interface{}{},
		Destination:   map[string]interface{}{},
		OperationType: models.ModeFull,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalTables)
	require.Len(t, result.TablesMigrated, 1)
	assert.Equal(t, "orders", result.TablesMigrated[0].Table)
	assert.Equal(t, 2, result.TablesMigrated[0].Records)
	assert.Empty(t, result.TablesFailed)
	assert.True(t, snk.created["orders"])
}

func TestMigrateRejectsSameSourceAndSink(t *testing.T) {
	reg := registry.New()
	reg.Freeze()
	eng := New(reg, nil)

	_, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind: "postgresql",
		SinkKind:   "postgresql",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, migerr.ErrConfiguration)
}

func TestMigrateUnknownSourceKind(t *testing.T) {
	reg := registry.New()
	reg.Freeze()
	eng := New(reg, nil)

	_, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind: "nope",
		SinkKind:   "alsonope",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, migerr.ErrUnknownAdapter)
}

func TestMigrateEmptyTableList(t *testing.T) {
	src := &fakeSource{tables: []string{}}
	snk := newFakeSink()
	reg := newTestRegistry(src, snk)
	eng := New(reg, nil)

	result, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind:    "fakesrc",
		SinkKind:      "fakesink",
		OperationType: models.ModeFull,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalTables)
	assert.NotEmpty(t, result.Errors)
}

func TestMigrateTableFailsAfterRetriesExhausted(t *testing.T) {
	src := &fakeSource{
		tables: []string{"broken"},
		schema: models.TableSchema{Table: "broken"},
	}
	snk := newFakeSink()
	snk.writeErr = fmt.Errorf("constraint violation: %w", migerr.ErrPermanentSource)
	src.batches = []models.Batch{{Table: "broken", Records: []models.Record{{"id": 1}}}}
	reg := newTestRegistry(src, snk)
	eng := New(reg, nil)

	result, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind:    "fakesrc",
		SinkKind:      "fakesink",
		OperationType: models.ModeFull,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.TablesFailed, 1)
	assert.Equal(t, "broken", result.TablesFailed[0].Table)
}

func TestMigrateIncrementalRequiresWatermark(t *testing.T) {
	reg := registry.New()
	reg.RegisterSource("s", func(map[string]interface{}) (source.Adapter, error) { return &fakeSource{}, nil })
	reg.RegisterSink("k", func(map[string]interface{}) (sink.Adapter, error) { return newFakeSink(), nil })
	reg.Freeze()
	eng := New(reg, nil)

	_, err := eng.Migrate(context.Background(), models.MigrationRequest{
		SourceKind:    "s",
		SinkKind:      "k",
		OperationType: models.ModeIncremental,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, migerr.ErrConfiguration)
}

func TestKindFamily(t *testing.T) {
	assert.Equal(t, familyRelational, kindFamily("postgresql"))
	assert.Equal(t, familyRelational, kindFamily("mysql"))
	assert.Equal(t, familyCRMSaaS, kindFamily("zoho"))
	assert.Equal(t, familyWorkItemSaaS, kindFamily("devops"))
	assert.Equal(t, "clickhouse", kindFamily("clickhouse"))
}

func TestBatchSizeFor(t *testing.T) {
	assert.Equal(t, 50, batchSizeFor(familyWorkItemSaaS))
	assert.Equal(t, 200, batchSizeFor(familyCRMSaaS))
	assert.Equal(t, 1000, batchSizeFor(familyRelational))
}
