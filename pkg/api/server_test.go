package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadactin/migrator/pkg/config"
	"github.com/saadactin/migrator/pkg/metrics"
	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/pipeline"
	"github.com/saadactin/migrator/pkg/registry"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source"
)

type stubSource struct {
	tables    []string
	schema    models.TableSchema
	batches   []models.Batch
	connectOK bool
}

func (s *stubSource) Connect(ctx context.Context, config map[string]interface{}) error { return nil }
func (s *stubSource) Disconnect(ctx context.Context) error                             { return nil }
func (s *stubSource) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	return s.connectOK
}
func (s *stubSource) ListTables(ctx context.Context) ([]string, error) { return s.tables, nil }
func (s *stubSource) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	return s.schema, nil
}
func (s *stubSource) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	return &stubIterator{batches: s.batches}, nil
}
func (s *stubSource) ReadIncremental(ctx context.Context, tableID string, watermark string, batchSize int) (source.BatchIterator, error) {
	return &stubIterator{batches: s.batches}, nil
}

type stubIterator struct {
	batches []models.Batch
	idx     int
}

func (it *stubIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.idx >= len(it.batches) {
		return models.Batch{}, false, nil
	}
	b := it.batches[it.idx]
	it.idx++
	return b, true, nil
}

type stubSink struct {
	connectOK bool
}

func (s *stubSink) Connect(ctx context.Context, config map[string]interface{}) error { return nil }
func (s *stubSink) Disconnect(ctx context.Context) error                             { return nil }
func (s *stubSink) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	return s.connectOK
}
func (s *stubSink) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	return sourceSchema
}
func (s *stubSink) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	return false, nil
}
func (s *stubSink) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
	return nil
}
func (s *stubSink) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
	return len(batch.Records), nil
}
func (s *stubSink) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	return nil
}
func (s *stubSink) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	return nil
}
func (s *stubSink) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubSource, *stubSink) {
	t.Helper()
	src := &stubSource{tables: []string{"orders"}, connectOK: true}
	snk := &stubSink{connectOK: true}

	reg := registry.New()
	reg.RegisterSource("stubsrc", func(map[string]interface{}) (source.Adapter, error) { return src, nil })
	reg.RegisterSink("stubsink", func(map[string]interface{}) (sink.Adapter, error) { return snk, nil })
	reg.Freeze()

	cfg := config.DefaultConfig()
	eng := pipeline.New(reg, metrics.New())
	s := NewServer(cfg, reg, eng, metrics.New())
	return s, src, snk
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Contains(t, resp.AvailableSources, "stubsrc")
	assert.Contains(t, resp.AvailableDestinations, "stubsink")
}

func TestHandleMigrateHappyPath(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(models.MigrationRequest{
		SourceKind:    "stubsrc",
		SinkKind:      "stubsink",
		Source:        map[string]interface{}{"host": "db"},
		Destination:   map[string]interface{}{"host": "dest"},
		OperationType: models.ModeFull,
	})
	req := httptest.NewRequest(http.MethodPost, "/migrate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleMigrate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result models.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestHandleMigrateRejectsSameKind(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(models.MigrationRequest{
		SourceKind:    "stubsrc",
		SinkKind:      "stubsrc",
		Source:        map[string]interface{}{},
		Destination:   map[string]interface{}{},
		OperationType: models.ModeFull,
	})
	req := httptest.NewRequest(http.MethodPost, "/migrate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleMigrate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMigrateRejectsMissingOperationType(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := []byte(`{"source_type":"stubsrc","dest_type":"stubsink","source":{},"destination":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/migrate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleMigrate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestConnectionAlwaysReturns200(t *testing.T) {
	s, _, snk := newTestServer(t)
	snk.connectOK = false

	body, _ := json.Marshal(testConnectionRequest{
		Type:        "destination",
		AdapterType: "stubsink",
		Config:      map[string]interface{}{},
	})
	req := httptest.NewRequest(http.MethodPost, "/test-connection", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleTestConnection(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp testConnectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleTestConnectionUnknownAdapterStillReturns200(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(testConnectionRequest{
		Type:        "source",
		AdapterType: "nope",
		Config:      map[string]interface{}{},
	})
	req := httptest.NewRequest(http.MethodPost, "/test-connection", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleTestConnection(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp testConnectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Contains(t, resp.Error, migerr.ErrUnknownAdapter.Error())
}
