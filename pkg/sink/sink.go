// Package sink defines the capability contract every sink adapter
// implements (§4.3).
package sink

import (
	"context"

	"github.com/saadactin/migrator/pkg/models"
)

// Adapter is the capability set every sink kind implements.
type Adapter interface {
	Connect(ctx context.Context, config map[string]interface{}) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context, config map[string]interface{}) bool

	// MapTypes translates a source schema into sink-native column
	// declarations. Must be total: unknown semantic types fall back to
	// the sink's widest string type with a logged warning, never an
	// error.
	MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema

	TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error)

	// CreateTable is create-if-not-exists: a no-op when the table
	// already exists, and never drops or recreates an existing table.
	CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error

	// WriteData writes batch and returns the number of records written.
	// The ClickHouse sink first adds, as nullable columns, any batch
	// columns the destination lacks; the relational sinks never alter an
	// existing table.
	WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error)

	// CreateIndexes, CreateUniqueConstraints, and CreateForeignKeys are
	// invoked after data load, relational sinks only. Best-effort: log
	// and continue on duplicate-name or violating-data errors rather
	// than failing the table.
	CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error
	CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error
	CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error
}

// Constructor builds an Adapter instance, single-tenant per I1.
type Constructor func(config map[string]interface{}) (Adapter, error)
