// Package source defines the capability contract every source adapter
// implements (§4.2), plus the narrow optional interfaces a relational sink
// pairing uses to carry constraints across.
package source

import (
	"context"

	"github.com/saadactin/migrator/pkg/models"
)

// BatchIterator is a finite, pull-driven sequence of batches. Next returns
// false once the table is exhausted; callers must not call Next again after
// that. Mirrors database/sql.Rows rather than a channel because every
// adapter here is pulled by the engine, never pushed.
type BatchIterator interface {
	Next(ctx context.Context) (models.Batch, bool, error)
}

// Adapter is the capability set every source kind implements.
type Adapter interface {
	// Connect validates config and opens the connection or session. For
	// OAuth sources this also obtains the initial access token.
	Connect(ctx context.Context, config map[string]interface{}) error

	// Disconnect releases the connection. Idempotent.
	Disconnect(ctx context.Context) error

	// TestConnection is a stateless connect/close probe used by the
	// control plane's /test-connection endpoint.
	TestConnection(ctx context.Context, config map[string]interface{}) bool

	// ListTables returns every table this adapter will answer about in
	// this run (I2: the same identifiers GetSchema/ReadData accept).
	ListTables(ctx context.Context) ([]string, error)

	// GetSchema describes tableID. Deterministic within one run (I3).
	GetSchema(ctx context.Context, tableID string) (models.TableSchema, error)

	// ReadData returns a finite iterator over tableID in batches of at
	// most batchSize records.
	ReadData(ctx context.Context, tableID string, batchSize int) (BatchIterator, error)

	// ReadIncremental returns a finite iterator over only the records of
	// tableID whose source-visible modified marker is strictly greater
	// than watermark. Adapters unable to honor this must fall back to a
	// full read and log that fact rather than silently returning zero
	// rows.
	ReadIncremental(ctx context.Context, tableID string, watermark string, batchSize int) (BatchIterator, error)
}

// ConstraintDescriber is an optional capability satisfied by relational
// sources when paired with a relational sink. Empty returns are legal and
// mean "unknown or none".
type ConstraintDescriber interface {
	GetPrimaryKeyColumns(ctx context.Context, tableID string) ([]string, error)
	GetForeignKeys(ctx context.Context, tableID string) ([]models.ForeignKey, error)
	GetUniqueConstraints(ctx context.Context, tableID string) ([][]string, error)
	GetIndexes(ctx context.Context, tableID string) ([]models.IndexDescriptor, error)
}

// Constructor builds an Adapter instance. Each adapter instance is
// single-tenant (I1): constructed fresh for one run, never shared.
type Constructor func(config map[string]interface{}) (Adapter, error)
