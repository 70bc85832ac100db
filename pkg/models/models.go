// Package models defines the data shapes shared across adapters, the
// registry, the pipeline engine, and the control plane.
package models

import "time"

// SemanticType is a source-neutral type tag. Source adapters describe every
// column with one of these; sink adapters map each tag to a native type.
type SemanticType string

const (
	TypeInt16     SemanticType = "int16"
	TypeInt32     SemanticType = "int32"
	TypeInt64     SemanticType = "int64"
	TypeFloat32   SemanticType = "float32"
	TypeFloat64   SemanticType = "float64"
	TypeDecimal   SemanticType = "decimal"
	TypeBool      SemanticType = "bool"
	TypeString    SemanticType = "string"
	TypeText      SemanticType = "text"
	TypeBytes     SemanticType = "bytes"
	TypeDate      SemanticType = "date"
	TypeTime      SemanticType = "time"
	TypeTimestamp SemanticType = "timestamp"
	TypeUUID      SemanticType = "uuid"
	TypeJSON      SemanticType = "json"
	TypeArray     SemanticType = "array"
)

// OperationMode selects between a full read and a watermarked incremental
// read of every source table.
type OperationMode string

const (
	ModeFull        OperationMode = "full"
	ModeIncremental OperationMode = "incremental"
)

// ColumnDescriptor describes one column in a source-neutral way.
type ColumnDescriptor struct {
	Name         string       `json:"name"`
	Type         SemanticType `json:"type"`
	Length       int          `json:"length,omitempty"`
	Precision    int          `json:"precision,omitempty"`
	Scale        int          `json:"scale,omitempty"`
	Nullable     bool         `json:"nullable"`
	Default      string       `json:"default,omitempty"`
	FullType     string       `json:"full_type,omitempty"`
}

// ForeignKey describes one foreign-key constraint observed at the source.
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnUpdate          string   `json:"on_update,omitempty"`
	OnDelete          string   `json:"on_delete,omitempty"`
}

// IndexDescriptor describes one secondary index observed at the source.
type IndexDescriptor struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableSchema is the ordered column list plus optional relational metadata
// for one table.
type TableSchema struct {
	Table             string             `json:"table"`
	Columns           []ColumnDescriptor `json:"columns"`
	PrimaryKey        []string           `json:"primary_key,omitempty"`
	ForeignKeys       []ForeignKey       `json:"foreign_keys,omitempty"`
	UniqueConstraints [][]string         `json:"unique_constraints,omitempty"`
	Indexes           []IndexDescriptor  `json:"indexes,omitempty"`
}

// Record is one normalized row: column name to a value of one of string,
// int64, float64, bool, nil, or a JSON-encoded string for compound values.
type Record map[string]interface{}

// Batch is an ordered sequence of records yielded by one source read.
type Batch struct {
	Table   string   `json:"table"`
	Records []Record `json:"records"`
}

// SourceDescriptor names a source adapter kind and its connection config.
type SourceDescriptor struct {
	Kind   string                 `json:"type" validate:"required"`
	Config map[string]interface{} `json:"config"`
}

// SinkDescriptor names a sink adapter kind and its connection config.
type SinkDescriptor struct {
	Kind   string                 `json:"type" validate:"required"`
	Config map[string]interface{} `json:"config"`
}

// MigrationRequest is the body of POST /migrate.
type MigrationRequest struct {
	SourceKind     string                 `json:"source_type" validate:"required"`
	SinkKind       string                 `json:"dest_type" validate:"required"`
	Source         map[string]interface{} `json:"source" validate:"required"`
	Destination    map[string]interface{} `json:"destination" validate:"required"`
	OperationType  OperationMode          `json:"operation_type" validate:"required,oneof=full incremental"`
	LastSyncTime   string                 `json:"last_sync_time,omitempty"`
}

// TableResult is one successfully migrated table's record count.
type TableResult struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
}

// RunResult is the aggregate outcome of one migration run.
type RunResult struct {
	Success       bool                    `json:"success"`
	TotalTables   int                     `json:"total_tables"`
	TablesMigrated []TableResult          `json:"tables_migrated"`
	TablesFailed   []TableFailure         `json:"tables_failed"`
	Errors         []string               `json:"errors"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// TableFailure is one table's terminal failure, recorded after its retry
// budget (§4.4) is exhausted.
type TableFailure struct {
	Table     string `json:"table"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// RetryPolicy bounds one scope's retry attempts. The engine, and each
// adapter's internal batch-write retry, each carry their own instance —
// the budgets are independent, not multiplicative (see DESIGN.md Open
// Question 1).
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
}

// DefaultTableRetryPolicy is the Pipeline Engine's per-table retry budget.
func DefaultTableRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}
}

// DefaultWriteRetryPolicy is a sink adapter's per-batch-write retry budget.
func DefaultWriteRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 3 * time.Second}
}
