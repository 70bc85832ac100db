// Package relational implements source.Adapter for Postgres-like,
// MySQL-like, and SQL-Server-like relational databases via sqlx. Each
// adapter enumerates tables and columns from the engine's own catalog
// views, then reads data with offset-paginated batched SELECTs ordered
// by each table's primary key (or first column, absent one) — a
// batched-pull model, not change-data-capture.
package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source"
)

// PostgresAdapter is a source.Adapter + source.ConstraintDescriber for
// Postgres-like databases.
type PostgresAdapter struct {
	db *sqlx.DB
}

// NewPostgresAdapter satisfies source.Constructor.
func NewPostgresAdapter(config map[string]interface{}) (source.Adapter, error) {
	return &PostgresAdapter{}, nil
}

func postgresDSN(config map[string]interface{}) (string, error) {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", fmt.Errorf("postgres source requires host, database, username: %w", migerr.ErrConfiguration)
	}
	port := 5432
	if p, ok := config["port"]; ok {
		switch v := p.(type) {
		case float64:
			port = int(v)
		case int:
			port = v
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				port = n
			}
		}
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=prefer", username, password, host, port, database), nil
}

func (a *PostgresAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, err := postgresDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	log.Info().Str("kind", "postgres-source").Msg("connected")
	return nil
}

func (a *PostgresAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *PostgresAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, err := postgresDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return false
	}
	_ = db.Close()
	return true
}

func (a *PostgresAdapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w: %v", migerr.ErrPermanentSource, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, err
		}
		if schema == "public" {
			tables = append(tables, table)
		} else {
			tables = append(tables, schema+"."+table)
		}
	}
	return tables, rows.Err()
}

func splitSchemaTable(tableID string) (schema, table string) {
	if idx := strings.IndexByte(tableID, '.'); idx >= 0 {
		return tableID[:idx], tableID[idx+1:]
	}
	return "public", tableID
}

func (a *PostgresAdapter) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	schemaName, table := splitSchemaTable(tableID)

	rows, err := a.db.QueryxContext(ctx, `
		SELECT column_name, data_type, character_maximum_length,
		       numeric_precision, numeric_scale, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schemaName, table)
	if err != nil {
		return models.TableSchema{}, fmt.Errorf("get schema %s: %w: %v", tableID, migerr.ErrPermanentSource, err)
	}
	defer rows.Close()

	schema := models.TableSchema{Table: tableID}
	for rows.Next() {
		var (
			colName, dataType, nullable string
			maxLen, precision, scale    *int
			colDefault                  *string
		)
		if err := rows.Scan(&colName, &dataType, &maxLen, &precision, &scale, &nullable, &colDefault); err != nil {
			return models.TableSchema{}, err
		}
		col := models.ColumnDescriptor{
			Name:     colName,
			Type:     mapPostgresType(dataType),
			FullType: fullTypeString(dataType, maxLen, precision, scale),
			Nullable: nullable == "YES",
		}
		if maxLen != nil {
			col.Length = *maxLen
		}
		if precision != nil {
			col.Precision = *precision
		}
		if scale != nil {
			col.Scale = *scale
		}
		if colDefault != nil {
			col.Default = *colDefault
		}
		schema.Columns = append(schema.Columns, col)
	}
	return schema, rows.Err()
}

func fullTypeString(dataType string, maxLen, precision, scale *int) string {
	switch {
	case maxLen != nil:
		return fmt.Sprintf("%s(%d)", dataType, *maxLen)
	case precision != nil && scale != nil:
		return fmt.Sprintf("%s(%d,%d)", dataType, *precision, *scale)
	case precision != nil:
		return fmt.Sprintf("%s(%d)", dataType, *precision)
	default:
		return dataType
	}
}

// mapPostgresType translates a Postgres information_schema data_type string
// into this migration system's source-neutral semantic type tag.
func mapPostgresType(dataType string) models.SemanticType {
	switch strings.ToLower(dataType) {
	case "smallint":
		return models.TypeInt16
	case "integer":
		return models.TypeInt32
	case "bigint":
		return models.TypeInt64
	case "real":
		return models.TypeFloat32
	case "double precision":
		return models.TypeFloat64
	case "numeric", "decimal":
		return models.TypeDecimal
	case "boolean":
		return models.TypeBool
	case "character varying", "character", "varchar", "char":
		return models.TypeString
	case "text":
		return models.TypeText
	case "bytea":
		return models.TypeBytes
	case "date":
		return models.TypeDate
	case "time without time zone", "time with time zone":
		return models.TypeTime
	case "timestamp without time zone", "timestamp with time zone":
		return models.TypeTimestamp
	case "uuid":
		return models.TypeUUID
	case "json", "jsonb":
		return models.TypeJSON
	case "array":
		return models.TypeArray
	default:
		return models.TypeString
	}
}

// postgresBatchIterator pages through a table's rows with OFFSET/LIMIT,
// ordered by orderBy so repeated calls advance through the whole table
// rather than replaying the first page. offset advances by the number of
// rows actually returned; done is only set once a page comes back short,
// so no row is skipped or dropped regardless of table size.
type postgresBatchIterator struct {
	db        *sqlx.DB
	table     string
	filter    string
	orderBy   string
	args      []interface{}
	batchSize int
	offset    int
	done      bool
}

func (it *postgresBatchIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.done {
		return models.Batch{}, false, nil
	}

	query := fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(it.table))
	args := append([]interface{}{}, it.args...)
	if it.filter != "" {
		query += " WHERE " + it.filter
	}
	if it.orderBy != "" {
		query += " ORDER BY " + it.orderBy
	}
	offsetIdx := len(args) + 1
	limitIdx := offsetIdx + 1
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", offsetIdx, limitIdx)
	args = append(args, it.offset, it.batchSize)

	rows, err := it.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return models.Batch{}, false, fmt.Errorf("read %s: %w: %v", it.table, migerr.ErrTransientNetwork, err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return models.Batch{}, false, err
		}
		records = append(records, models.Record(row))
	}
	if err := rows.Err(); err != nil {
		return models.Batch{}, false, err
	}

	it.offset += len(records)
	it.done = len(records) < it.batchSize
	return models.Batch{Table: it.table, Records: records}, len(records) > 0, nil
}

// orderColumns returns a quoted, comma-joined ORDER BY clause for tableID:
// its primary key columns, or failing that its first column, so paging
// has a stable ordering to advance through instead of depending on
// physical row order.
func (a *PostgresAdapter) orderColumns(ctx context.Context, tableID string) (string, error) {
	cols, err := a.GetPrimaryKeyColumns(ctx, tableID)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		schema, err := a.GetSchema(ctx, tableID)
		if err != nil {
			return "", err
		}
		if len(schema.Columns) == 0 {
			return "", nil
		}
		cols = []string{schema.Columns[0].Name}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", "), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ReadData returns an iterator that pages tableID in batches of at most
// batchSize rows, advancing by OFFSET across calls until a page comes
// back short of batchSize, so a table larger than one batch is read to
// exhaustion rather than truncated after the first page.
func (a *PostgresAdapter) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	orderBy, err := a.orderColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return &postgresBatchIterator{db: a.db, table: tableID, orderBy: orderBy, batchSize: batchSize}, nil
}

// ReadIncremental filters rows whose first timestamp-typed column exceeds
// watermark. Falls back to a full read, with a warning, when no timestamp
// column exists.
func (a *PostgresAdapter) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
	schema, err := a.GetSchema(ctx, tableID)
	if err != nil {
		return nil, err
	}

	var tsCol string
	for _, col := range schema.Columns {
		if col.Type == models.TypeTimestamp || col.Type == models.TypeDate {
			tsCol = col.Name
			break
		}
	}
	if tsCol == "" {
		log.Warn().Str("table", tableID).Msg("no timestamp column found, falling back to full read")
		return a.ReadData(ctx, tableID, batchSize)
	}

	if _, err := time.Parse(time.RFC3339, watermark); err != nil {
		return nil, fmt.Errorf("watermark %q not RFC3339: %w", watermark, migerr.ErrConfiguration)
	}

	orderBy, err := a.orderColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return &postgresBatchIterator{
		db:        a.db,
		table:     tableID,
		filter:    quoteIdent(tsCol) + " > $1",
		orderBy:   orderBy,
		args:      []interface{}{watermark},
		batchSize: batchSize,
	}, nil
}

func (a *PostgresAdapter) GetPrimaryKeyColumns(ctx context.Context, tableID string) ([]string, error) {
	schema, table := splitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE c.relname = $1 AND n.nspname = $2 AND i.indisprimary`, table, schema)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting primary keys")
		return nil, nil
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func (a *PostgresAdapter) GetForeignKeys(ctx context.Context, tableID string) ([]models.ForeignKey, error) {
	schemaName, table := splitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name,
		       COALESCE(rc.update_rule, ''), COALESCE(rc.delete_rule, '')
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		LEFT JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1 AND tc.table_schema = $2`,
		table, schemaName)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting foreign keys")
		return nil, nil
	}
	defer rows.Close()

	byName := map[string]*models.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, col, refTable, refCol, onUpdate, onDelete string
		if err := rows.Scan(&name, &col, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &models.ForeignKey{Name: name, ReferencedTable: refTable, OnUpdate: onUpdate, OnDelete: onDelete}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refCol)
	}
	out := make([]models.ForeignKey, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out, nil
}

func (a *PostgresAdapter) GetUniqueConstraints(ctx context.Context, tableID string) ([][]string, error) {
	schemaName, table := splitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE' AND tc.table_name = $1 AND tc.table_schema = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`, table, schemaName)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting unique constraints")
		return nil, nil
	}
	defer rows.Close()

	order := []string{}
	byName := map[string][]string{}
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, err
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], col)
	}
	out := make([][]string, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out, nil
}

func (a *PostgresAdapter) GetIndexes(ctx context.Context, tableID string) ([]models.IndexDescriptor, error) {
	schemaName, table := splitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class t
		JOIN pg_namespace n ON t.relnamespace = n.oid
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE t.relkind = 'r' AND t.relname = $1 AND n.nspname = $2 AND NOT ix.indisprimary
		ORDER BY i.relname`, table, schemaName)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting indexes")
		return nil, nil
	}
	defer rows.Close()

	order := []string{}
	byName := map[string]*models.IndexDescriptor{}
	for rows.Next() {
		var name, col string
		var unique bool
		if err := rows.Scan(&name, &col, &unique); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &models.IndexDescriptor{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	out := make([]models.IndexDescriptor, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out, nil
}

var _ = stdlib.GetDefaultDriver // ensures the pgx stdlib driver registers itself
