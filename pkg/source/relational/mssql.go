package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source"
)

// MSSQLAdapter is a source.Adapter + source.ConstraintDescriber for SQL
// Server. Scoped to a single database per connection — the original
// adapter enumerated every database on the server and prefixed table
// identifiers with db.schema.table; this adapter takes one database per
// SourceDescriptor (matching every other relational-kind adapter in this
// package) and scopes identifiers to schema.table instead.
type MSSQLAdapter struct {
	db *sqlx.DB
}

// NewMSSQLAdapter satisfies source.Constructor.
func NewMSSQLAdapter(config map[string]interface{}) (source.Adapter, error) {
	return &MSSQLAdapter{}, nil
}

func mssqlDSN(config map[string]interface{}) (string, error) {
	host, _ := config["host"].(string)
	if host == "" {
		host, _ = config["server"].(string)
	}
	database, _ := config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", fmt.Errorf("sqlserver source requires host, database, username: %w", migerr.ErrConfiguration)
	}
	port := 1433
	if p, ok := config["port"]; ok {
		switch v := p.(type) {
		case float64:
			port = int(v)
		case int:
			port = v
		case string:
			if n, e := strconv.Atoi(v); e == nil {
				port = n
			}
		}
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s", username, password, host, port, database), nil
}

func (a *MSSQLAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, err := mssqlDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "sqlserver", dsn)
	if err != nil {
		return fmt.Errorf("connect sqlserver: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	log.Info().Str("kind", "sqlserver-source").Msg("connected")
	return nil
}

func (a *MSSQLAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *MSSQLAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, err := mssqlDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "sqlserver", dsn)
	if err != nil {
		return false
	}
	_ = db.Close()
	return true
}

func (a *MSSQLAdapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`)
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
		if schema == "dbo" {
			tables = append(tables, table)
		} else {
			tables = append(tables, schema+"."+table)
		}
	}
	return tables, rows.Err()
}

func mssqlSplitSchemaTable(tableID string) (schema, table string) {
	if idx := strings.IndexByte(tableID, '.'); idx >= 0 {
		return tableID[:idx], tableID[idx+1:]
	}
	return "dbo", tableID
}

func (a *MSSQLAdapter) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	schemaName, table := mssqlSplitSchemaTable(tableID)

	rows, err := a.db.QueryxContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH,
		       NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE, COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, schemaName, table)
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
			Type:     mapMSSQLType(dataType),
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

func mapMSSQLType(dataType string) models.SemanticType {
	switch strings.ToLower(dataType) {
	case "smallint", "tinyint":
		return models.TypeInt16
	case "int":
		return models.TypeInt32
	case "bigint":
		return models.TypeInt64
	case "real":
		return models.TypeFloat32
	case "float":
		return models.TypeFloat64
	case "decimal", "numeric", "money", "smallmoney":
		return models.TypeDecimal
	case "bit":
		return models.TypeBool
	case "char", "varchar", "nchar", "nvarchar":
		return models.TypeString
	case "text", "ntext":
		return models.TypeText
	case "binary", "varbinary", "image":
		return models.TypeBytes
	case "date":
		return models.TypeDate
	case "time":
		return models.TypeTime
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return models.TypeTimestamp
	case "uniqueidentifier":
		return models.TypeUUID
	default:
		return models.TypeString
	}
}

// mssqlBatchIterator pages through a table's rows with ORDER BY ... OFFSET
// ... FETCH NEXT, ordered by orderBy so repeated calls advance through the
// whole table rather than replaying the first page. done is only set
// once a page comes back short of batchSize, so no row is skipped
// regardless of table size.
type mssqlBatchIterator struct {
	db        *sqlx.DB
	schema    string
	table     string
	filter    string
	orderBy   string
	args      []interface{}
	batchSize int
	offset    int
	done      bool
}

func (it *mssqlBatchIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.done {
		return models.Batch{}, false, nil
	}

	query := fmt.Sprintf("SELECT * FROM [%s].[%s]", it.schema, it.table)
	args := append([]interface{}{}, it.args...)
	if it.filter != "" {
		query += " WHERE " + it.filter
	}
	orderBy := it.orderBy
	if orderBy == "" {
		orderBy = "(SELECT NULL)"
	}
	offsetIdx := len(args) + 1
	fetchIdx := offsetIdx + 1
	query += fmt.Sprintf(" ORDER BY %s OFFSET @p%d ROWS FETCH NEXT @p%d ROWS ONLY", orderBy, offsetIdx, fetchIdx)
	args = append(args, it.offset, it.batchSize)

	rows, err := it.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return models.Batch{}, false, fmt.Errorf("read %s.%s: %w: %v", it.schema, it.table, migerr.ErrTransientNetwork, err)
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
	return models.Batch{Table: it.schema + "." + it.table, Records: records}, len(records) > 0, nil
}

// orderColumns returns a bracket-quoted, comma-joined ORDER BY clause for
// tableID: its primary key columns, or failing that its first column, so
// OFFSET/FETCH pagination (which SQL Server requires an ORDER BY for) has
// a stable ordering to advance through.
func (a *MSSQLAdapter) orderColumns(ctx context.Context, tableID string) (string, error) {
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
		quoted[i] = "[" + c + "]"
	}
	return strings.Join(quoted, ", "), nil
}

// ReadData returns an iterator that pages tableID in batches of at most
// batchSize rows, advancing by OFFSET across calls until a page comes
// back short of batchSize, so a table larger than one batch is read to
// exhaustion rather than truncated after the first page.
func (a *MSSQLAdapter) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	orderBy, err := a.orderColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	schemaName, table := mssqlSplitSchemaTable(tableID)
	return &mssqlBatchIterator{db: a.db, schema: schemaName, table: table, orderBy: orderBy, batchSize: batchSize}, nil
}

func (a *MSSQLAdapter) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
	schemaInfo, err := a.GetSchema(ctx, tableID)
	if err != nil {
		return nil, err
	}

	var tsCol string
	for _, col := range schemaInfo.Columns {
		if col.Type == models.TypeTimestamp || col.Type == models.TypeDate {
			tsCol = col.Name
			break
		}
	}
	schemaName, table := mssqlSplitSchemaTable(tableID)
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
	return &mssqlBatchIterator{
		db:        a.db,
		schema:    schemaName,
		table:     table,
		filter:    fmt.Sprintf("[%s] > @p1", tsCol),
		orderBy:   orderBy,
		args:      []interface{}{watermark},
		batchSize: batchSize,
	}, nil
}

func (a *MSSQLAdapter) GetPrimaryKeyColumns(ctx context.Context, tableID string) ([]string, error) {
	schemaName, table := mssqlSplitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY' AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
		ORDER BY kcu.ORDINAL_POSITION`, schemaName, table)
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

func (a *MSSQLAdapter) GetForeignKeys(ctx context.Context, tableID string) ([]models.ForeignKey, error) {
	schemaName, table := mssqlSplitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT fk.name, cp.name, rt.name, rc.name
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
		JOIN sys.columns cp ON cp.object_id = fkc.parent_object_id AND cp.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		JOIN sys.tables t ON t.object_id = fk.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.name = @p2`, schemaName, table)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting foreign keys")
		return nil, nil
	}
	defer rows.Close()

	byName := map[string]*models.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, col, refTable, refCol string
		if err := rows.Scan(&name, &col, &refTable, &refCol); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &models.ForeignKey{Name: name, ReferencedTable: refTable}
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

func (a *MSSQLAdapter) GetUniqueConstraints(ctx context.Context, tableID string) ([][]string, error) {
	schemaName, table := mssqlSplitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT tc.CONSTRAINT_NAME, kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'UNIQUE' AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
		ORDER BY tc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`, schemaName, table)
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

func (a *MSSQLAdapter) GetIndexes(ctx context.Context, tableID string) ([]models.IndexDescriptor, error) {
	schemaName, table := mssqlSplitSchemaTable(tableID)
	rows, err := a.db.QueryxContext(ctx, `
		SELECT i.name, c.name, i.is_unique
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = @p1 AND t.name = @p2 AND i.is_primary_key = 0 AND i.name IS NOT NULL
		ORDER BY i.name, ic.key_ordinal`, schemaName, table)
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
