package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source"
)

// MySQLAdapter is a source.Adapter + source.ConstraintDescriber for MySQL.
type MySQLAdapter struct {
	db       *sqlx.DB
	database string
}

// NewMySQLAdapter satisfies source.Constructor.
func NewMySQLAdapter(config map[string]interface{}) (source.Adapter, error) {
	return &MySQLAdapter{}, nil
}

func mysqlDSN(config map[string]interface{}) (dsn, database string, err error) {
	host, _ := config["host"].(string)
	database, _ = config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", "", fmt.Errorf("mysql source requires host, database, username: %w", migerr.ErrConfiguration)
	}
	port := 3306
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
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", username, password, host, port, database), database, nil
}

func (a *MySQLAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, database, err := mysqlDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return fmt.Errorf("connect mysql: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	a.database = database
	log.Info().Str("kind", "mysql-source").Str("database", database).Msg("connected")
	return nil
}

func (a *MySQLAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *MySQLAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, _, err := mysqlDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return false
	}
	_ = db.Close()
	return true
}

func (a *MySQLAdapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryxContext(ctx, `SHOW TABLES`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w: %v", migerr.ErrPermanentSource, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (a *MySQLAdapter) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT column_name, data_type, character_maximum_length,
		       numeric_precision, numeric_scale, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, a.database, tableID)
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
			Type:     mapMySQLType(dataType),
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

func mapMySQLType(dataType string) models.SemanticType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint":
		return models.TypeInt16
	case "int", "mediumint":
		return models.TypeInt32
	case "bigint":
		return models.TypeInt64
	case "float":
		return models.TypeFloat32
	case "double":
		return models.TypeFloat64
	case "decimal", "numeric":
		return models.TypeDecimal
	case "bit", "bool", "boolean":
		return models.TypeBool
	case "char", "varchar":
		return models.TypeString
	case "text", "tinytext", "mediumtext", "longtext":
		return models.TypeText
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return models.TypeBytes
	case "date":
		return models.TypeDate
	case "time":
		return models.TypeTime
	case "datetime", "timestamp":
		return models.TypeTimestamp
	case "json":
		return models.TypeJSON
	default:
		return models.TypeString
	}
}

// mysqlBatchIterator pages through a table's rows with LIMIT offset,count,
// ordered by orderBy so repeated calls advance through the whole table
// rather than replaying the first page. done is only set once a page
// comes back short of batchSize, so no row is skipped regardless of
// table size.
type mysqlBatchIterator struct {
	db        *sqlx.DB
	table     string
	filter    string
	orderBy   string
	args      []interface{}
	batchSize int
	offset    int
	done      bool
}

func (it *mysqlBatchIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.done {
		return models.Batch{}, false, nil
	}

	query := fmt.Sprintf("SELECT * FROM `%s`", it.table)
	args := append([]interface{}{}, it.args...)
	if it.filter != "" {
		query += " WHERE " + it.filter
	}
	if it.orderBy != "" {
		query += " ORDER BY " + it.orderBy
	}
	query += " LIMIT ?, ?"
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
// has a stable ordering to advance through.
func (a *MySQLAdapter) orderColumns(ctx context.Context, tableID string) (string, error) {
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
		quoted[i] = "`" + c + "`"
	}
	return strings.Join(quoted, ", "), nil
}

// ReadData returns an iterator that pages tableID in batches of at most
// batchSize rows, advancing by LIMIT offset across calls until a page
// comes back short of batchSize, so a table larger than one batch is
// read to exhaustion rather than truncated after the first page.
func (a *MySQLAdapter) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	orderBy, err := a.orderColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return &mysqlBatchIterator{db: a.db, table: tableID, orderBy: orderBy, batchSize: batchSize}, nil
}

func (a *MySQLAdapter) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
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
	return &mysqlBatchIterator{
		db:        a.db,
		table:     tableID,
		filter:    fmt.Sprintf("`%s` > ?", tsCol),
		orderBy:   orderBy,
		args:      []interface{}{watermark},
		batchSize: batchSize,
	}, nil
}

func (a *MySQLAdapter) GetPrimaryKeyColumns(ctx context.Context, tableID string) ([]string, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, a.database, tableID)
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

func (a *MySQLAdapter) GetForeignKeys(ctx context.Context, tableID string) ([]models.ForeignKey, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT constraint_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position`, a.database, tableID)
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

func (a *MySQLAdapter) GetUniqueConstraints(ctx context.Context, tableID string) ([][]string, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE' AND tc.table_schema = ? AND tc.table_name = ?
		ORDER BY tc.constraint_name, kcu.ordinal_position`, a.database, tableID)
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

func (a *MySQLAdapter) GetIndexes(ctx context.Context, tableID string) ([]models.IndexDescriptor, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_name != 'PRIMARY'
		ORDER BY index_name, seq_in_index`, a.database, tableID)
	if err != nil {
		log.Warn().Err(err).Str("table", tableID).Msg("error getting indexes")
		return nil, nil
	}
	defer rows.Close()

	order := []string{}
	byName := map[string]*models.IndexDescriptor{}
	for rows.Next() {
		var name, col string
		var nonUnique int
		if err := rows.Scan(&name, &col, &nonUnique); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &models.IndexDescriptor{Name: name, Unique: nonUnique == 0}
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
