package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/sink"
)

const mysqlIdentifierLimit = 64

// MySQLSink is a sink.Adapter writing to a MySQL-like database.
type MySQLSink struct {
	db       *sqlx.DB
	database string
	colMaps  map[string]map[string]string
}

// NewMySQLSink satisfies sink.Constructor.
func NewMySQLSink(config map[string]interface{}) (sink.Adapter, error) {
	return &MySQLSink{colMaps: make(map[string]map[string]string)}, nil
}

func mysqlSinkDSN(config map[string]interface{}) (dsn, database string, err error) {
	host, _ := config["host"].(string)
	database, _ = config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", "", fmt.Errorf("mysql sink requires host, database, username: %w", migerr.ErrConfiguration)
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

func (a *MySQLSink) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, database, err := mysqlSinkDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return fmt.Errorf("connect mysql sink: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	a.database = database
	log.Info().Str("kind", "mysql-sink").Msg("connected")
	return nil
}

func (a *MySQLSink) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *MySQLSink) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, _, err := mysqlSinkDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		return false
	}
	defer db.Close()
	return db.PingContext(ctx) == nil
}

func mysqlColumnType(col models.ColumnDescriptor) string {
	switch col.Type {
	case models.TypeInt16:
		return "SMALLINT"
	case models.TypeInt32:
		return "INT"
	case models.TypeInt64:
		return "BIGINT"
	case models.TypeFloat32:
		return "FLOAT"
	case models.TypeFloat64:
		return "DOUBLE"
	case models.TypeDecimal:
		if col.Precision > 0 && col.Scale > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", col.Precision, col.Scale)
		}
		return "DECIMAL(65,30)"
	case models.TypeBool:
		return "BOOLEAN"
	case models.TypeString:
		if col.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Length)
		}
		return "VARCHAR(255)"
	case models.TypeText:
		return "TEXT"
	case models.TypeBytes:
		return "BLOB"
	case models.TypeDate:
		return "DATE"
	case models.TypeTime:
		return "TIME"
	case models.TypeTimestamp:
		return "DATETIME"
	case models.TypeUUID:
		return "CHAR(36)"
	case models.TypeJSON, models.TypeArray:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (a *MySQLSink) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	out := models.TableSchema{Table: sourceSchema.Table, PrimaryKey: sourceSchema.PrimaryKey}
	for _, col := range sourceSchema.Columns {
		out.Columns = append(out.Columns, models.ColumnDescriptor{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Default:  col.Default,
			FullType: mysqlColumnType(col),
		})
	}
	return out
}

func (a *MySQLSink) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	var count int
	err := a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`, a.database, tableID)
	if err != nil {
		return false, fmt.Errorf("check table exists %s: %w: %v", tableID, migerr.ErrTransientNetwork, err)
	}
	return count > 0, nil
}

func (a *MySQLSink) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
	exists, err := a.TableExists(ctx, tableID, sourceKind)
	if err != nil {
		return err
	}
	if exists {
		log.Info().Str("table", tableID).Msg("table already exists")
		return nil
	}

	colMap := make(map[string]string)
	var colDefs []string
	for _, col := range sinkSchema.Columns {
		sanitized := truncateIdentifier(sanitizeColumnName(col.Name), mysqlIdentifierLimit)
		colMap[col.Name] = sanitized

		def := fmt.Sprintf("`%s` %s", sanitized, col.FullType)
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" {
			if expr, ok := translateDefault(col.Default, "CURRENT_TIMESTAMP"); ok {
				def += " DEFAULT " + expr
			}
		}
		colDefs = append(colDefs, def)
	}
	if len(sinkSchema.PrimaryKey) > 0 {
		var pkCols []string
		for _, pk := range sinkSchema.PrimaryKey {
			pkCols = append(pkCols, fmt.Sprintf("`%s`", colMap[pk]))
		}
		colDefs = append(colDefs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s` (%s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
		tableID, strings.Join(colDefs, ", "))
	if _, err := a.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w: %v", tableID, migerr.ErrSinkWrite, err)
	}
	a.colMaps[tableID] = colMap
	log.Info().Str("table", tableID).Msg("created table")
	return nil
}

func (a *MySQLSink) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
	if len(batch.Records) == 0 {
		return 0, nil
	}
	colMap := a.colMaps[tableID]
	if colMap == nil {
		colMap = make(map[string]string)
		a.colMaps[tableID] = colMap
	}

	var fields []string
	for k := range batch.Records[0] {
		fields = append(fields, k)
	}

	var colNames []string
	for _, f := range fields {
		sanitized, ok := colMap[f]
		if !ok {
			sanitized = truncateIdentifier(sanitizeColumnName(f), mysqlIdentifierLimit)
			colMap[f] = sanitized
		}
		colNames = append(colNames, fmt.Sprintf("`%s`", sanitized))
	}

	pkSet := make(map[string]struct{}, len(primaryKey))
	for _, pk := range primaryKey {
		pkSet[pk] = struct{}{}
	}

	var upsertClause string
	if len(primaryKey) > 0 {
		var updateClauses []string
		for _, f := range fields {
			if _, isPK := pkSet[f]; isPK {
				continue
			}
			updateClauses = append(updateClauses, fmt.Sprintf("`%s` = VALUES(`%s`)", colMap[f], colMap[f]))
		}
		if len(updateClauses) > 0 {
			upsertClause = " ON DUPLICATE KEY UPDATE " + strings.Join(updateClauses, ", ")
		}
	}

	insertVerb := "INSERT INTO"
	if len(primaryKey) > 0 && upsertClause == "" {
		// Every column is part of the key: nothing to update, so fall
		// back to insert-ignore instead of an empty ON DUPLICATE clause.
		insertVerb = "INSERT IGNORE INTO"
	}

	written := 0
	for _, rec := range batch.Records {
		placeholders := make([]string, len(fields))
		args := make([]interface{}, len(fields))
		for i, f := range fields {
			placeholders[i] = "?"
			args[i] = normalizeValueForWrite(rec[f])
		}
		insertSQL := fmt.Sprintf("%s `%s` (%s) VALUES (%s)%s",
			insertVerb, tableID, strings.Join(colNames, ", "), strings.Join(placeholders, ", "), upsertClause)

		err := writeRowWithRetry(ctx, tableID, func() error {
			_, execErr := a.db.ExecContext(ctx, insertSQL, args...)
			return execErr
		})
		if err != nil {
			log.Error().Str("table", tableID).Interface("record", rec).Err(err).Msg("dropping row after exhausting write retries")
			continue
		}
		written++
	}
	return written, nil
}

func (a *MySQLSink) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	colMap := a.colMaps[tableID]
	for _, idx := range indexes {
		var cols []string
		for _, c := range idx.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf("`%s`", sanitized))
			} else {
				cols = append(cols, fmt.Sprintf("`%s`", sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(sanitizeColumnName(idx.Name), mysqlIdentifierLimit)
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		sql := fmt.Sprintf("ALTER TABLE `%s` ADD %sINDEX `%s` (%s)", tableID, unique, name, strings.Join(cols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("index", idx.Name).Err(err).Msg("could not create index")
		}
	}
	return nil
}

func (a *MySQLSink) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	colMap := a.colMaps[tableID]
	for i, cols := range uniques {
		var quoted []string
		for _, c := range cols {
			if sanitized, ok := colMap[c]; ok {
				quoted = append(quoted, fmt.Sprintf("`%s`", sanitized))
			} else {
				quoted = append(quoted, fmt.Sprintf("`%s`", sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(fmt.Sprintf("%s_uq_%d", tableID, i), mysqlIdentifierLimit)
		sql := fmt.Sprintf("ALTER TABLE `%s` ADD CONSTRAINT `%s` UNIQUE (%s)", tableID, name, strings.Join(quoted, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Err(err).Msg("could not create unique constraint")
		}
	}
	return nil
}

func (a *MySQLSink) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	colMap := a.colMaps[tableID]
	for _, fk := range fks {
		var cols []string
		for _, c := range fk.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf("`%s`", sanitized))
			} else {
				cols = append(cols, fmt.Sprintf("`%s`", sanitizeColumnName(c)))
			}
		}
		var refCols []string
		for _, c := range fk.ReferencedColumns {
			refCols = append(refCols, fmt.Sprintf("`%s`", sanitizeColumnName(c)))
		}
		name := truncateIdentifier(sanitizeColumnName(fk.Name), mysqlIdentifierLimit)
		sql := fmt.Sprintf("ALTER TABLE `%s` ADD CONSTRAINT `%s` FOREIGN KEY (%s) REFERENCES `%s` (%s)",
			tableID, name, strings.Join(cols, ", "), fk.ReferencedTable, strings.Join(refCols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("fk", fk.Name).Err(err).Msg("could not create foreign key")
		}
	}
	return nil
}
