package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/sink"
)

const mssqlIdentifierLimit = 128

// MSSQLSink is a sink.Adapter writing to a SQL Server database. Like
// MSSQLAdapter on the source side, it is scoped to a single database and
// the dbo schema rather than enumerating the server's full database list.
type MSSQLSink struct {
	db      *sqlx.DB
	colMaps map[string]map[string]string
}

// NewMSSQLSink satisfies sink.Constructor.
func NewMSSQLSink(config map[string]interface{}) (sink.Adapter, error) {
	return &MSSQLSink{colMaps: make(map[string]map[string]string)}, nil
}

func mssqlSinkDSN(config map[string]interface{}) (string, error) {
	host, _ := config["host"].(string)
	if host == "" {
		host, _ = config["server"].(string)
	}
	database, _ := config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", fmt.Errorf("sqlserver sink requires host, database, username: %w", migerr.ErrConfiguration)
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

func (a *MSSQLSink) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, err := mssqlSinkDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "sqlserver", dsn)
	if err != nil {
		return fmt.Errorf("connect sqlserver sink: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	log.Info().Str("kind", "mssql-sink").Msg("connected")
	return nil
}

func (a *MSSQLSink) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *MSSQLSink) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, err := mssqlSinkDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "sqlserver", dsn)
	if err != nil {
		return false
	}
	defer db.Close()
	return db.PingContext(ctx) == nil
}

func mssqlColumnType(col models.ColumnDescriptor) string {
	switch col.Type {
	case models.TypeInt16:
		return "SMALLINT"
	case models.TypeInt32:
		return "INT"
	case models.TypeInt64:
		return "BIGINT"
	case models.TypeFloat32:
		return "REAL"
	case models.TypeFloat64:
		return "FLOAT"
	case models.TypeDecimal:
		if col.Precision > 0 && col.Scale > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", col.Precision, col.Scale)
		}
		return "DECIMAL(38,10)"
	case models.TypeBool:
		return "BIT"
	case models.TypeString:
		if col.Length > 0 {
			return fmt.Sprintf("NVARCHAR(%d)", col.Length)
		}
		return "NVARCHAR(255)"
	case models.TypeText:
		return "NVARCHAR(MAX)"
	case models.TypeBytes:
		return "VARBINARY(MAX)"
	case models.TypeDate:
		return "DATE"
	case models.TypeTime:
		return "TIME"
	case models.TypeTimestamp:
		return "DATETIME2"
	case models.TypeUUID:
		return "UNIQUEIDENTIFIER"
	case models.TypeJSON, models.TypeArray:
		return "NVARCHAR(MAX)"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (a *MSSQLSink) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	out := models.TableSchema{Table: sourceSchema.Table, PrimaryKey: sourceSchema.PrimaryKey}
	for _, col := range sourceSchema.Columns {
		out.Columns = append(out.Columns, models.ColumnDescriptor{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Default:  col.Default,
			FullType: mssqlColumnType(col),
		})
	}
	return out
}

func (a *MSSQLSink) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	var count int
	err := a.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = 'dbo' AND TABLE_NAME = @p1`, tableID)
	if err != nil {
		return false, fmt.Errorf("check table exists %s: %w: %v", tableID, migerr.ErrTransientNetwork, err)
	}
	return count > 0, nil
}

func (a *MSSQLSink) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
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
		sanitized := truncateIdentifier(sanitizeColumnName(col.Name), mssqlIdentifierLimit)
		colMap[col.Name] = sanitized

		def := fmt.Sprintf("[%s] %s", sanitized, col.FullType)
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" {
			if expr, ok := translateDefault(col.Default, "SYSDATETIME()"); ok {
				def += " DEFAULT " + expr
			}
		}
		colDefs = append(colDefs, def)
	}
	if len(sinkSchema.PrimaryKey) > 0 {
		var pkCols []string
		for _, pk := range sinkSchema.PrimaryKey {
			pkCols = append(pkCols, fmt.Sprintf("[%s]", colMap[pk]))
		}
		colDefs = append(colDefs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}

	createSQL := fmt.Sprintf("CREATE TABLE [dbo].[%s] (%s)", tableID, strings.Join(colDefs, ", "))
	if _, err := a.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w: %v", tableID, migerr.ErrSinkWrite, err)
	}
	a.colMaps[tableID] = colMap
	log.Info().Str("table", tableID).Msg("created table")
	return nil
}

// WriteData uses MERGE for upsert when a primary key is present: SQL
// Server has no INSERT ... ON DUPLICATE KEY shorthand, so the statement is
// built as a single-row MERGE keyed on the primary key columns.
func (a *MSSQLSink) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
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
	for _, f := range fields {
		if _, ok := colMap[f]; !ok {
			colMap[f] = truncateIdentifier(sanitizeColumnName(f), mssqlIdentifierLimit)
		}
	}

	pkSet := make(map[string]struct{}, len(primaryKey))
	for _, pk := range primaryKey {
		pkSet[pk] = struct{}{}
	}

	written := 0
	for _, rec := range batch.Records {
		err := writeRowWithRetry(ctx, tableID, func() error {
			if len(primaryKey) > 0 {
				return a.mergeRow(ctx, tableID, fields, colMap, pkSet, rec)
			}
			return a.insertRow(ctx, tableID, fields, colMap, rec)
		})
		if err != nil {
			log.Error().Str("table", tableID).Interface("record", rec).Err(err).Msg("dropping row after exhausting write retries")
			continue
		}
		written++
	}
	return written, nil
}

func (a *MSSQLSink) insertRow(ctx context.Context, tableID string, fields []string, colMap map[string]string, rec models.Record) error {
	var colNames []string
	var placeholders []string
	args := make([]interface{}, 0, len(fields))
	for i, f := range fields {
		colNames = append(colNames, fmt.Sprintf("[%s]", colMap[f]))
		placeholders = append(placeholders, fmt.Sprintf("@p%d", i+1))
		args = append(args, normalizeValueForWrite(rec[f]))
	}
	sql := fmt.Sprintf("INSERT INTO [dbo].[%s] (%s) VALUES (%s)", tableID, strings.Join(colNames, ", "), strings.Join(placeholders, ", "))
	_, err := a.db.ExecContext(ctx, sql, args...)
	return err
}

func (a *MSSQLSink) mergeRow(ctx context.Context, tableID string, fields []string, colMap map[string]string, pkSet map[string]struct{}, rec models.Record) error {
	var usingCols []string
	var matchClauses []string
	var updateClauses []string
	var insertCols []string
	var insertVals []string
	args := make([]interface{}, 0, len(fields))

	for i, f := range fields {
		col := colMap[f]
		ph := fmt.Sprintf("@p%d", i+1)
		args = append(args, normalizeValueForWrite(rec[f]))
		usingCols = append(usingCols, fmt.Sprintf("%s AS [%s]", ph, col))
		insertCols = append(insertCols, fmt.Sprintf("[%s]", col))
		insertVals = append(insertVals, fmt.Sprintf("src.[%s]", col))
		if _, isPK := pkSet[f]; isPK {
			matchClauses = append(matchClauses, fmt.Sprintf("tgt.[%s] = src.[%s]", col, col))
		} else {
			updateClauses = append(updateClauses, fmt.Sprintf("tgt.[%s] = src.[%s]", col, col))
		}
	}

	var updateSection string
	if len(updateClauses) > 0 {
		updateSection = fmt.Sprintf(" WHEN MATCHED THEN UPDATE SET %s", strings.Join(updateClauses, ", "))
	}

	sql := fmt.Sprintf(
		"MERGE INTO [dbo].[%s] AS tgt USING (SELECT %s) AS src ON %s%s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		tableID, strings.Join(usingCols, ", "), strings.Join(matchClauses, " AND "), updateSection,
		strings.Join(insertCols, ", "), strings.Join(insertVals, ", "))

	_, err := a.db.ExecContext(ctx, sql, args...)
	return err
}

func (a *MSSQLSink) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	colMap := a.colMaps[tableID]
	for _, idx := range indexes {
		var cols []string
		for _, c := range idx.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf("[%s]", sanitized))
			} else {
				cols = append(cols, fmt.Sprintf("[%s]", sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(sanitizeColumnName(idx.Name), mssqlIdentifierLimit)
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		sql := fmt.Sprintf("CREATE %sINDEX [%s] ON [dbo].[%s] (%s)", unique, name, tableID, strings.Join(cols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("index", idx.Name).Err(err).Msg("could not create index")
		}
	}
	return nil
}

func (a *MSSQLSink) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	colMap := a.colMaps[tableID]
	for i, cols := range uniques {
		var quoted []string
		for _, c := range cols {
			if sanitized, ok := colMap[c]; ok {
				quoted = append(quoted, fmt.Sprintf("[%s]", sanitized))
			} else {
				quoted = append(quoted, fmt.Sprintf("[%s]", sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(fmt.Sprintf("%s_uq_%d", tableID, i), mssqlIdentifierLimit)
		sql := fmt.Sprintf("ALTER TABLE [dbo].[%s] ADD CONSTRAINT [%s] UNIQUE (%s)", tableID, name, strings.Join(quoted, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Err(err).Msg("could not create unique constraint")
		}
	}
	return nil
}

func (a *MSSQLSink) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	colMap := a.colMaps[tableID]
	for _, fk := range fks {
		var cols []string
		for _, c := range fk.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf("[%s]", sanitized))
			} else {
				cols = append(cols, fmt.Sprintf("[%s]", sanitizeColumnName(c)))
			}
		}
		var refCols []string
		for _, c := range fk.ReferencedColumns {
			refCols = append(refCols, fmt.Sprintf("[%s]", sanitizeColumnName(c)))
		}
		name := truncateIdentifier(sanitizeColumnName(fk.Name), mssqlIdentifierLimit)
		sql := fmt.Sprintf("ALTER TABLE [dbo].[%s] ADD CONSTRAINT [%s] FOREIGN KEY (%s) REFERENCES [dbo].[%s] (%s)",
			tableID, name, strings.Join(cols, ", "), fk.ReferencedTable, strings.Join(refCols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("fk", fk.Name).Err(err).Msg("could not create foreign key")
		}
	}
	return nil
}
