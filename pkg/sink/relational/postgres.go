package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/sink"
)

var _ = stdlib.GetDefaultDriver

const pgIdentifierLimit = 63

// PostgresSink is a sink.Adapter writing to a Postgres-like database.
type PostgresSink struct {
	db      *sqlx.DB
	colMaps map[string]map[string]string
}

// NewPostgresSink satisfies sink.Constructor.
func NewPostgresSink(config map[string]interface{}) (sink.Adapter, error) {
	return &PostgresSink{colMaps: make(map[string]map[string]string)}, nil
}

func postgresSinkDSN(config map[string]interface{}) (string, error) {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || username == "" {
		return "", fmt.Errorf("postgres sink requires host, database, username: %w", migerr.ErrConfiguration)
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

func (a *PostgresSink) Connect(ctx context.Context, config map[string]interface{}) error {
	dsn, err := postgresSinkDSN(config)
	if err != nil {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return fmt.Errorf("connect postgres sink: %w: %v", migerr.ErrConnection, err)
	}
	a.db = db
	log.Info().Str("kind", "postgres-sink").Msg("connected")
	return nil
}

func (a *PostgresSink) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *PostgresSink) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	dsn, err := postgresSinkDSN(config)
	if err != nil {
		return false
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return false
	}
	defer db.Close()
	return db.PingContext(ctx) == nil
}

func postgresColumnType(col models.ColumnDescriptor) string {
	switch col.Type {
	case models.TypeInt16:
		return "SMALLINT"
	case models.TypeInt32:
		return "INTEGER"
	case models.TypeInt64:
		return "BIGINT"
	case models.TypeFloat32:
		return "REAL"
	case models.TypeFloat64:
		return "DOUBLE PRECISION"
	case models.TypeDecimal:
		if col.Precision > 0 && col.Scale > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", col.Precision, col.Scale)
		}
		return "NUMERIC"
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
		return "BYTEA"
	case models.TypeDate:
		return "DATE"
	case models.TypeTime:
		return "TIME"
	case models.TypeTimestamp:
		return "TIMESTAMP"
	case models.TypeUUID:
		return "UUID"
	case models.TypeJSON, models.TypeArray:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// MapTypes is total: every semantic type maps to a concrete Postgres type,
// falling back to TEXT for anything unrecognized.
func (a *PostgresSink) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	out := models.TableSchema{Table: sourceSchema.Table, PrimaryKey: sourceSchema.PrimaryKey}
	for _, col := range sourceSchema.Columns {
		out.Columns = append(out.Columns, models.ColumnDescriptor{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
			Default:  col.Default,
			FullType: postgresColumnType(col),
		})
	}
	return out
}

func (a *PostgresSink) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	var exists bool
	err := a.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, tableID)
	if err != nil {
		return false, fmt.Errorf("check table exists %s: %w: %v", tableID, migerr.ErrTransientNetwork, err)
	}
	return exists, nil
}

func (a *PostgresSink) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
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
		sanitized := truncateIdentifier(sanitizeColumnName(col.Name), pgIdentifierLimit)
		colMap[col.Name] = sanitized

		def := fmt.Sprintf(`"%s" %s`, sanitized, col.FullType)
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
			pkCols = append(pkCols, fmt.Sprintf(`"%s"`, colMap[pk]))
		}
		colDefs = append(colDefs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (%s)`, tableID, strings.Join(colDefs, ", "))
	if _, err := a.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w: %v", tableID, migerr.ErrSinkWrite, err)
	}
	a.colMaps[tableID] = colMap
	log.Info().Str("table", tableID).Msg("created table")
	return nil
}

func (a *PostgresSink) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
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
			sanitized = truncateIdentifier(sanitizeColumnName(f), pgIdentifierLimit)
			colMap[f] = sanitized
		}
		colNames = append(colNames, fmt.Sprintf(`"%s"`, sanitized))
	}

	pkSet := make(map[string]struct{}, len(primaryKey))
	for _, pk := range primaryKey {
		pkSet[pk] = struct{}{}
	}

	var conflictClause string
	if len(primaryKey) > 0 {
		var pkQuoted []string
		for _, pk := range primaryKey {
			pkQuoted = append(pkQuoted, fmt.Sprintf(`"%s"`, colMap[pk]))
		}
		var updateClauses []string
		for _, f := range fields {
			if _, isPK := pkSet[f]; isPK {
				continue
			}
			updateClauses = append(updateClauses, fmt.Sprintf(`"%s" = EXCLUDED."%s"`, colMap[f], colMap[f]))
		}
		if len(updateClauses) > 0 {
			conflictClause = fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(pkQuoted, ", "), strings.Join(updateClauses, ", "))
		} else {
			conflictClause = fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(pkQuoted, ", "))
		}
	}

	written := 0
	for _, rec := range batch.Records {
		placeholders := make([]string, len(fields))
		args := make([]interface{}, len(fields))
		for i, f := range fields {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = normalizeValueForWrite(rec[f])
		}
		insertSQL := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)%s`,
			tableID, strings.Join(colNames, ", "), strings.Join(placeholders, ", "), conflictClause)

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

func (a *PostgresSink) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	colMap := a.colMaps[tableID]
	for _, idx := range indexes {
		var cols []string
		for _, c := range idx.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf(`"%s"`, sanitized))
			} else {
				cols = append(cols, fmt.Sprintf(`"%s"`, sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(sanitizeColumnName(idx.Name), pgIdentifierLimit)
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		sql := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS "%s" ON "%s" (%s)`, unique, name, tableID, strings.Join(cols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("index", idx.Name).Err(err).Msg("could not create index")
		}
	}
	return nil
}

func (a *PostgresSink) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	colMap := a.colMaps[tableID]
	for i, cols := range uniques {
		var quoted []string
		for _, c := range cols {
			if sanitized, ok := colMap[c]; ok {
				quoted = append(quoted, fmt.Sprintf(`"%s"`, sanitized))
			} else {
				quoted = append(quoted, fmt.Sprintf(`"%s"`, sanitizeColumnName(c)))
			}
		}
		name := truncateIdentifier(fmt.Sprintf("%s_uq_%d", tableID, i), pgIdentifierLimit)
		sql := fmt.Sprintf(`ALTER TABLE "%s" ADD CONSTRAINT "%s" UNIQUE (%s)`, tableID, name, strings.Join(quoted, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Err(err).Msg("could not create unique constraint")
		}
	}
	return nil
}

func (a *PostgresSink) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	colMap := a.colMaps[tableID]
	for _, fk := range fks {
		var cols []string
		for _, c := range fk.Columns {
			if sanitized, ok := colMap[c]; ok {
				cols = append(cols, fmt.Sprintf(`"%s"`, sanitized))
			} else {
				cols = append(cols, fmt.Sprintf(`"%s"`, sanitizeColumnName(c)))
			}
		}
		var refCols []string
		for _, c := range fk.ReferencedColumns {
			refCols = append(refCols, fmt.Sprintf(`"%s"`, sanitizeColumnName(c)))
		}
		name := truncateIdentifier(sanitizeColumnName(fk.Name), pgIdentifierLimit)
		sql := fmt.Sprintf(`ALTER TABLE "%s" ADD CONSTRAINT "%s" FOREIGN KEY (%s) REFERENCES "%s" (%s)`,
			tableID, name, strings.Join(cols, ", "), fk.ReferencedTable, strings.Join(refCols, ", "))
		if _, err := a.db.ExecContext(ctx, sql); err != nil {
			log.Warn().Str("table", tableID).Str("fk", fk.Name).Err(err).Msg("could not create foreign key")
		}
	}
	return nil
}
