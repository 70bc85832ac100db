// Package olap implements sink.Adapter for a ClickHouse columnar
// destination. Table engine and sort order are chosen per table family
// rather than uniformly: fixed dimension tables, SaaS CRM module tables,
// revisioned work-item tables, and everything else each get a different
// ENGINE/ORDER BY shape, mirroring the per-family DDL the original Python
// destination built up ad hoc across its create_table/_create_devops_table
// branches.
package olap

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source/workitemsaas"
)

// Source kind tags the engine passes to MapTypes/CreateTable/WriteData so
// this sink can apply per-family policy without depending on any source
// package beyond the work-item table-name constants above.
const (
	SourceKindRelational  = "relational"
	SourceKindCRMSaaS     = "crmsaas"
	SourceKindWorkItemSaaS = "workitemsaas"
)

const defaultWriteBatchSize = 5000

// ClickHouseAdapter is a sink.Adapter backed by clickhouse-go/v2, speaking
// the native protocol or HTTP as chOptions selects.
type ClickHouseAdapter struct {
	conn     driver.Conn
	database string
	// columnMaps remembers the sanitized-name mapping chosen for each
	// table's CreateTable call so WriteData can line values up with the
	// declared columns without re-deriving it.
	columnMaps map[string]map[string]string
}

// NewClickHouseAdapter satisfies sink.Constructor.
func NewClickHouseAdapter(config map[string]interface{}) (sink.Adapter, error) {
	return &ClickHouseAdapter{columnMaps: make(map[string]map[string]string)}, nil
}

// chOptions builds the connection options for an explicit protocol/port
// pair: "native" defaults to 9000, "http" defaults to 8123, an unknown or
// absent hint defaults to whatever port was configured (8123 if none). The
// HTTP protocol is used for an "http" hint, and for port 8123 unless the
// hint is "native"; every other case uses the native protocol.
func chOptions(config map[string]interface{}, protocol string, port int) (*clickhouse.Options, error) {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	username, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" {
		return nil, fmt.Errorf("clickhouse sink requires host and database: %w", migerr.ErrConfiguration)
	}

	if port == 0 {
		switch protocol {
		case "native":
			port = 9000
		default:
			port = 8123
		}
	}

	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}
	if protocol == "http" || (protocol != "native" && port == 8123) {
		opts.Protocol = clickhouse.HTTP
	}
	return opts, nil
}

func configuredPort(config map[string]interface{}) int {
	if p, ok := config["port"].(int); ok && p > 0 {
		return p
	}
	if p, ok := config["port"].(float64); ok && p > 0 {
		return int(p)
	}
	return 0
}

// dialClickHouse opens and pings a connection per SPEC_FULL §6's port
// policy: an explicit protocol hint ("native"|"http") is trusted outright
// and dialed once. Absent a hint, a configured port of 9000 (the
// native-protocol port) is treated as ambiguous — clickhouse-go/v2's
// native client can't always reach a server that only exposes the HTTP
// API on that host, so the adapter tries the HTTP port (8123) first and
// falls back to 9000 only if that dial fails. Any other configured port,
// or no port at all, is dialed directly with no fallback.
func dialClickHouse(ctx context.Context, config map[string]interface{}) (driver.Conn, error) {
	protocol, _ := config["protocol"].(string)
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	port := configuredPort(config)

	if protocol == "" && port == 9000 {
		if conn, err := openAndPing(ctx, config, "http", 8123); err == nil {
			return conn, nil
		}
	}

	conn, err := openAndPing(ctx, config, protocol, port)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func openAndPing(ctx context.Context, config map[string]interface{}, protocol string, port int) (driver.Conn, error) {
	opts, err := chOptions(config, protocol, port)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (a *ClickHouseAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	conn, err := dialClickHouse(ctx, config)
	if err != nil {
		return fmt.Errorf("open clickhouse connection: %w: %v", migerr.ErrConnection, err)
	}
	a.conn = conn
	a.database, _ = config["database"].(string)
	log.Info().Str("kind", "olap-sink").Str("database", a.database).Msg("connected")
	return nil
}

func (a *ClickHouseAdapter) Disconnect(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *ClickHouseAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	conn, err := dialClickHouse(ctx, config)
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// mapSemanticType translates one source-neutral semantic type to its
// ClickHouse column type, matching map_postgresql_to_clickhouse_type's
// fallback-to-String behavior for anything it does not recognize.
func mapSemanticType(t models.SemanticType) string {
	switch t {
	case models.TypeInt16:
		return "Int16"
	case models.TypeInt32:
		return "Int32"
	case models.TypeInt64:
		return "Int64"
	case models.TypeFloat32:
		return "Float32"
	case models.TypeFloat64:
		return "Float64"
	case models.TypeDecimal:
		return "Decimal64(2)"
	case models.TypeBool:
		return "UInt8"
	case models.TypeDate:
		return "Date"
	case models.TypeTimestamp:
		return "DateTime"
	case models.TypeUUID:
		return "UUID"
	case models.TypeString, models.TypeText, models.TypeBytes, models.TypeTime, models.TypeJSON, models.TypeArray:
		return "String"
	default:
		log.Warn().Str("semantic_type", string(t)).Msg("unknown semantic type, mapping to String")
		return "String"
	}
}

// MapTypes is total: CRM SaaS columns other than id are always nullable
// String regardless of the source's reported type, because module field
// metadata there is unreliable and downstream consumers expect late-binding
// text.
func (a *ClickHouseAdapter) MapTypes(sourceSchema models.TableSchema, sourceKind string) models.TableSchema {
	out := models.TableSchema{Table: sourceSchema.Table}
	for _, col := range sourceSchema.Columns {
		chType := mapSemanticType(col.Type)
		nullable := col.Nullable && col.Name != "id"
		if sourceKind == SourceKindCRMSaaS {
			chType = "String"
			nullable = col.Name != "id"
		}
		full := chType
		if nullable {
			full = "Nullable(" + chType + ")"
		}
		out.Columns = append(out.Columns, models.ColumnDescriptor{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: nullable,
			FullType: full,
		})
	}
	return out
}

var nonAlnum = regexp.MustCompile(`[^0-9a-zA-Z_]`)

// sanitizeColumnName converts an arbitrary field name into a ClickHouse-safe
// identifier: non-alphanumerics become underscores, a leading digit is
// prefixed, the result is lowercased, and collisions within usedNames are
// resolved with a numeric suffix.
func sanitizeColumnName(name string, usedNames map[string]struct{}) string {
	if name == "" {
		name = "field"
	}
	sanitized := nonAlnum.ReplaceAllString(name, "_")
	if sanitized == "" {
		sanitized = "field"
	}
	if unicode.IsDigit(rune(sanitized[0])) {
		sanitized = "_" + sanitized
	}
	sanitized = strings.ToLower(sanitized)

	base := sanitized
	candidate := base
	for counter := 1; ; counter++ {
		if _, taken := usedNames[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s_%d", base, counter)
	}
	usedNames[candidate] = struct{}{}
	return candidate
}

// tableFamily classifies a table for engine/sort-order selection.
type tableFamily int

const (
	familyGeneric tableFamily = iota
	familyDimension
	familyCRMModule
	familyWorkItemMain
	familyWorkItemRevisioned
	familyWorkItemLoadTime
)

func classify(tableID, sourceKind string) tableFamily {
	if sourceKind == SourceKindCRMSaaS {
		return familyCRMModule
	}
	if sourceKind == SourceKindWorkItemSaaS {
		switch tableID {
		case workitemsaas.TableProjects, workitemsaas.TableTeams:
			return familyDimension
		case workitemsaas.TableMain:
			return familyWorkItemMain
		case workitemsaas.TableUpdates, workitemsaas.TableRevisions:
			return familyWorkItemRevisioned
		case workitemsaas.TableComments, workitemsaas.TableRelations:
			return familyWorkItemLoadTime
		}
	}
	return familyGeneric
}

// destinationTableName applies the per-source-kind naming policy: work-item
// tables keep their exact fixed names, CRM module tables get a zoho_
// prefix, and every other relational source gets an HR_ prefix.
func destinationTableName(tableID, sourceKind string) string {
	switch sourceKind {
	case SourceKindWorkItemSaaS:
		return tableID
	case SourceKindCRMSaaS:
		return "zoho_" + strings.ToLower(tableID)
	default:
		return "HR_" + tableID
	}
}

func (a *ClickHouseAdapter) TableExists(ctx context.Context, tableID string, sourceKind string) (bool, error) {
	chTable := destinationTableName(tableID, sourceKind)
	var exists uint8
	row := a.conn.QueryRow(ctx, "EXISTS TABLE "+quoteIdent(chTable))
	if err := row.Scan(&exists); err != nil {
		return false, nil
	}
	return exists == 1, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CreateTable is create-if-not-exists. Column declarations and ORDER BY key
// follow the table's family: fixed dimension tables and the work-item main
// table sort by id, revisioned work-item tables sort by rev, CRM module
// tables (ReplacingMergeTree on load_time) and the work-item comments and
// relations tables (plain MergeTree) sort by load_time, and everything else
// is an unordered MergeTree.
func (a *ClickHouseAdapter) CreateTable(ctx context.Context, tableID string, sinkSchema models.TableSchema, sourceKind string) error {
	chTable := destinationTableName(tableID, sourceKind)
	exists, err := a.TableExists(ctx, tableID, sourceKind)
	if err != nil {
		return err
	}
	if exists {
		log.Info().Str("table", chTable).Msg("table already exists, skipping creation")
		return nil
	}

	family := classify(tableID, sourceKind)
	usedNames := map[string]struct{}{"id": {}, "load_time": {}}
	colMap := make(map[string]string)

	var cols []string
	var orderBy string

	switch family {
	case familyCRMModule:
		for _, c := range sinkSchema.Columns {
			if c.Name == "id" {
				continue
			}
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			cols = append(cols, fmt.Sprintf("%s Nullable(String)", quoteIdent(sanitized)))
		}
		colDefs := append([]string{"id String"}, cols...)
		colDefs = append(colDefs, "load_time DateTime DEFAULT now()")
		createSQL := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = ReplacingMergeTree(load_time) ORDER BY load_time",
			quoteIdent(chTable), strings.Join(colDefs, ", "))
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}

	case familyWorkItemMain:
		colDefs := []string{"`id` String"}
		for _, c := range sinkSchema.Columns {
			if c.Name == "id" {
				continue
			}
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			colDefs = append(colDefs, fmt.Sprintf("%s Nullable(String)", quoteIdent(sanitized)))
		}
		orderBy = "id"
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY %s",
			quoteIdent(chTable), strings.Join(colDefs, ", "), orderBy)
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}

	case familyWorkItemRevisioned:
		usedNames = map[string]struct{}{"work_item_id": {}, "rev": {}}
		colDefs := []string{"`work_item_id` String", "`rev` Int64"}
		for _, c := range sinkSchema.Columns {
			if c.Name == "work_item_id" || c.Name == "rev" {
				continue
			}
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			colDefs = append(colDefs, fmt.Sprintf("%s Nullable(String)", quoteIdent(sanitized)))
		}
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = ReplacingMergeTree() ORDER BY rev",
			quoteIdent(chTable), strings.Join(colDefs, ", "))
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}

	case familyWorkItemLoadTime:
		usedNames = map[string]struct{}{"work_item_id": {}, "load_time": {}}
		colDefs := []string{"`work_item_id` String"}
		for _, c := range sinkSchema.Columns {
			if c.Name == "work_item_id" {
				continue
			}
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			colDefs = append(colDefs, fmt.Sprintf("%s Nullable(String)", quoteIdent(sanitized)))
		}
		colDefs = append(colDefs, "load_time DateTime DEFAULT now()")
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY load_time",
			quoteIdent(chTable), strings.Join(colDefs, ", "))
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}

	case familyDimension:
		colDefs := []string{"`id` String"}
		for _, c := range sinkSchema.Columns {
			if c.Name == "id" {
				continue
			}
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			colDefs = append(colDefs, fmt.Sprintf("%s %s", quoteIdent(sanitized), nullableType(c)))
		}
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY id",
			quoteIdent(chTable), strings.Join(colDefs, ", "))
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}

	default:
		var colDefs []string
		for _, c := range sinkSchema.Columns {
			sanitized := sanitizeColumnName(c.Name, usedNames)
			colMap[c.Name] = sanitized
			colDefs = append(colDefs, fmt.Sprintf("%s %s", quoteIdent(sanitized), nullableType(c)))
		}
		createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree() ORDER BY tuple()",
			quoteIdent(chTable), strings.Join(colDefs, ", "))
		if err := a.conn.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("create table %s: %w: %v", chTable, migerr.ErrSinkWrite, err)
		}
	}

	a.columnMaps[tableID] = colMap
	log.Info().Str("table", chTable).Msg("created table")
	return a.evolveMissingColumns(ctx, tableID, sourceKind, sinkSchema)
}

func nullableType(c models.ColumnDescriptor) string {
	if c.FullType != "" {
		return c.FullType
	}
	t := mapSemanticType(c.Type)
	if c.Nullable {
		return "Nullable(" + t + ")"
	}
	return t
}

// evolveMissingColumns adds, after creation, any column the just-built
// schema declared but the CREATE TABLE branch above skipped adding
// (defensive: keeps the describe-then-alter idiom the original destination
// used after every create, in case a future family grows extra columns).
func (a *ClickHouseAdapter) evolveMissingColumns(ctx context.Context, tableID, sourceKind string, schema models.TableSchema) error {
	existing, err := a.describeColumns(ctx, destinationTableName(tableID, sourceKind))
	if err != nil {
		return nil
	}
	colMap := a.columnMaps[tableID]
	if colMap == nil {
		colMap = make(map[string]string)
	}
	for _, c := range schema.Columns {
		sanitized, ok := colMap[c.Name]
		if !ok {
			continue
		}
		if _, present := existing[sanitized]; !present {
			alterSQL := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s Nullable(String)",
				quoteIdent(destinationTableName(tableID, sourceKind)), quoteIdent(sanitized))
			if err := a.conn.Exec(ctx, alterSQL); err != nil {
				log.Warn().Str("table", tableID).Str("column", sanitized).Err(err).Msg("could not add column")
			}
		}
	}
	return nil
}

func (a *ClickHouseAdapter) describeColumns(ctx context.Context, chTable string) (map[string]struct{}, error) {
	rows, err := a.conn.Query(ctx, "DESCRIBE TABLE "+quoteIdent(chTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name, typ, defaultType, defaultExpr, comment, codecExpr, ttlExpr string
		if err := rows.Scan(&name, &typ, &defaultType, &defaultExpr, &comment, &codecExpr, &ttlExpr); err != nil {
			return nil, err
		}
		cols[name] = struct{}{}
	}
	return cols, nil
}

// existingIDs fetches the set of ids currently in a CRM module table so
// WriteData can drop records that were already migrated in a prior run.
func (a *ClickHouseAdapter) existingIDs(ctx context.Context, chTable string) map[string]struct{} {
	ids := make(map[string]struct{})
	rows, err := a.conn.Query(ctx, "SELECT id FROM "+quoteIdent(chTable))
	if err != nil {
		log.Debug().Str("table", chTable).Err(err).Msg("could not fetch existing ids")
		return ids
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// WriteData evolves the destination's column set additively for any
// observed column the current schema does not yet carry, applies the
// family's duplicate-suppression policy, then inserts in sub-batches of
// defaultWriteBatchSize.
func (a *ClickHouseAdapter) WriteData(ctx context.Context, tableID string, batch models.Batch, sourceKind string, primaryKey []string) (int, error) {
	if len(batch.Records) == 0 {
		return 0, nil
	}
	chTable := destinationTableName(tableID, sourceKind)
	family := classify(tableID, sourceKind)

	colMap := a.columnMaps[tableID]
	if colMap == nil {
		colMap = make(map[string]string)
		a.columnMaps[tableID] = colMap
	}

	usedNames := make(map[string]struct{})
	for _, v := range colMap {
		usedNames[v] = struct{}{}
	}
	idField := "id"
	if family == familyWorkItemRevisioned || family == familyWorkItemLoadTime {
		idField = "work_item_id"
		usedNames["rev"] = struct{}{}
	}
	usedNames[idField] = struct{}{}
	usedNames["load_time"] = struct{}{}

	var fieldNames []string
	fieldSet := map[string]struct{}{}
	for _, rec := range batch.Records {
		for k := range rec {
			if k == idField || k == "rev" {
				continue
			}
			if _, ok := fieldSet[k]; !ok {
				fieldSet[k] = struct{}{}
				fieldNames = append(fieldNames, k)
			}
		}
	}
	sort.Strings(fieldNames)

	for _, f := range fieldNames {
		if _, ok := colMap[f]; !ok {
			colMap[f] = sanitizeColumnName(f, usedNames)
		}
	}

	existing, err := a.describeColumns(ctx, chTable)
	if err == nil {
		for _, f := range fieldNames {
			sanitized := colMap[f]
			if _, present := existing[sanitized]; !present {
				alterSQL := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s Nullable(String)",
					quoteIdent(chTable), quoteIdent(sanitized))
				if err := a.conn.Exec(ctx, alterSQL); err != nil {
					log.Warn().Str("table", tableID).Str("column", sanitized).Err(err).Msg("could not add column")
				}
			}
		}
	}

	records := batch.Records
	if family == familyCRMModule {
		ids := a.existingIDs(ctx, chTable)
		var fresh []models.Record
		for _, rec := range records {
			id := fmt.Sprintf("%v", rec["id"])
			if _, dup := ids[id]; !dup {
				fresh = append(fresh, rec)
			}
		}
		if len(fresh) < len(records) {
			log.Info().Str("table", tableID).Int("skipped", len(records)-len(fresh)).Msg("skipping duplicate records already present in sink")
		}
		records = fresh
	}
	if len(records) == 0 {
		return 0, nil
	}

	columnNames := []string{idField}
	if family == familyWorkItemRevisioned {
		columnNames = append(columnNames, "rev")
	}
	for _, f := range fieldNames {
		columnNames = append(columnNames, colMap[f])
	}
	hasLoadTime := family == familyCRMModule || family == familyWorkItemLoadTime
	if hasLoadTime {
		columnNames = append(columnNames, "load_time")
	}

	written := 0
	for start := 0; start < len(records); start += defaultWriteBatchSize {
		end := start + defaultWriteBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		n, err := a.insertChunk(ctx, chTable, columnNames, idField, fieldNames, colMap, family, hasLoadTime, chunk)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (a *ClickHouseAdapter) insertChunk(ctx context.Context, chTable string, columnNames []string, idField string, fieldNames []string, colMap map[string]string, family tableFamily, hasLoadTime bool, records []models.Record) (int, error) {
	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = nil
		b, err := a.conn.PrepareBatch(ctx, "INSERT INTO "+quoteIdent(chTable)+" ("+strings.Join(quoteAll(columnNames), ", ")+")")
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(3+attempt*3) * time.Second)
			continue
		}
		for _, rec := range records {
			row := make([]interface{}, 0, len(columnNames))
			row = append(row, fmt.Sprintf("%v", rec[idField]))
			if family == familyWorkItemRevisioned {
				row = append(row, revValue(rec["rev"]))
			}
			for _, f := range fieldNames {
				row = append(row, normalizeValue(rec[f]))
			}
			if hasLoadTime {
				row = append(row, time.Now())
			}
			if err := b.Append(row...); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			if err := b.Send(); err != nil {
				lastErr = err
			} else {
				return len(records), nil
			}
		}
		log.Warn().Str("table", chTable).Int("attempt", attempt+1).Err(lastErr).Msg("insert batch failed, retrying")
		time.Sleep(time.Duration(3+attempt*3) * time.Second)
	}
	return 0, fmt.Errorf("insert into %s after %d attempts: %w: %v", chTable, maxRetries+1, migerr.ErrSinkWrite, lastErr)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

func revValue(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		var n int64
		fmt.Sscanf(val, "%d", &n)
		return n
	default:
		return 0
	}
}

// normalizeValue coerces a record value into something the ClickHouse
// driver accepts for a Nullable(String)/String column.
func normalizeValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		return val
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// CreateIndexes, CreateUniqueConstraints, and CreateForeignKeys are no-ops:
// ClickHouse has no equivalent of relational secondary indexes/constraints
// in the sense the pipeline engine requests them, and MergeTree's implicit
// primary-key sparse index already comes from ORDER BY at create time.
func (a *ClickHouseAdapter) CreateIndexes(ctx context.Context, tableID string, indexes []models.IndexDescriptor) error {
	return nil
}

func (a *ClickHouseAdapter) CreateUniqueConstraints(ctx context.Context, tableID string, uniques [][]string) error {
	return nil
}

func (a *ClickHouseAdapter) CreateForeignKeys(ctx context.Context, tableID string, fks []models.ForeignKey) error {
	return nil
}
