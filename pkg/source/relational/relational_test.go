package relational

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saadactin/migrator/pkg/models"
)

func TestMapPostgresType(t *testing.T) {
	cases := map[string]models.SemanticType{
		"smallint":                    models.TypeInt16,
		"integer":                     models.TypeInt32,
		"bigint":                      models.TypeInt64,
		"numeric":                     models.TypeDecimal,
		"boolean":                     models.TypeBool,
		"character varying":           models.TypeString,
		"text":                        models.TypeText,
		"timestamp without time zone": models.TypeTimestamp,
		"uuid":                        models.TypeUUID,
		"jsonb":                       models.TypeJSON,
		"something_unknown":           models.TypeString,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapPostgresType(in), in)
	}
}

func TestMapMySQLType(t *testing.T) {
	assert.Equal(t, models.TypeInt32, mapMySQLType("int"))
	assert.Equal(t, models.TypeInt64, mapMySQLType("bigint"))
	assert.Equal(t, models.TypeText, mapMySQLType("longtext"))
	assert.Equal(t, models.TypeTimestamp, mapMySQLType("datetime"))
	assert.Equal(t, models.TypeJSON, mapMySQLType("json"))
}

func TestMapMSSQLType(t *testing.T) {
	assert.Equal(t, models.TypeUUID, mapMSSQLType("uniqueidentifier"))
	assert.Equal(t, models.TypeDecimal, mapMSSQLType("money"))
	assert.Equal(t, models.TypeTimestamp, mapMSSQLType("datetime2"))
}

func TestSplitSchemaTable(t *testing.T) {
	schema, table := splitSchemaTable("public.orders")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "orders", table)

	schema, table = splitSchemaTable("orders")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "orders", table)
}

func TestMSSQLSplitSchemaTable(t *testing.T) {
	schema, table := mssqlSplitSchemaTable("sales.orders")
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", table)

	schema, table = mssqlSplitSchemaTable("orders")
	assert.Equal(t, "dbo", schema)
	assert.Equal(t, "orders", table)
}

func TestFullTypeString(t *testing.T) {
	maxLen := 255
	assert.Equal(t, "varchar(255)", fullTypeString("varchar", &maxLen, nil, nil))

	precision, scale := 10, 2
	assert.Equal(t, "numeric(10,2)", fullTypeString("numeric", nil, &precision, &scale))

	assert.Equal(t, "int", fullTypeString("int", nil, nil, nil))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, quoteIdent("orders"))
	assert.Equal(t, `"weird""name"`, quoteIdent(`weird"name`))
}
