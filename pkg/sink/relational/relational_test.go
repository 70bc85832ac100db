package relational

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
)

func TestSanitizeColumnName(t *testing.T) {
	assert.Equal(t, "Order_Total", sanitizeColumnName("Order.Total"))
	assert.Equal(t, "_1field", sanitizeColumnName("1field"))
	assert.Equal(t, "field", sanitizeColumnName(""))
}

func TestTruncateIdentifier(t *testing.T) {
	short := "orders"
	assert.Equal(t, short, truncateIdentifier(short, 64))

	long := "a_very_long_constraint_name_that_definitely_exceeds_the_sixty_four_char_limit"
	out := truncateIdentifier(long, 64)
	assert.Len(t, out, 64)
	assert.True(t, len(out) <= 64)

	// Same long name truncates deterministically to the same value.
	assert.Equal(t, out, truncateIdentifier(long, 64))
}

func TestTranslateDefault(t *testing.T) {
	expr, ok := translateDefault("nextval('orders_id_seq'::regclass)", "CURRENT_TIMESTAMP")
	assert.False(t, ok)
	assert.Empty(t, expr)

	expr, ok = translateDefault("now()", "CURRENT_TIMESTAMP")
	assert.True(t, ok)
	assert.Equal(t, "CURRENT_TIMESTAMP", expr)

	expr, ok = translateDefault("true", "CURRENT_TIMESTAMP")
	assert.True(t, ok)
	assert.Equal(t, "TRUE", expr)

	expr, ok = translateDefault("'active'::character varying", "CURRENT_TIMESTAMP")
	assert.True(t, ok)
	assert.Equal(t, "'active'", expr)

	expr, ok = translateDefault("42", "CURRENT_TIMESTAMP")
	assert.True(t, ok)
	assert.Equal(t, "42", expr)
}

func TestNormalizeValueForWrite(t *testing.T) {
	assert.Nil(t, normalizeValueForWrite(nil))
	assert.Equal(t, `{"a":1}`, normalizeValueForWrite(map[string]interface{}{"a": 1}))
	assert.Equal(t, 42, normalizeValueForWrite(42))
}

func TestPostgresColumnType(t *testing.T) {
	assert.Equal(t, "BIGINT", postgresColumnType(models.ColumnDescriptor{Type: models.TypeInt64}))
	assert.Equal(t, "NUMERIC(10,2)", postgresColumnType(models.ColumnDescriptor{Type: models.TypeDecimal, Precision: 10, Scale: 2}))
	assert.Equal(t, "VARCHAR(255)", postgresColumnType(models.ColumnDescriptor{Type: models.TypeString}))
	assert.Equal(t, "JSONB", postgresColumnType(models.ColumnDescriptor{Type: models.TypeJSON}))
}

func TestMySQLColumnType(t *testing.T) {
	assert.Equal(t, "INT", mysqlColumnType(models.ColumnDescriptor{Type: models.TypeInt32}))
	assert.Equal(t, "DECIMAL(65,30)", mysqlColumnType(models.ColumnDescriptor{Type: models.TypeDecimal}))
	assert.Equal(t, "JSON", mysqlColumnType(models.ColumnDescriptor{Type: models.TypeArray}))
}

func TestMSSQLColumnType(t *testing.T) {
	assert.Equal(t, "UNIQUEIDENTIFIER", mssqlColumnType(models.ColumnDescriptor{Type: models.TypeUUID}))
	assert.Equal(t, "NVARCHAR(MAX)", mssqlColumnType(models.ColumnDescriptor{Type: models.TypeText}))
	assert.Equal(t, "BIT", mssqlColumnType(models.ColumnDescriptor{Type: models.TypeBool}))
}

func TestSteppedBackOffReplaysFixedSchedule(t *testing.T) {
	b := &steppedBackOff{delays: []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second}}
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 6*time.Second, b.NextBackOff())
	assert.Equal(t, 9*time.Second, b.NextBackOff())
}

func TestWriteRowWithRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := writeRowWithRetry(context.Background(), "orders", func() error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("deadlock: %w", migerr.ErrTransientNetwork)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWriteRowWithRetryStopsImmediatelyOnPermanentError(t *testing.T) {
	attempts := 0
	err := writeRowWithRetry(context.Background(), "orders", func() error {
		attempts++
		return fmt.Errorf("constraint violation: %w", migerr.ErrPermanentSource)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
