package olap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source/workitemsaas"
)

func TestMapSemanticType(t *testing.T) {
	assert.Equal(t, "Int32", mapSemanticType(models.TypeInt32))
	assert.Equal(t, "Decimal64(2)", mapSemanticType(models.TypeDecimal))
	assert.Equal(t, "UInt8", mapSemanticType(models.TypeBool))
	assert.Equal(t, "DateTime", mapSemanticType(models.TypeTimestamp))
	assert.Equal(t, "UUID", mapSemanticType(models.TypeUUID))
	assert.Equal(t, "String", mapSemanticType(models.TypeJSON))
	assert.Equal(t, "String", mapSemanticType(models.SemanticType("bogus")))
}

func TestSanitizeColumnName(t *testing.T) {
	used := map[string]struct{}{}
	assert.Equal(t, "custom_field", sanitizeColumnName("Custom Field", used))
	assert.Equal(t, "_1_two", sanitizeColumnName("1.two", used))

	used = map[string]struct{}{"name": {}}
	assert.Equal(t, "name_1", sanitizeColumnName("Name", used))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, familyCRMModule, classify("Leads", SourceKindCRMSaaS))
	assert.Equal(t, familyDimension, classify(workitemsaas.TableProjects, SourceKindWorkItemSaaS))
	assert.Equal(t, familyWorkItemMain, classify(workitemsaas.TableMain, SourceKindWorkItemSaaS))
	assert.Equal(t, familyWorkItemRevisioned, classify(workitemsaas.TableUpdates, SourceKindWorkItemSaaS))
	assert.Equal(t, familyWorkItemLoadTime, classify(workitemsaas.TableComments, SourceKindWorkItemSaaS))
	assert.Equal(t, familyGeneric, classify("orders", SourceKindRelational))
}

func TestDestinationTableName(t *testing.T) {
	assert.Equal(t, workitemsaas.TableMain, destinationTableName(workitemsaas.TableMain, SourceKindWorkItemSaaS))
	assert.Equal(t, "zoho_leads", destinationTableName("Leads", SourceKindCRMSaaS))
	assert.Equal(t, "HR_orders", destinationTableName("orders", SourceKindRelational))
}

func TestMapTypesForcesCRMColumnsToNullableString(t *testing.T) {
	a := &ClickHouseAdapter{}
	src := models.TableSchema{
		Table: "Leads",
		Columns: []models.ColumnDescriptor{
			{Name: "id", Type: models.TypeString, Nullable: false},
			{Name: "Revenue", Type: models.TypeFloat64, Nullable: true},
		},
	}
	out := a.MapTypes(src, SourceKindCRMSaaS)
	assert.Equal(t, "String", out.Columns[0].FullType)
	assert.Equal(t, "Nullable(String)", out.Columns[1].FullType)
}

func TestRevValue(t *testing.T) {
	assert.Equal(t, int64(5), revValue(5))
	assert.Equal(t, int64(5), revValue(float64(5)))
	assert.Equal(t, int64(5), revValue("5"))
	assert.Equal(t, int64(0), revValue(nil))
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, normalizeValue(nil))
	assert.Equal(t, "42", normalizeValue(42))
	assert.Equal(t, "abc", normalizeValue("abc"))
}
