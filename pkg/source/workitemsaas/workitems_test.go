package workitemsaas

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripVendorPrefix(t *testing.T) {
	assert.Equal(t, "AreaPath", stripVendorPrefix("System.AreaPath"))
	assert.Equal(t, "Priority", stripVendorPrefix("Microsoft.VSTS.Common.Priority"))
	assert.Equal(t, "Effort", stripVendorPrefix("Microsoft.VSTS.Scheduling.Effort"))
	assert.Equal(t, "ScrumTeam", stripVendorPrefix("Custom.ScrumTeam"))
	assert.Equal(t, "Foo_Bar", stripVendorPrefix("Foo.Bar"))
}

func TestFlattenFieldsExpandsUserObjects(t *testing.T) {
	fields := map[string]interface{}{
		"System.Title": "Fix the thing",
		"System.AssignedTo": map[string]interface{}{
			"displayName": "Ada Lovelace",
			"uniqueName":  "ada@example.com",
		},
	}
	rec := flattenFields(fields)
	assert.Equal(t, "Fix the thing", rec["Title"])
	assert.Equal(t, "Ada Lovelace", rec["AssignedTo_displayName"])
	assert.Equal(t, "ada@example.com", rec["AssignedTo_uniqueName"])
}

func TestExtractMainRecordTruncatesDescription(t *testing.T) {
	longDesc := strings.Repeat("x", 2000)
	workItem := map[string]interface{}{
		"id": float64(42),
		"fields": map[string]interface{}{
			"System.Description": longDesc,
			"System.Title":       "T",
		},
	}
	rec := extractMainRecord(workItem)
	assert.Equal(t, "42", rec["id"])
	assert.Len(t, rec["Description"].(string), 1000)
}

func TestExtractRelationsDerivesIDFromURL(t *testing.T) {
	workItem := map[string]interface{}{
		"id": float64(1),
		"relations": []interface{}{
			map[string]interface{}{
				"rel": "System.LinkTypes.Related",
				"url": "https://dev.azure.com/org/_apis/wit/workItems/99",
			},
		},
	}
	recs := extractRelations(workItem)
	assert.Len(t, recs, 1)
	assert.Equal(t, "99", recs[0]["related_work_item_id"])
}

func TestExtractRelationsEmptyYieldsPlaceholderRow(t *testing.T) {
	workItem := map[string]interface{}{"id": float64(7)}
	recs := extractRelations(workItem)
	assert.Len(t, recs, 1)
	assert.Equal(t, "7", recs[0]["work_item_id"])
	assert.Nil(t, recs[0]["relation_type"])
}

func TestWorkItemIDHandlesFloatAndString(t *testing.T) {
	assert.Equal(t, "42", workItemID(map[string]interface{}{"id": float64(42)}))
	assert.Equal(t, "abc", workItemID(map[string]interface{}{"id": "abc"}))
}
