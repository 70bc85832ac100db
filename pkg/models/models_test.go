package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicies(t *testing.T) {
	table := DefaultTableRetryPolicy()
	assert.Equal(t, 3, table.MaxAttempts)

	write := DefaultWriteRetryPolicy()
	assert.Equal(t, 3, write.MaxAttempts)
	assert.NotEqual(t, table.Delay, write.Delay)
}

func TestRunResultSuccessInvariant(t *testing.T) {
	// I5: success iff tables_failed is empty.
	r := RunResult{
		TablesMigrated: []TableResult{{Table: "a", Records: 10}},
		TablesFailed:   nil,
	}
	r.Success = len(r.TablesFailed) == 0
	r.TotalTables = len(r.TablesMigrated) + len(r.TablesFailed)
	assert.True(t, r.Success)
	assert.Equal(t, 1, r.TotalTables)

	r.TablesFailed = []TableFailure{{Table: "b", Error: "boom", ErrorType: "sink write error"}}
	r.Success = len(r.TablesFailed) == 0
	assert.False(t, r.Success)
}
