package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorIncrementsAndServes(t *testing.T) {
	c := New()
	c.RunsStarted.Inc()
	c.TablesMigrated.Add(3)
	c.TablesFailed.Inc()
	c.RecordsWritten.Add(42)
	c.RunDuration.Observe(1.5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "migrator_runs_started_total 1")
	assert.Contains(t, body, "migrator_tables_migrated_total 3")
	assert.Contains(t, body, "migrator_records_written_total 42")
}

func TestNewCollectorsAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.RunsStarted.Inc()
	assert.NotPanics(t, func() { b.Handler() })
}
