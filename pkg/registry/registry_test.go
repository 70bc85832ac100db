package registry

import (
	"context"
	"testing"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Connect(ctx context.Context, config map[string]interface{}) error { return nil }
func (stubSource) Disconnect(ctx context.Context) error                             { return nil }
func (stubSource) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	return true
}
func (stubSource) ListTables(ctx context.Context) ([]string, error) { return nil, nil }
func (stubSource) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	return models.TableSchema{}, nil
}
func (stubSource) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	return nil, nil
}
func (stubSource) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
	return nil, nil
}

func TestRegistryLookupAndUnknownKind(t *testing.T) {
	r := New()
	r.RegisterSource("stub", func(cfg map[string]interface{}) (source.Adapter, error) {
		return stubSource{}, nil
	})
	r.Freeze()

	a, err := r.NewSource("stub", nil)
	require.NoError(t, err)
	assert.NotNil(t, a)

	_, err = r.NewSource("nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, migerr.ErrUnknownAdapter)

	assert.Equal(t, []string{"stub"}, r.ListSources())
	assert.Empty(t, r.ListSinks())
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := New()
	r.Freeze()
	assert.Panics(t, func() {
		r.RegisterSink("x", func(cfg map[string]interface{}) (sink.Adapter, error) { return nil, nil })
	})
}
