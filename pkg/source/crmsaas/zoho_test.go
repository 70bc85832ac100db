package crmsaas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadactin/migrator/pkg/auth"
)

func newTestAdapter(t *testing.T, apiSrv *httptest.Server) *CRMAdapter {
	t.Helper()
	provider := auth.NewOAuth2RefreshProvider("client", "secret", "refresh", apiSrv.URL)
	return &CRMAdapter{httpClient: apiSrv.Client(), provider: provider, apiDomain: apiSrv.URL}
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, normalizeValue(nil))
	assert.Equal(t, "42", normalizeValue(42))
	assert.Equal(t, `{"a":1}`, normalizeValue(map[string]interface{}{"a": 1}))
}

func TestListTablesSortsModuleNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/crm/v8/settings/modules":
			assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"modules": []map[string]string{{"api_name": "Leads"}, {"api_name": "Accounts"}},
			})
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv)
	tables, err := a.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Accounts", "Leads"}, tables)
}

func TestReadDataPaginatesUntilNoMoreRecords(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/crm/v2/Leads":
			page++
			more := page == 1
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{"id": "1", "Name": "A"}},
				"info": map[string]interface{}{"more_records": more},
			})
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv)
	it, err := a.ReadData(context.Background(), "Leads", 200)
	require.NoError(t, err)

	batch1, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, batch1.Records, 1)

	batch2, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, batch2.Records, 1)

	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, page)
}

func TestReadIncrementalUsesSearchCriteria(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/crm/v2/Leads/search":
			assert.Equal(t, "(Modified_Time:greater_than:2026-01-01T00:00:00+00:00)", r.URL.Query().Get("criteria"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{"id": "1"}},
				"info": map[string]interface{}{"more_records": false},
			})
		}
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv)
	it, err := a.ReadIncremental(context.Background(), "Leads", "2026-01-01T00:00:00Z", 200)
	require.NoError(t, err)
	batch, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, batch.Records, 1)
}
