// Package crmsaas implements source.Adapter for the CRM SaaS source (a
// Zoho CRM-shaped REST API): OAuth2 refresh-token auth, per-module field
// metadata as schema, and a page/per_page cursor as the batch iterator.
// Every field is reported as a string — the CRM API returns a loosely
// typed JSON document per record, and this adapter defers type decisions
// to the sink rather than guessing from sampled values.
package crmsaas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/auth"
	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source"
)

const defaultBatchSize = 200

// CRMAdapter is a source.Adapter for the CRM SaaS source. It deliberately
// does not implement source.ConstraintDescriber: the API has no concept
// of primary keys, foreign keys, or indexes beyond the "id" field every
// module carries.
type CRMAdapter struct {
	httpClient *http.Client
	provider   *auth.OAuth2RefreshProvider
	apiDomain  string
}

// NewCRMAdapter satisfies source.Constructor.
func NewCRMAdapter(config map[string]interface{}) (source.Adapter, error) {
	return &CRMAdapter{httpClient: &http.Client{Timeout: 120 * time.Second}}, nil
}

func crmCreds(config map[string]interface{}) (refreshToken, clientID, clientSecret, apiDomain string, err error) {
	refreshToken, _ = config["refresh_token"].(string)
	clientID, _ = config["client_id"].(string)
	clientSecret, _ = config["client_secret"].(string)
	apiDomain, _ = config["api_domain"].(string)
	if refreshToken == "" || clientID == "" || clientSecret == "" {
		return "", "", "", "", fmt.Errorf("crm source requires refresh_token, client_id, client_secret: %w", migerr.ErrConfiguration)
	}
	return refreshToken, clientID, clientSecret, apiDomain, nil
}

func (a *CRMAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	refreshToken, clientID, clientSecret, apiDomain, err := crmCreds(config)
	if err != nil {
		return err
	}
	a.provider = auth.NewOAuth2RefreshProvider(clientID, clientSecret, refreshToken, apiDomain)
	creds, err := a.provider.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("connect crm source: %w: %v", migerr.ErrConnection, err)
	}
	a.apiDomain = creds.APIDomain
	log.Info().Str("kind", "crm-source").Msg("connected")
	return nil
}

func (a *CRMAdapter) Disconnect(ctx context.Context) error {
	if a.provider != nil {
		_ = a.provider.Close()
	}
	a.provider = nil
	return nil
}

func (a *CRMAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	refreshToken, clientID, clientSecret, apiDomain, err := crmCreds(config)
	if err != nil {
		return false
	}
	p := auth.NewOAuth2RefreshProvider(clientID, clientSecret, refreshToken, apiDomain)
	_, err = p.Refresh(ctx)
	return err == nil
}

func (a *CRMAdapter) authHeader(ctx context.Context) (string, error) {
	creds, err := a.provider.GetCredentials(ctx)
	if err != nil {
		return "", err
	}
	return "Zoho-oauthtoken " + creds.AccessToken, nil
}

// ListTables returns every module's API name, fetched from the settings
// endpoint and sorted for deterministic run order.
func (a *CRMAdapter) ListTables(ctx context.Context) ([]string, error) {
	header, err := a.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiDomain+"/crm/v8/settings/modules", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list crm modules: %w: %v", migerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list crm modules returned %d: %w", resp.StatusCode, migerr.ErrPermanentSource)
	}

	var body struct {
		Modules []struct {
			APIName string `json:"api_name"`
		} `json:"modules"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode crm modules: %w", err)
	}

	var names []string
	for _, m := range body.Modules {
		if m.APIName != "" {
			names = append(names, m.APIName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetSchema fetches the module's field metadata and reports every field as
// a nullable string plus the always-present "id" field.
func (a *CRMAdapter) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	header, err := a.authHeader(ctx)
	if err != nil {
		return models.TableSchema{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiDomain+"/crm/v2/settings/modules/"+tableID, nil)
	if err != nil {
		return models.TableSchema{}, err
	}
	req.Header.Set("Authorization", header)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.TableSchema{}, fmt.Errorf("get crm schema %s: %w: %v", tableID, migerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("table", tableID).Int("status", resp.StatusCode).Msg("could not fetch field metadata, falling back to id-only schema")
		return fallbackSchema(tableID), nil
	}

	var body struct {
		Modules []struct {
			Fields []struct {
				APIName string `json:"api_name"`
			} `json:"fields"`
		} `json:"modules"`
		Fields []struct {
			APIName string `json:"api_name"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fallbackSchema(tableID), nil
	}

	fieldSet := map[string]struct{}{"id": {}}
	if len(body.Modules) > 0 {
		for _, f := range body.Modules[0].Fields {
			if f.APIName != "" {
				fieldSet[f.APIName] = struct{}{}
			}
		}
	}
	for _, f := range body.Fields {
		if f.APIName != "" {
			fieldSet[f.APIName] = struct{}{}
		}
	}

	names := make([]string, 0, len(fieldSet))
	for n := range fieldSet {
		names = append(names, n)
	}
	sort.Strings(names)

	schema := models.TableSchema{Table: tableID}
	for _, n := range names {
		schema.Columns = append(schema.Columns, models.ColumnDescriptor{
			Name:     n,
			Type:     models.TypeString,
			Nullable: n != "id",
			FullType: "string",
		})
	}
	return schema, nil
}

func fallbackSchema(tableID string) models.TableSchema {
	return models.TableSchema{
		Table: tableID,
		Columns: []models.ColumnDescriptor{
			{Name: "id", Type: models.TypeString, Nullable: false, FullType: "string"},
		},
	}
}

// normalizeValue flattens nested JSON values to strings: the sink's
// column type is always string for this source, so compound values are
// re-encoded as JSON text rather than exploded into columns.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type crmBatchIterator struct {
	adapter   *CRMAdapter
	table     string
	page      int
	batchSize int
	watermark string
	done      bool
}

func (it *crmBatchIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.done {
		return models.Batch{}, false, nil
	}

	const maxRetries = 3
	const retryDelay = 2 * time.Second
	// wait sleeps 2s, 4s, then 6s after the first, second and third failed
	// attempt; the fourth and last attempt is not followed by a wait.
	wait := func(attempt int) {
		if attempt < maxRetries {
			time.Sleep(retryDelay * time.Duration(attempt+1))
		}
	}

	header, err := it.adapter.authHeader(ctx)
	if err != nil {
		return models.Batch{}, false, err
	}

	// Plain module listing for a full read; the search endpoint with a
	// Modified_Time criteria filter for an incremental one. Zoho doesn't
	// support this filter on the listing endpoint itself.
	endpoint := it.adapter.apiDomain + "/crm/v2/" + it.table
	if it.watermark != "" {
		endpoint += "/search"
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return models.Batch{}, false, err
		}
		req.Header.Set("Authorization", header)
		q := req.URL.Query()
		q.Set("page", fmt.Sprintf("%d", it.page))
		q.Set("per_page", fmt.Sprintf("%d", it.batchSize))
		if it.watermark != "" {
			q.Set("criteria", fmt.Sprintf("(Modified_Time:greater_than:%s)", it.watermark))
		}
		req.URL.RawQuery = q.Encode()

		resp, err := it.adapter.httpClient.Do(req)
		if err != nil {
			lastErr = err
			wait(attempt)
			continue
		}

		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			it.done = true
			return models.Batch{}, false, nil
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			log.Warn().Str("table", it.table).Msg("crm token expired mid-read, refreshing")
			creds, rerr := it.adapter.provider.Refresh(ctx)
			if rerr != nil {
				return models.Batch{}, false, fmt.Errorf("refresh during read: %w", rerr)
			}
			header = "Zoho-oauthtoken " + creds.AccessToken
			wait(attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("crm read %s page %d returned %d", it.table, it.page, resp.StatusCode)
			wait(attempt)
			continue
		}

		var body struct {
			Data []map[string]interface{} `json:"data"`
			Info struct {
				MoreRecords bool `json:"more_records"`
			} `json:"info"`
		}
		decErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decErr != nil {
			return models.Batch{}, false, fmt.Errorf("decode crm page: %w", decErr)
		}

		if len(body.Data) == 0 {
			it.done = true
			return models.Batch{}, false, nil
		}

		records := make([]models.Record, 0, len(body.Data))
		for _, raw := range body.Data {
			rec := make(models.Record, len(raw))
			for k, v := range raw {
				rec[k] = normalizeValue(v)
			}
			records = append(records, rec)
		}

		if !body.Info.MoreRecords {
			it.done = true
		} else {
			it.page++
		}

		return models.Batch{Table: it.table, Records: records}, true, nil
	}

	return models.Batch{}, false, fmt.Errorf("crm read %s page %d failed after %d attempts: %w: %v",
		it.table, it.page, maxRetries+1, migerr.ErrTransientNetwork, lastErr)
}

func (a *CRMAdapter) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &crmBatchIterator{adapter: a, table: tableID, page: 1, batchSize: batchSize}, nil
}

// ReadIncremental filters server-side on Zoho's search criteria API
// rather than the plain listing endpoint, scoped to records modified
// after watermark. The filter value carries an explicit timezone offset
// rather than a "Z" suffix, which Zoho's Modified_Time criteria requires.
func (a *CRMAdapter) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	ts, err := time.Parse(time.RFC3339, watermark)
	if err != nil {
		return nil, fmt.Errorf("watermark %q not RFC3339: %w", watermark, migerr.ErrConfiguration)
	}
	return &crmBatchIterator{
		adapter:   a,
		table:     tableID,
		page:      1,
		batchSize: batchSize,
		watermark: ts.Format("2006-01-02T15:04:05-07:00"),
	}, nil
}
