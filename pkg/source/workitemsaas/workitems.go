// Package workitemsaas implements source.Adapter for the work-item SaaS
// source (an Azure DevOps-shaped REST API): PAT/Basic auth, a fixed
// 7-table schema (projects, teams, work items, updates, comments,
// relations, revisions), and dotted-field flattening with vendor-prefix
// stripping for every record pulled off a work item.
package workitemsaas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/auth"
	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/models"
	"github.com/saadactin/migrator/pkg/source"
)

// Fixed table set this source exposes, in the order ListTables reports
// them — projects and teams first since work items reference them.
const (
	TableProjects  = "DEVOPS_PROJECTS"
	TableTeams     = "DEVOPS_TEAMS"
	TableMain      = "DEVOPS_WORKITEMS_MAIN"
	TableUpdates   = "DEVOPS_WORKITEMS_UPDATES"
	TableComments  = "DEVOPS_WORKITEMS_COMMENTS"
	TableRelations = "DEVOPS_WORKITEMS_RELATIONS"
	TableRevisions = "DEVOPS_WORKITEMS_REVISIONS"
)

const projectsTeamsAPIVersion = "7.1-preview.3"

// vendorPrefixes are stripped, longest first, from a work-item field's API
// name before it becomes a column name: "Microsoft.VSTS.Common.Priority"
// becomes "Priority", "Custom.ScrumTeam" becomes "ScrumTeam".
var vendorPrefixes = []string{
	"Microsoft.VSTS.Common.",
	"Microsoft.VSTS.Scheduling.",
	"Microsoft.VSTS.",
	"System.",
	"Custom.",
}

func stripVendorPrefix(fieldName string) string {
	for _, prefix := range vendorPrefixes {
		if strings.HasPrefix(fieldName, prefix) {
			return fieldName[len(prefix):]
		}
	}
	return strings.ReplaceAll(fieldName, ".", "_")
}

// WorkItemAdapter is a source.Adapter for the work-item SaaS source. It
// does not implement source.ConstraintDescriber — the API carries no
// relational catalog; primary keys and relationships are domain-specific
// (work_item_id, rev) that each table schema already names explicitly.
type WorkItemAdapter struct {
	httpClient   *http.Client
	provider     *auth.PATProvider
	organization string
	apiVersion   string
	apiBaseURL   string
	projects     []project
}

type project struct {
	ID   string
	Name string
}

// NewWorkItemAdapter satisfies source.Constructor.
func NewWorkItemAdapter(config map[string]interface{}) (source.Adapter, error) {
	return &WorkItemAdapter{httpClient: &http.Client{Timeout: 120 * time.Second}, apiVersion: "7.1"}, nil
}

func workItemConfig(config map[string]interface{}) (token, org, apiVersion string, err error) {
	token, _ = config["access_token"].(string)
	org, _ = config["organization"].(string)
	apiVersion, _ = config["api_version"].(string)
	if apiVersion == "" {
		apiVersion = "7.1"
	}
	if token == "" || org == "" {
		return "", "", "", fmt.Errorf("work-item source requires access_token, organization: %w", migerr.ErrConfiguration)
	}
	return token, org, apiVersion, nil
}

func (a *WorkItemAdapter) authHeader() string {
	creds, _ := a.provider.GetCredentials(context.Background())
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+creds.AccessToken))
}

func (a *WorkItemAdapter) Connect(ctx context.Context, config map[string]interface{}) error {
	token, org, apiVersion, err := workItemConfig(config)
	if err != nil {
		return err
	}
	a.provider = auth.NewPATProvider(token)
	a.organization = org
	a.apiVersion = apiVersion
	a.apiBaseURL = "https://dev.azure.com/" + org

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBaseURL+"/_apis/projects?api-version="+a.apiVersion, nil)
	req.Header.Set("Authorization", a.authHeader())
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect work-item source: %w: %v", migerr.ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect work-item source returned %d: %w", resp.StatusCode, migerr.ErrConnection)
	}
	log.Info().Str("kind", "workitem-source").Str("organization", org).Msg("connected")
	return nil
}

func (a *WorkItemAdapter) Disconnect(ctx context.Context) error {
	a.provider = nil
	a.projects = nil
	return nil
}

func (a *WorkItemAdapter) TestConnection(ctx context.Context, config map[string]interface{}) bool {
	token, org, apiVersion, err := workItemConfig(config)
	if err != nil {
		return false
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://dev.azure.com/"+org+"/_apis/projects?api-version="+apiVersion, nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+token)))
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *WorkItemAdapter) ListTables(ctx context.Context) ([]string, error) {
	return []string{TableProjects, TableTeams, TableMain, TableUpdates, TableComments, TableRelations, TableRevisions}, nil
}

func (a *WorkItemAdapter) GetSchema(ctx context.Context, tableID string) (models.TableSchema, error) {
	col := func(name string, t models.SemanticType, nullable bool) models.ColumnDescriptor {
		return models.ColumnDescriptor{Name: name, Type: t, Nullable: nullable, FullType: string(t)}
	}

	switch tableID {
	case TableProjects:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{
			col("id", models.TypeString, false),
			col("name", models.TypeString, true),
			col("description", models.TypeString, true),
			col("state", models.TypeString, true),
			col("revision", models.TypeInt64, true),
			col("lastUpdateTime", models.TypeString, true),
		}}, nil
	case TableTeams:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{
			col("id", models.TypeString, false),
			col("name", models.TypeString, true),
			col("description", models.TypeString, true),
			col("projectName", models.TypeString, true),
			col("projectId", models.TypeString, true),
		}}, nil
	case TableMain:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{col("id", models.TypeString, false)}}, nil
	case TableUpdates, TableRevisions:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{
			col("work_item_id", models.TypeString, false),
			col("rev", models.TypeInt64, true),
		}}, nil
	case TableComments:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{
			col("work_item_id", models.TypeString, false),
			col("comment_id", models.TypeString, true),
			col("text", models.TypeString, true),
			col("created_date", models.TypeString, true),
			col("created_by", models.TypeString, true),
			col("modified_date", models.TypeString, true),
			col("modified_by", models.TypeString, true),
			col("is_deleted", models.TypeInt64, true),
		}}, nil
	case TableRelations:
		return models.TableSchema{Table: tableID, Columns: []models.ColumnDescriptor{
			col("work_item_id", models.TypeString, false),
			col("relation_type", models.TypeString, true),
			col("related_work_item_id", models.TypeString, true),
			col("related_work_item_url", models.TypeString, true),
			col("attributes_name", models.TypeString, true),
		}}, nil
	default:
		return models.TableSchema{}, fmt.Errorf("unknown work-item table %q: %w", tableID, migerr.ErrConfiguration)
	}
}

// ReadIncremental has no native support — every call reads all work items,
// matching the original source's own documented limitation.
func (a *WorkItemAdapter) ReadIncremental(ctx context.Context, tableID, watermark string, batchSize int) (source.BatchIterator, error) {
	log.Warn().Str("table", tableID).Msg("incremental sync not supported for work-item source, reading all records")
	return a.ReadData(ctx, tableID, batchSize)
}

func (a *WorkItemAdapter) ReadData(ctx context.Context, tableID string, batchSize int) (source.BatchIterator, error) {
	switch tableID {
	case TableProjects:
		return &staticIterator{fetch: a.fetchAllProjectsFullData}, nil
	case TableTeams:
		return &staticIterator{fetch: a.fetchAllTeams}, nil
	case TableMain, TableUpdates, TableComments, TableRelations, TableRevisions:
		if batchSize <= 0 {
			batchSize = 1000
		}
		return &workItemIterator{adapter: a, table: tableID, batchSize: batchSize}, nil
	default:
		return nil, fmt.Errorf("unknown work-item table %q: %w", tableID, migerr.ErrConfiguration)
	}
}

// staticIterator yields a single batch computed lazily on first Next call —
// used for the projects/teams tables, each a single small org-wide list.
type staticIterator struct {
	fetch func(ctx context.Context) ([]models.Record, error)
	done  bool
}

func (it *staticIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if it.done {
		return models.Batch{}, false, nil
	}
	it.done = true
	records, err := it.fetch(ctx)
	if err != nil {
		return models.Batch{}, false, err
	}
	return models.Batch{Records: records}, len(records) > 0, nil
}

func (a *WorkItemAdapter) pagedList(ctx context.Context, baseURL string) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	skip := 0
	const top = 100
	for {
		u := fmt.Sprintf("%s&$skip=%d&$top=%d", baseURL, skip, top)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", a.authHeader())

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("paged list: %w: %v", migerr.ErrTransientNetwork, err)
		}
		var body struct {
			Value []map[string]interface{} `json:"value"`
		}
		decErr := json.NewDecoder(resp.Body).Decode(&body)
		status := resp.StatusCode
		resp.Body.Close()
		if status != http.StatusOK {
			return all, nil
		}
		if decErr != nil {
			return all, decErr
		}
		if len(body.Value) == 0 {
			break
		}
		all = append(all, body.Value...)
		if len(body.Value) < top {
			break
		}
		skip += top
	}
	return all, nil
}

func (a *WorkItemAdapter) fetchAllProjectsFullData(ctx context.Context) ([]models.Record, error) {
	items, err := a.pagedList(ctx, fmt.Sprintf("%s/_apis/projects?api-version=%s", a.apiBaseURL, projectsTeamsAPIVersion))
	if err != nil {
		return nil, err
	}
	var records []models.Record
	a.projects = a.projects[:0]
	for _, p := range items {
		name, _ := p["name"].(string)
		id, _ := p["id"].(string)
		if state, _ := p["state"].(string); strings.EqualFold(state, "wellFormed") && name != "" {
			a.projects = append(a.projects, project{ID: id, Name: name})
		}
		records = append(records, models.Record{
			"id":             id,
			"name":           name,
			"description":    p["description"],
			"state":          p["state"],
			"revision":       p["revision"],
			"lastUpdateTime": p["lastUpdateTime"],
		})
	}
	return records, nil
}

func (a *WorkItemAdapter) fetchAllTeams(ctx context.Context) ([]models.Record, error) {
	items, err := a.pagedList(ctx, fmt.Sprintf("%s/_apis/teams?api-version=%s", a.apiBaseURL, projectsTeamsAPIVersion))
	if err != nil {
		return nil, err
	}
	var records []models.Record
	for _, t := range items {
		records = append(records, models.Record{
			"id":          t["id"],
			"name":        t["name"],
			"description": t["description"],
			"projectName": t["projectName"],
			"projectId":   t["projectId"],
		})
	}
	return records, nil
}

func (a *WorkItemAdapter) ensureProjects(ctx context.Context) error {
	if a.projects != nil {
		return nil
	}
	_, err := a.fetchAllProjectsFullData(ctx)
	return err
}

func (a *WorkItemAdapter) fetchWorkItemIDs(ctx context.Context, projectName string) ([]string, error) {
	query := map[string]string{
		"query": fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' ORDER BY [System.Id]", projectName),
	}
	body, _ := json.Marshal(query)
	u := fmt.Sprintf("%s/%s/_apis/wit/wiql?api-version=%s", a.apiBaseURL, url.PathEscape(projectName), a.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", a.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiql query: %w: %v", migerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("project", projectName).Int("status", resp.StatusCode).Msg("wiql query failed")
		return nil, nil
	}

	var result struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.WorkItems))
	for _, w := range result.WorkItems {
		ids = append(ids, strconv.Itoa(w.ID))
	}
	return ids, nil
}

func (a *WorkItemAdapter) fetchWorkItemsBatch(ctx context.Context, projectName string, ids []string) ([]map[string]interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/%s/_apis/wit/workitems?ids=%s&$expand=all&api-version=%s",
		a.apiBaseURL, url.PathEscape(projectName), strings.Join(ids, ","), a.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", a.authHeader())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch work items batch: %w: %v", migerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("project", projectName).Int("status", resp.StatusCode).Msg("fetch work items batch failed")
		return nil, nil
	}

	var result struct {
		Value []map[string]interface{} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// workItemIterator walks every project's work items in batchSize chunks,
// emitting one models.Batch per chunk, extracted according to table.
type workItemIterator struct {
	adapter   *WorkItemAdapter
	table     string
	batchSize int

	projectIdx int
	ids        []string
	idPos      int
	started    bool
}

func (it *workItemIterator) Next(ctx context.Context) (models.Batch, bool, error) {
	if !it.started {
		if err := it.adapter.ensureProjects(ctx); err != nil {
			return models.Batch{}, false, err
		}
		it.started = true
	}

	for it.projectIdx < len(it.adapter.projects) {
		proj := it.adapter.projects[it.projectIdx]

		if it.ids == nil {
			ids, err := it.adapter.fetchWorkItemIDs(ctx, proj.Name)
			if err != nil {
				return models.Batch{}, false, err
			}
			it.ids = ids
			it.idPos = 0
			if len(it.ids) == 0 {
				it.ids = nil
				it.projectIdx++
				continue
			}
		}

		if it.idPos >= len(it.ids) {
			it.ids = nil
			it.projectIdx++
			continue
		}

		end := it.idPos + it.batchSize
		if end > len(it.ids) {
			end = len(it.ids)
		}
		chunk := it.ids[it.idPos:end]
		it.idPos = end

		workItems, err := it.adapter.fetchWorkItemsBatch(ctx, proj.Name, chunk)
		if err != nil {
			return models.Batch{}, false, err
		}

		var records []models.Record
		for _, wi := range workItems {
			records = append(records, it.extract(ctx, wi)...)
		}
		if len(records) == 0 {
			continue
		}
		return models.Batch{Table: it.table, Records: records}, true, nil
	}

	return models.Batch{}, false, nil
}

func (it *workItemIterator) extract(ctx context.Context, workItem map[string]interface{}) []models.Record {
	switch it.table {
	case TableMain:
		return []models.Record{extractMainRecord(workItem)}
	case TableUpdates:
		return it.adapter.extractUpdates(ctx, workItem)
	case TableComments:
		return it.adapter.extractComments(ctx, workItem)
	case TableRelations:
		return extractRelations(workItem)
	case TableRevisions:
		return it.adapter.extractRevisions(ctx, workItem)
	default:
		return nil
	}
}

func workItemID(workItem map[string]interface{}) string {
	switch id := workItem["id"].(type) {
	case float64:
		return strconv.FormatFloat(id, 'f', 0, 64)
	case string:
		return id
	default:
		return fmt.Sprintf("%v", id)
	}
}

func userDisplayName(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m["displayName"]
	}
	return nil
}

func userUniqueName(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m["uniqueName"]
	}
	return nil
}

// flattenFields strips vendor prefixes from every field name and expands
// user-object fields (displayName/uniqueName dicts) into two columns.
func flattenFields(fields map[string]interface{}) models.Record {
	out := models.Record{}
	for name, value := range fields {
		col := stripVendorPrefix(name)
		if m, ok := value.(map[string]interface{}); ok {
			if _, hasDisplay := m["displayName"]; hasDisplay {
				out[col+"_displayName"] = m["displayName"]
				out[col+"_uniqueName"] = m["uniqueName"]
				continue
			}
		}
		out[col] = value
	}
	return out
}

func extractMainRecord(workItem map[string]interface{}) models.Record {
	fields, _ := workItem["fields"].(map[string]interface{})
	rec := flattenFields(fields)
	rec["id"] = workItemID(workItem)
	if desc, ok := rec["Description"].(string); ok && len(desc) > 1000 {
		rec["Description"] = desc[:1000]
	}
	return rec
}

func linkHref(workItem map[string]interface{}, linkName string) string {
	links, _ := workItem["_links"].(map[string]interface{})
	if links == nil {
		return ""
	}
	link, _ := links[linkName].(map[string]interface{})
	if link == nil {
		return ""
	}
	href, _ := link["href"].(string)
	return href
}

func (a *WorkItemAdapter) getJSON(ctx context.Context, url string, out interface{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", a.authHeader())
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

// extractUpdates flattens the work item's revision-history feed into one
// row per update, forward-filling every column from the last update that
// set it — an update only carries the fields that changed, so the running
// state map is how a later row knows a field's current value.
func (a *WorkItemAdapter) extractUpdates(ctx context.Context, workItem map[string]interface{}) []models.Record {
	id := workItemID(workItem)
	href := linkHref(workItem, "workItemUpdates")
	if href == "" {
		return []models.Record{{"work_item_id": id, "rev": nil}}
	}

	var body struct {
		Value []map[string]interface{} `json:"value"`
	}
	if !a.getJSON(ctx, href, &body) || len(body.Value) == 0 {
		return []models.Record{{"work_item_id": id, "rev": nil}}
	}

	state := models.Record{}
	var records []models.Record
	for _, update := range body.Value {
		fieldsChanged, _ := update["fields"].(map[string]interface{})
		for name, change := range fieldsChanged {
			changeMap, ok := change.(map[string]interface{})
			if !ok {
				continue
			}
			newVal, hasNew := changeMap["newValue"]
			if !hasNew {
				continue
			}
			col := stripVendorPrefix(name)
			if m, ok := newVal.(map[string]interface{}); ok {
				if _, hasDisplay := m["displayName"]; hasDisplay {
					state[col+"_displayName"] = m["displayName"]
					state[col+"_uniqueName"] = m["uniqueName"]
					continue
				}
			}
			state[col] = newVal
		}

		row := models.Record{"work_item_id": id, "rev": update["rev"]}
		if display := userDisplayName(update["revisedBy"]); display != nil {
			row["revisedBy_displayName"] = display
		}
		if unique := userUniqueName(update["revisedBy"]); unique != nil {
			row["revisedBy_uniqueName"] = unique
		}
		if rd, ok := update["revisedDate"]; ok {
			row["revisedDate"] = rd
		}
		for k, v := range state {
			row[k] = v
		}
		records = append(records, row)
	}
	return records
}

func (a *WorkItemAdapter) extractComments(ctx context.Context, workItem map[string]interface{}) []models.Record {
	id := workItemID(workItem)
	href := linkHref(workItem, "workItemComments")
	if href == "" {
		return []models.Record{{"work_item_id": id, "comment_id": nil, "text": nil}}
	}

	var body struct {
		Comments []map[string]interface{} `json:"comments"`
		Value    []map[string]interface{} `json:"value"`
	}
	if !a.getJSON(ctx, href, &body) {
		return []models.Record{{"work_item_id": id, "comment_id": nil, "text": nil}}
	}
	comments := body.Comments
	if len(comments) == 0 {
		comments = body.Value
	}
	if len(comments) == 0 {
		return []models.Record{{"work_item_id": id, "comment_id": nil, "text": nil}}
	}

	var records []models.Record
	for _, c := range comments {
		text, _ := c["text"].(string)
		if len(text) > 2000 {
			text = text[:2000]
		}
		isDeleted := 0
		if deleted, ok := c["isDeleted"].(bool); ok && deleted {
			isDeleted = 1
		}
		records = append(records, models.Record{
			"work_item_id":  id,
			"comment_id":    c["id"],
			"text":          text,
			"created_date":  c["createdDate"],
			"created_by":    userDisplayName(c["createdBy"]),
			"modified_date": c["modifiedDate"],
			"modified_by":   userDisplayName(c["modifiedBy"]),
			"is_deleted":    isDeleted,
		})
	}
	return records
}

func extractRelations(workItem map[string]interface{}) []models.Record {
	id := workItemID(workItem)
	relations, _ := workItem["relations"].([]interface{})
	if len(relations) == 0 {
		return []models.Record{{"work_item_id": id, "relation_type": nil, "related_work_item_id": nil}}
	}

	var records []models.Record
	for _, r := range relations {
		rel, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		relURL, _ := rel["url"].(string)
		relatedID := ""
		if relURL != "" {
			parts := strings.Split(relURL, "/")
			relatedID = parts[len(parts)-1]
		}
		attrsName := ""
		if attrs, ok := rel["attributes"].(map[string]interface{}); ok {
			attrsName, _ = attrs["name"].(string)
		}
		records = append(records, models.Record{
			"work_item_id":          id,
			"relation_type":         rel["rel"],
			"related_work_item_id":  relatedID,
			"related_work_item_url": relURL,
			"attributes_name":       attrsName,
		})
	}
	return records
}

func (a *WorkItemAdapter) extractRevisions(ctx context.Context, workItem map[string]interface{}) []models.Record {
	id := workItemID(workItem)
	u := fmt.Sprintf("%s/_apis/wit/workitems/%s/revisions?api-version=%s", a.apiBaseURL, id, a.apiVersion)

	var body struct {
		Value []map[string]interface{} `json:"value"`
	}
	if !a.getJSON(ctx, u, &body) || len(body.Value) == 0 {
		return []models.Record{{"work_item_id": id, "rev": nil}}
	}

	var records []models.Record
	for _, rev := range body.Value {
		fields, _ := rev["fields"].(map[string]interface{})
		row := flattenFields(fields)
		row["work_item_id"] = id
		row["rev"] = rev["rev"]
		records = append(records, row)
	}
	return records
}
