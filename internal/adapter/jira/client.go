// Package jira provides an HTTP client for the Jira Cloud REST API,
// implementing the target-tracker port.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bugsync/bugsync/internal/config"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
	"github.com/bugsync/bugsync/internal/resilience"
)

// Client talks to the Jira REST API v2. All calls go through the retry
// wrapper; 4xx responses surface immediately, everything else is retried
// with backoff.
type Client struct {
	baseURL    string
	username   string
	apiKey     string
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker
	cache      *MetadataCache
}

// NewClient creates a Jira client.
func NewClient(cfg config.Jira, retry resilience.RetryPolicy) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetMetadataCache attaches a TTL cache to project metadata lookups.
func (c *Client) SetMetadataCache(cache *MetadataCache) {
	c.cache = cache
}

// CreateIssue creates an issue and returns its key and the raw response.
// Some Jira deployments wrap the response in a single-element list; the
// first element is used. A payload that embeds an error list is surfaced
// as a fatal remote error even when the HTTP status was 2xx.
func (c *Client) CreateIssue(ctx context.Context, fields portjira.IssueFields) (string, json.RawMessage, error) {
	reqFields := map[string]any{
		"summary":     fields.Summary,
		"description": fields.Description,
		"issuetype":   map[string]string{"name": fields.IssueType},
		"project":     map[string]string{"key": fields.Project},
	}
	if len(fields.Labels) > 0 {
		reqFields["labels"] = fields.Labels
	}
	if len(fields.Components) > 0 {
		components := make([]map[string]string, 0, len(fields.Components))
		for _, id := range fields.Components {
			components = append(components, map[string]string{"id": id})
		}
		reqFields["components"] = components
	}

	body, err := json.Marshal(map[string]any{"fields": reqFields})
	if err != nil {
		return "", nil, fmt.Errorf("marshal create issue: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/rest/api/2/issue", body)
	if err != nil {
		return "", nil, fmt.Errorf("create issue: %w", err)
	}

	payload := bytes.TrimSpace(resp)
	if len(payload) > 0 && payload[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(payload, &list); err != nil {
			return "", nil, fmt.Errorf("unmarshal create response: %w", err)
		}
		if len(list) == 0 {
			return "", nil, errors.New("create issue: empty response list")
		}
		payload = list[0]
	}

	var created struct {
		Key           string            `json:"key"`
		Errors        map[string]string `json:"errors"`
		ErrorMessages []string          `json:"errorMessages"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		return "", nil, fmt.Errorf("unmarshal create response: %w", err)
	}

	if len(created.Errors) > 0 || len(created.ErrorMessages) > 0 {
		msgs := append([]string{}, created.ErrorMessages...)
		for field, msg := range created.Errors {
			msgs = append(msgs, field+": "+msg)
		}
		return "", nil, &resilience.RemoteError{
			Op:         "create issue",
			StatusCode: http.StatusBadRequest,
			Body:       strings.Join(msgs, ", "),
		}
	}
	if created.Key == "" {
		return "", nil, errors.New("create issue: response has no issue key")
	}

	return created.Key, json.RawMessage(payload), nil
}

// GetIssue returns the raw issue fields, or nil when the issue does not exist.
func (c *Client) GetIssue(ctx context.Context, key string) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/api/2/issue/"+key, nil)
	if err != nil {
		var re *resilience.RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	return resp, nil
}

// DeleteIssue removes an issue.
func (c *Client) DeleteIssue(ctx context.Context, key string) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/rest/api/2/issue/"+key, nil)
	if err != nil {
		return nil, fmt.Errorf("delete issue %s: %w", key, err)
	}
	return resp, nil
}

// UpdateIssueFields replaces the given fields on an issue.
func (c *Client) UpdateIssueFields(ctx context.Context, key string, fields map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("marshal update fields: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/rest/api/2/issue/"+key, body)
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", key, err)
	}
	return resp, nil
}

// UpdateIssueLabels adds and removes labels on an issue.
func (c *Client) UpdateIssueLabels(ctx context.Context, key string, add, remove []string) (json.RawMessage, error) {
	ops := make([]map[string]string, 0, len(add)+len(remove))
	for _, label := range add {
		ops = append(ops, map[string]string{"add": label})
	}
	for _, label := range remove {
		ops = append(ops, map[string]string{"remove": label})
	}

	body, err := json.Marshal(map[string]any{
		"update": map[string]any{"labels": ops},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal label update: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/rest/api/2/issue/"+key, body)
	if err != nil {
		return nil, fmt.Errorf("update labels on %s: %w", key, err)
	}
	return resp, nil
}

// SetIssueStatus transitions an issue to the named status. Jira only
// exposes transitions, not direct status writes, so the matching
// transition is looked up first.
func (c *Client) SetIssueStatus(ctx context.Context, key, status string) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/api/2/issue/"+key+"/transitions", nil)
	if err != nil {
		return nil, fmt.Errorf("list transitions for %s: %w", key, err)
	}

	var transitions struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := json.Unmarshal(resp, &transitions); err != nil {
		return nil, fmt.Errorf("unmarshal transitions for %s: %w", key, err)
	}

	transitionID := ""
	for _, t := range transitions.Transitions {
		if strings.EqualFold(t.To.Name, status) {
			transitionID = t.ID
			break
		}
	}
	if transitionID == "" {
		return nil, fmt.Errorf("issue %s has no transition to status %q", key, status)
	}

	body, err := json.Marshal(map[string]any{
		"transition": map[string]string{"id": transitionID},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transition: %w", err)
	}

	result, err := c.doRequest(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/transitions", body)
	if err != nil {
		return nil, fmt.Errorf("transition issue %s: %w", key, err)
	}
	return result, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, key, text string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return nil, fmt.Errorf("marshal comment: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/comment", body)
	if err != nil {
		return nil, fmt.Errorf("add comment on %s: %w", key, err)
	}
	return resp, nil
}

// AddRemoteLink attaches a URL remote link to an issue.
func (c *Client) AddRemoteLink(ctx context.Context, key, linkURL, title string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"object": map[string]string{
			"url":   linkURL,
			"title": title,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal remote link: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/remotelink", body)
	if err != nil {
		return nil, fmt.Errorf("add remote link on %s: %w", key, err)
	}
	return resp, nil
}

// FindUsers searches accounts matching the query.
func (c *Client) FindUsers(ctx context.Context, query string) ([]portjira.User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/api/2/user/search?query="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("find users %q: %w", query, err)
	}

	var users []portjira.User
	if err := json.Unmarshal(resp, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}
	return users, nil
}

// GetPermissions returns the credential's permissions on a project.
func (c *Client) GetPermissions(ctx context.Context, projectKey string, permissions []string) (map[string]portjira.Permission, error) {
	path := "/rest/api/2/mypermissions?projectKey=" + url.QueryEscape(projectKey) +
		"&permissions=" + url.QueryEscape(strings.Join(permissions, ","))
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get permissions for %s: %w", projectKey, err)
	}

	var result struct {
		Permissions map[string]portjira.Permission `json:"permissions"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal permissions for %s: %w", projectKey, err)
	}
	return result.Permissions, nil
}

// GetProjectComponents lists the components of a project.
func (c *Client) GetProjectComponents(ctx context.Context, projectKey string) ([]portjira.Component, error) {
	resp, err := c.getMetadata(ctx, "/rest/api/2/project/"+projectKey+"/components")
	if err != nil {
		return nil, fmt.Errorf("get components for %s: %w", projectKey, err)
	}

	var components []portjira.Component
	if err := json.Unmarshal(resp, &components); err != nil {
		return nil, fmt.Errorf("unmarshal components for %s: %w", projectKey, err)
	}
	return components, nil
}

// GetProject returns the project, including its issue types.
func (c *Client) GetProject(ctx context.Context, projectKey string) (*portjira.Project, error) {
	resp, err := c.getMetadata(ctx, "/rest/api/2/project/"+projectKey)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectKey, err)
	}

	var project portjira.Project
	if err := json.Unmarshal(resp, &project); err != nil {
		return nil, fmt.Errorf("unmarshal project %s: %w", projectKey, err)
	}
	return &project, nil
}

// ListVisibleProjects returns the projects visible to the configured
// credentials.
func (c *Client) ListVisibleProjects(ctx context.Context) ([]portjira.Project, error) {
	resp, err := c.getMetadata(ctx, "/rest/api/2/project")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var projects []portjira.Project
	if err := json.Unmarshal(resp, &projects); err != nil {
		return nil, fmt.Errorf("unmarshal projects: %w", err)
	}
	return projects, nil
}

// ServerInfo pings the server, returning the raw info payload.
func (c *Client) ServerInfo(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/api/2/serverInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	return resp, nil
}

// IssueURL returns the browse URL for an issue key.
func (c *Client) IssueURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// getMetadata serves rarely-changing GET lookups through the metadata
// cache when one is attached.
func (c *Client) getMetadata(ctx context.Context, path string) ([]byte, error) {
	if data, ok := c.cache.get(path); ok {
		return data, nil
	}

	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	c.cache.set(path, data)
	return data, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &resilience.RemoteError{
				Op:         method + " " + path,
				StatusCode: resp.StatusCode,
				Body:       string(data),
			}
		}

		result = data
		return nil
	}

	wrapped := call
	if c.breaker != nil {
		wrapped = func() error { return c.breaker.Execute(call) }
	}

	if err := c.retry.Do(ctx, "jira "+method+" "+path, wrapped); err != nil {
		return nil, err
	}
	return result, nil
}
