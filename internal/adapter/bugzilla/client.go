// Package bugzilla provides an HTTP client for the Bugzilla REST API,
// implementing the source-tracker port.
package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/domain/bug"
	"github.com/bugsync/bugsync/internal/resilience"
)

const apiKeyHeader = "X-BUGZILLA-API-KEY"

// Client talks to the Bugzilla REST API. All calls go through the retry
// wrapper; 4xx responses surface immediately, everything else is retried
// with backoff.
type Client struct {
	baseURL     string
	apiKey      string
	jiraBaseURL string
	httpClient  *http.Client
	retry       resilience.RetryPolicy
	breaker     *resilience.Breaker
}

// NewClient creates a Bugzilla client. jiraBaseURL is used to build the
// issue URLs written into the bug's see-also field.
func NewClient(cfg config.Bugzilla, jiraBaseURL string, retry resilience.RetryPolicy) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		jiraBaseURL: jiraBaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       retry,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// GetBug returns a fresh snapshot of the bug.
func (c *Client) GetBug(ctx context.Context, id int) (*bug.Bug, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/bug/"+strconv.Itoa(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get bug %d: %w", id, err)
	}

	var result struct {
		Bugs []bug.Bug `json:"bugs"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal bug %d: %w", id, err)
	}
	if len(result.Bugs) == 0 {
		return nil, fmt.Errorf("bug %d not found in response", id)
	}
	return &result.Bugs[0], nil
}

// GetComments returns the bug's comments in creation order.
func (c *Client) GetComments(ctx context.Context, id int) ([]bug.Comment, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/bug/"+strconv.Itoa(id)+"/comment", nil)
	if err != nil {
		return nil, fmt.Errorf("get comments for bug %d: %w", id, err)
	}

	var result struct {
		Bugs map[string]struct {
			Comments []bug.Comment `json:"comments"`
		} `json:"bugs"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal comments for bug %d: %w", id, err)
	}
	entry, ok := result.Bugs[strconv.Itoa(id)]
	if !ok {
		return nil, nil
	}
	return entry.Comments, nil
}

// AddSeeAlsoLink records the Jira issue's browse URL in the bug's
// see-also field.
func (c *Client) AddSeeAlsoLink(ctx context.Context, bugID int, issueKey string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"see_also": map[string][]string{
			"add": {c.jiraBaseURL + "/browse/" + issueKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal see_also update: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/rest/bug/"+strconv.Itoa(bugID), body)
	if err != nil {
		return nil, fmt.Errorf("add see_also link on bug %d: %w", bugID, err)
	}
	return resp, nil
}

// LoggedIn reports whether the configured API key is valid.
func (c *Client) LoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/rest/whoami", nil)
	if err != nil {
		return false, fmt.Errorf("whoami: %w", err)
	}

	var result struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return false, fmt.Errorf("unmarshal whoami: %w", err)
	}
	return result.ID != 0, nil
}

// BugURL returns the public URL of a bug.
func (c *Client) BugURL(id int) string {
	return c.baseURL + "/show_bug.cgi?id=" + strconv.Itoa(id)
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
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
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

	if err := c.retry.Do(ctx, "bugzilla "+method+" "+path, wrapped); err != nil {
		return nil, err
	}
	return result, nil
}
