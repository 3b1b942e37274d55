// Package jira defines the port interface for the target tracker: the
// Jira operations the synchronization engine and the capability verifier
// need.
package jira

import (
	"context"
	"encoding/json"
)

// IssueFields is the field set sent on issue creation.
type IssueFields struct {
	Project     string
	Summary     string
	Description string
	IssueType   string
	Labels      []string
	Components  []string
}

// Permission is one entry of a project permission lookup.
type Permission struct {
	Key           string `json:"key"`
	HavePermission bool  `json:"havePermission"`
}

// Component is a project component.
type Component struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IssueType is an issue type configured on a project.
type IssueType struct {
	Name string `json:"name"`
}

// Project describes a Jira project as the engine sees it.
type Project struct {
	Key        string      `json:"key"`
	Name       string      `json:"name,omitempty"`
	IssueTypes []IssueType `json:"issueTypes,omitempty"`
}

// User is a Jira account returned by a user search.
type User struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

// Client is the target-tracker capability interface. Responses returned as
// json.RawMessage are opaque payloads accumulated by the pipeline; the
// engine never inspects them.
type Client interface {
	// CreateIssue creates an issue and returns its key along with the raw
	// response. A response whose payload embeds an error list is surfaced
	// as a fatal remote error even on a 2xx status.
	CreateIssue(ctx context.Context, fields IssueFields) (string, json.RawMessage, error)

	// GetIssue returns the raw issue fields, or nil when the issue does
	// not exist.
	GetIssue(ctx context.Context, key string) (json.RawMessage, error)

	// DeleteIssue removes an issue. Used only by the duplicate rollback.
	DeleteIssue(ctx context.Context, key string) (json.RawMessage, error)

	// UpdateIssueFields replaces the given fields on an issue.
	UpdateIssueFields(ctx context.Context, key string, fields map[string]any) (json.RawMessage, error)

	// UpdateIssueLabels adds and removes labels on an issue.
	UpdateIssueLabels(ctx context.Context, key string, add, remove []string) (json.RawMessage, error)

	// SetIssueStatus transitions an issue to the named status.
	SetIssueStatus(ctx context.Context, key, status string) (json.RawMessage, error)

	// AddComment posts a comment on an issue.
	AddComment(ctx context.Context, key, text string) (json.RawMessage, error)

	// AddRemoteLink attaches a URL remote link to an issue.
	AddRemoteLink(ctx context.Context, key, url, title string) (json.RawMessage, error)

	// FindUsers searches accounts matching the query.
	FindUsers(ctx context.Context, query string) ([]User, error)

	// GetPermissions returns the credential's permissions on a project,
	// keyed by permission name.
	GetPermissions(ctx context.Context, projectKey string, permissions []string) (map[string]Permission, error)

	// GetProjectComponents lists the components of a project.
	GetProjectComponents(ctx context.Context, projectKey string) ([]Component, error)

	// GetProject returns the project, including its issue types.
	GetProject(ctx context.Context, projectKey string) (*Project, error)

	// ListVisibleProjects returns the projects visible to the configured
	// credentials.
	ListVisibleProjects(ctx context.Context) ([]Project, error)

	// ServerInfo pings the server, returning the raw info payload.
	ServerInfo(ctx context.Context) (json.RawMessage, error)

	// IssueURL returns the browse URL for an issue key.
	IssueURL(key string) string
}
