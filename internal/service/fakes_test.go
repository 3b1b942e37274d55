package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/domain/bug"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestActions(t *testing.T, content string) *config.Actions {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write actions: %v", err)
	}
	actions, err := config.LoadActions(path)
	if err != nil {
		t.Fatalf("LoadActions: %v", err)
	}
	return actions
}

var emptyResponse = json.RawMessage(`{}`)

// fakeBugzilla is a function-field test double for the source tracker.
// Unset fields return benign defaults; every call is appended to calls.
type fakeBugzilla struct {
	getBug      func(id int) (*bug.Bug, error)
	getComments func(id int) ([]bug.Comment, error)
	addSeeAlso  func(bugID int, issueKey string) (json.RawMessage, error)
	loggedIn    func() (bool, error)

	calls []string
}

func (f *fakeBugzilla) GetBug(_ context.Context, id int) (*bug.Bug, error) {
	f.calls = append(f.calls, "GetBug")
	if f.getBug != nil {
		return f.getBug(id)
	}
	return &bug.Bug{ID: id}, nil
}

func (f *fakeBugzilla) GetComments(_ context.Context, id int) ([]bug.Comment, error) {
	f.calls = append(f.calls, "GetComments")
	if f.getComments != nil {
		return f.getComments(id)
	}
	return nil, nil
}

func (f *fakeBugzilla) AddSeeAlsoLink(_ context.Context, bugID int, issueKey string) (json.RawMessage, error) {
	f.calls = append(f.calls, "AddSeeAlsoLink")
	if f.addSeeAlso != nil {
		return f.addSeeAlso(bugID, issueKey)
	}
	return emptyResponse, nil
}

func (f *fakeBugzilla) LoggedIn(context.Context) (bool, error) {
	f.calls = append(f.calls, "LoggedIn")
	if f.loggedIn != nil {
		return f.loggedIn()
	}
	return true, nil
}

func (f *fakeBugzilla) BugURL(id int) string {
	return "https://bugzilla.example.com/show_bug.cgi?id=" + strconv.Itoa(id)
}

// fakeJira is a function-field test double for the target tracker.
type fakeJira struct {
	createIssue    func(fields portjira.IssueFields) (string, json.RawMessage, error)
	getIssue       func(key string) (json.RawMessage, error)
	deleteIssue    func(key string) (json.RawMessage, error)
	updateFields   func(key string, fields map[string]any) (json.RawMessage, error)
	updateLabels   func(key string, add, remove []string) (json.RawMessage, error)
	setStatus      func(key, status string) (json.RawMessage, error)
	addComment     func(key, text string) (json.RawMessage, error)
	addRemoteLink  func(key, url, title string) (json.RawMessage, error)
	findUsers      func(query string) ([]portjira.User, error)
	getPermissions func(projectKey string, permissions []string) (map[string]portjira.Permission, error)
	getComponents  func(projectKey string) ([]portjira.Component, error)
	getProject     func(projectKey string) (*portjira.Project, error)
	listProjects   func() ([]portjira.Project, error)
	serverInfo     func() (json.RawMessage, error)

	calls    []string
	comments []string
	deleted  []string
}

func (f *fakeJira) CreateIssue(_ context.Context, fields portjira.IssueFields) (string, json.RawMessage, error) {
	f.calls = append(f.calls, "CreateIssue")
	if f.createIssue != nil {
		return f.createIssue(fields)
	}
	return "JBI-1", json.RawMessage(`{"key":"JBI-1"}`), nil
}

func (f *fakeJira) GetIssue(_ context.Context, key string) (json.RawMessage, error) {
	f.calls = append(f.calls, "GetIssue")
	if f.getIssue != nil {
		return f.getIssue(key)
	}
	return emptyResponse, nil
}

func (f *fakeJira) DeleteIssue(_ context.Context, key string) (json.RawMessage, error) {
	f.calls = append(f.calls, "DeleteIssue")
	f.deleted = append(f.deleted, key)
	if f.deleteIssue != nil {
		return f.deleteIssue(key)
	}
	return emptyResponse, nil
}

func (f *fakeJira) UpdateIssueFields(_ context.Context, key string, fields map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, "UpdateIssueFields")
	if f.updateFields != nil {
		return f.updateFields(key, fields)
	}
	return emptyResponse, nil
}

func (f *fakeJira) UpdateIssueLabels(_ context.Context, key string, add, remove []string) (json.RawMessage, error) {
	f.calls = append(f.calls, "UpdateIssueLabels")
	if f.updateLabels != nil {
		return f.updateLabels(key, add, remove)
	}
	return emptyResponse, nil
}

func (f *fakeJira) SetIssueStatus(_ context.Context, key, status string) (json.RawMessage, error) {
	f.calls = append(f.calls, "SetIssueStatus")
	if f.setStatus != nil {
		return f.setStatus(key, status)
	}
	return emptyResponse, nil
}

func (f *fakeJira) AddComment(_ context.Context, key, text string) (json.RawMessage, error) {
	f.calls = append(f.calls, "AddComment")
	f.comments = append(f.comments, text)
	if f.addComment != nil {
		return f.addComment(key, text)
	}
	return emptyResponse, nil
}

func (f *fakeJira) AddRemoteLink(_ context.Context, key, url, title string) (json.RawMessage, error) {
	f.calls = append(f.calls, "AddRemoteLink")
	if f.addRemoteLink != nil {
		return f.addRemoteLink(key, url, title)
	}
	return emptyResponse, nil
}

func (f *fakeJira) FindUsers(_ context.Context, query string) ([]portjira.User, error) {
	f.calls = append(f.calls, "FindUsers")
	if f.findUsers != nil {
		return f.findUsers(query)
	}
	return nil, nil
}

func (f *fakeJira) GetPermissions(_ context.Context, projectKey string, permissions []string) (map[string]portjira.Permission, error) {
	f.calls = append(f.calls, "GetPermissions")
	if f.getPermissions != nil {
		return f.getPermissions(projectKey, permissions)
	}
	granted := make(map[string]portjira.Permission, len(permissions))
	for _, p := range permissions {
		granted[p] = portjira.Permission{Key: p, HavePermission: true}
	}
	return granted, nil
}

func (f *fakeJira) GetProjectComponents(_ context.Context, projectKey string) ([]portjira.Component, error) {
	f.calls = append(f.calls, "GetProjectComponents")
	if f.getComponents != nil {
		return f.getComponents(projectKey)
	}
	return nil, nil
}

func (f *fakeJira) GetProject(_ context.Context, projectKey string) (*portjira.Project, error) {
	f.calls = append(f.calls, "GetProject")
	if f.getProject != nil {
		return f.getProject(projectKey)
	}
	return &portjira.Project{Key: projectKey}, nil
}

func (f *fakeJira) ListVisibleProjects(context.Context) ([]portjira.Project, error) {
	f.calls = append(f.calls, "ListVisibleProjects")
	if f.listProjects != nil {
		return f.listProjects()
	}
	return nil, nil
}

func (f *fakeJira) ServerInfo(context.Context) (json.RawMessage, error) {
	f.calls = append(f.calls, "ServerInfo")
	if f.serverInfo != nil {
		return f.serverInfo()
	}
	return emptyResponse, nil
}

func (f *fakeJira) IssueURL(key string) string {
	return "https://example.atlassian.net/browse/" + key
}
