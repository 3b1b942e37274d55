package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/bugsync/bugsync/internal/domain/bug"
	"github.com/bugsync/bugsync/internal/domain/sync"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
)

func TestWhiteboardLabels(t *testing.T) {
	cases := []struct {
		whiteboard string
		want       []string
	}{
		{"", []string{"bugzilla"}},
		{"[fidefe]", []string{"bugzilla", "bugzilla-fidefe"}},
		{"[fidefe] [backlog deferred]", []string{"bugzilla", "bugzilla-fidefe", "bugzilla-backlog-deferred"}},
		{"no brackets here", []string{"bugzilla"}},
		{"[ spaced  out ]", []string{"bugzilla", "bugzilla-spaced-out"}},
		{"[]", []string{"bugzilla"}},
		{"[unclosed", []string{"bugzilla"}},
	}

	for _, tc := range cases {
		if got := whiteboardLabels(tc.whiteboard); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("whiteboardLabels(%q) = %v, want %v", tc.whiteboard, got, tc.want)
		}
	}
}

func TestTruncateKeepsBytePrefix(t *testing.T) {
	long := strings.Repeat("x", descriptionCharLimit+100)
	got := truncate(long, descriptionCharLimit)
	if len(got) != descriptionCharLimit {
		t.Fatalf("len = %d, want %d", len(got), descriptionCharLimit)
	}

	short := "short"
	if truncate(short, descriptionCharLimit) != short {
		t.Fatal("short strings must pass through unchanged")
	}
}

func TestUpdateSyncsAssigneeWhenConfigured(t *testing.T) {
	var updates []map[string]any
	jc := &fakeJira{
		updateFields: func(_ string, fields map[string]any) (json.RawMessage, error) {
			updates = append(updates, fields)
			return emptyResponse, nil
		},
		findUsers: func(query string) ([]portjira.User, error) {
			return []portjira.User{{AccountID: "acc-1", EmailAddress: query}}, nil
		},
	}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    sync_assignee: true
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:         1,
		Summary:    "bug",
		AssignedTo: "dev@example.com",
		Whiteboard: "[fidefe]",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "assigned_to", Added: "dev@example.com"}},
	}

	outcome, err := r.Run(context.Background(), actions.All()[0], event, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Field update, assignee update, then the assignee change comment.
	if len(outcome.Responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(outcome.Responses))
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 field updates, got %d", len(updates))
	}
	assignee, ok := updates[1]["assignee"].(map[string]string)
	if !ok || assignee["accountId"] != "acc-1" {
		t.Fatalf("assignee update = %v", updates[1])
	}
}

func TestUpdateAssigneeAmbiguousMatchFails(t *testing.T) {
	jc := &fakeJira{
		findUsers: func(string) ([]portjira.User, error) {
			return []portjira.User{{AccountID: "a"}, {AccountID: "b"}}, nil
		},
	}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    sync_assignee: true
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:         1,
		Summary:    "bug",
		AssignedTo: "dev@example.com",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "assigned_to", Added: "dev@example.com"}},
	}

	_, err = r.Run(context.Background(), actions.All()[0], event, b)
	var verr *sync.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a validation error for an ambiguous match, got %v", err)
	}
}

func TestUpdateClearsAssigneeWhenUnset(t *testing.T) {
	var updates []map[string]any
	jc := &fakeJira{
		updateFields: func(_ string, fields map[string]any) (json.RawMessage, error) {
			updates = append(updates, fields)
			return emptyResponse, nil
		},
	}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    sync_assignee: true
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:      1,
		Summary: "bug",
		SeeAlso: []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "assigned_to", Removed: "dev@example.com"}},
	}

	if _, err := r.Run(context.Background(), actions.All()[0], event, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 field updates, got %d", len(updates))
	}
	if v, present := updates[1]["assignee"]; !present || v != nil {
		t.Fatalf("expected assignee cleared with nil, got %v", updates[1])
	}
	for _, call := range jc.calls {
		if call == "FindUsers" {
			t.Fatal("no user lookup needed to clear an assignee")
		}
	}
}

func TestUpdateStatusMapped(t *testing.T) {
	var transitions []string
	jc := &fakeJira{
		setStatus: func(_, status string) (json.RawMessage, error) {
			transitions = append(transitions, status)
			return emptyResponse, nil
		},
	}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    status_map:
      FIXED: Done
      ASSIGNED: In Progress
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:         1,
		Summary:    "bug",
		Status:     "RESOLVED",
		Resolution: "FIXED",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "resolution", Added: "FIXED"}},
	}

	if _, err := r.Run(context.Background(), actions.All()[0], event, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Resolution takes precedence over status when both are set.
	if !reflect.DeepEqual(transitions, []string{"Done"}) {
		t.Fatalf("transitions = %v, want [Done]", transitions)
	}
}

func TestUpdateStatusUnmappedSkipped(t *testing.T) {
	jc := &fakeJira{}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    status_map:
      FIXED: Done
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:      1,
		Summary: "bug",
		Status:  "UNCONFIRMED",
		SeeAlso: []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "status", Added: "UNCONFIRMED"}},
	}

	outcome, err := r.Run(context.Background(), actions.All()[0], event, b)
	if err != nil {
		t.Fatalf("an unmapped status is skipped, not an error: %v", err)
	}
	for _, call := range jc.calls {
		if call == "SetIssueStatus" {
			t.Fatal("no transition expected for an unmapped status")
		}
	}
	// Update plus the status change comment.
	if len(outcome.Responses) != 2 {
		t.Fatalf("responses = %d", len(outcome.Responses))
	}
}

func TestCreateResolvesConfiguredComponents(t *testing.T) {
	var created portjira.IssueFields
	jc := &fakeJira{
		createIssue: func(fields portjira.IssueFields) (string, json.RawMessage, error) {
			created = fields
			return "JBI-1", emptyResponse, nil
		},
		getComponents: func(string) ([]portjira.Component, error) {
			return []portjira.Component{
				{ID: "10001", Name: "Backend"},
				{ID: "10002", Name: "Frontend"},
			}, nil
		},
	}
	actions := loadTestActions(t, `
actions:
  - whiteboard_tag: fidefe
    jira_project_key: JBI
    jira_components:
      - Backend
      - Missing
`)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{ID: 1, Summary: "bug", Whiteboard: "[fidefe]"}
	event := &bug.WebhookEvent{Target: bug.TargetBug}

	if _, err := r.Run(context.Background(), actions.All()[0], event, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The missing component is logged and skipped, not an error.
	if !reflect.DeepEqual(created.Components, []string{"10001"}) {
		t.Fatalf("components = %v, want resolved id of Backend only", created.Components)
	}
}

func TestUpdateWhiteboardChangeSyncsLabels(t *testing.T) {
	var gotAdd, gotRemove []string
	jc := &fakeJira{
		updateLabels: func(_ string, add, remove []string) (json.RawMessage, error) {
			gotAdd, gotRemove = add, remove
			return emptyResponse, nil
		},
	}
	actions := loadTestActions(t, minimalActions)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:         1,
		Summary:    "bug",
		Whiteboard: "[fidefe] [approved]",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target: bug.TargetBug,
		Changes: []bug.Change{
			{Field: "whiteboard", Removed: "[fidefe] [backlog]", Added: "[fidefe] [approved]"},
		},
	}

	outcome, err := r.Run(context.Background(), actions.All()[0], event, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Field update plus the label reconciliation; whiteboard changes
	// produce no change comment.
	if len(outcome.Responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(outcome.Responses))
	}
	wantAdd := []string{"bugzilla", "bugzilla-fidefe", "bugzilla-approved"}
	if !reflect.DeepEqual(gotAdd, wantAdd) {
		t.Fatalf("add = %v, want %v", gotAdd, wantAdd)
	}
	if !reflect.DeepEqual(gotRemove, []string{"bugzilla-backlog"}) {
		t.Fatalf("remove = %v, want stale label only", gotRemove)
	}
}

func TestUpdateStatusOnlyChangeSkipsLabelSync(t *testing.T) {
	jc := &fakeJira{}
	actions := loadTestActions(t, minimalActions)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:      1,
		Summary: "bug",
		Status:  "RESOLVED",
		SeeAlso: []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target:  bug.TargetBug,
		Changes: []bug.Change{{Field: "status", Added: "RESOLVED"}},
	}

	if _, err := r.Run(context.Background(), actions.All()[0], event, b); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, call := range jc.calls {
		if call == "UpdateIssueLabels" {
			t.Fatal("labels must not be touched when the whiteboard did not change")
		}
	}
}

func TestChangeCommentsPreserveEventOrder(t *testing.T) {
	jc := &fakeJira{}
	actions := loadTestActions(t, minimalActions)
	r, err := NewRunner(&fakeBugzilla{}, jc, actions, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	b := &bug.Bug{
		ID:         1,
		Summary:    "bug",
		Status:     "ASSIGNED",
		AssignedTo: "dev@example.com",
		SeeAlso:    []string{"https://example.atlassian.net/browse/JBI-7"},
	}
	event := &bug.WebhookEvent{
		Target: bug.TargetBug,
		Changes: []bug.Change{
			{Field: "assigned_to", Added: "dev@example.com"},
			{Field: "status", Added: "ASSIGNED"},
			{Field: "priority", Added: "P1"},
		},
	}

	if _, err := r.Run(context.Background(), actions.All()[0], event, b); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One comment per relevant change, in event order. The priority
	// change produces no comment.
	if len(jc.comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(jc.comments))
	}
	if !strings.Contains(jc.comments[0], "assignee") {
		t.Fatalf("first comment should describe the assignee change: %q", jc.comments[0])
	}
	if !strings.Contains(jc.comments[1], "status") {
		t.Fatalf("second comment should describe the status change: %q", jc.comments[1])
	}
}
