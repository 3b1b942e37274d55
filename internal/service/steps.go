package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/domain/bug"
	"github.com/bugsync/bugsync/internal/domain/sync"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
)

// descriptionCharLimit is the Jira text-field limit. Longer descriptions
// are truncated, never rejected.
const descriptionCharLimit = 32767

// stepCreateIssue creates the Jira issue for a bug with no linked issue
// yet. The bug's first comment (fetched, since creation payloads carry a
// null comment) becomes the issue description.
func (r *Runner) stepCreateIssue(ctx context.Context, actx sync.ActionContext, action *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Event.Target != bug.TargetBug || actx.Link.Issue != "" || actx.Operation != sync.OpIgnore {
		return actx, nil, nil
	}

	comments, err := r.bugzilla.GetComments(ctx, actx.Bug.ID)
	if err != nil {
		return actx, nil, err
	}
	description := ""
	if len(comments) > 0 {
		description = comments[0].Body
	}

	fields := portjira.IssueFields{
		Project:     actx.Link.Project,
		Summary:     truncate(actx.Bug.Summary, descriptionCharLimit),
		Description: truncate(description, descriptionCharLimit),
		IssueType:   action.IssueTypeFor(actx.Bug.Type),
	}
	if action.LabelsEnabled() {
		fields.Labels = whiteboardLabels(actx.Bug.Whiteboard)
	}
	if len(action.JiraComponents) > 0 {
		ids, err := r.resolveComponents(ctx, actx.Link.Project, action.JiraComponents)
		if err != nil {
			return actx, nil, err
		}
		fields.Components = ids
	}

	r.log.DebugContext(ctx, "creating jira issue", "context", actx)
	key, resp, err := r.jira.CreateIssue(ctx, fields)
	if err != nil {
		return actx, nil, err
	}

	actx = actx.WithOperation(sync.OpCreate).WithIssue(key)
	r.log.InfoContext(ctx, "jira issue created", "context", actx)
	return actx, []json.RawMessage{resp}, nil
}

// stepMaybeDeleteDuplicate is the duplicate resolution protocol: right
// after creating an issue, re-fetch the bug and check whether a
// concurrent run already linked a different issue. If so this run lost
// the race; its issue is deleted and the link steps are skipped.
//
// The re-fetch trusts the source tracker's read-after-write consistency.
// If the fresh snapshot encodes no key yet, the upstream write simply has
// not landed and the run proceeds normally.
func (r *Runner) stepMaybeDeleteDuplicate(ctx context.Context, actx sync.ActionContext, _ *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Operation != sync.OpCreate || actx.Link.Issue == "" {
		return actx, nil, nil
	}

	fresh, err := r.bugzilla.GetBug(ctx, actx.Bug.ID)
	if err != nil {
		return actx, nil, err
	}

	linked := fresh.ExtractSeeAlsoKey(actx.Link.Project)
	if linked == "" || linked == actx.Link.Issue {
		return actx, nil, nil
	}

	duplicate := actx.Link.Issue
	r.log.WarnContext(ctx, "deleting duplicated jira issue",
		"winner", linked,
		"context", actx.WithOperation(sync.OpDelete),
	)
	resp, err := r.jira.DeleteIssue(ctx, duplicate)
	if err != nil {
		return actx, nil, err
	}

	actx = actx.WithIssue("").WithExtra("duplicate_issue_deleted", duplicate)
	return actx, []json.RawMessage{resp}, nil
}

// stepAddLinkToBugzilla writes the new issue's URL into the bug's
// see-also field. Skipped when the duplicate rollback removed the issue.
func (r *Runner) stepAddLinkToBugzilla(ctx context.Context, actx sync.ActionContext, _ *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Operation != sync.OpCreate || actx.Link.Issue == "" {
		return actx, nil, nil
	}

	r.log.DebugContext(ctx, "adding issue link on bug", "context", actx.WithOperation(sync.OpLink))
	resp, err := r.bugzilla.AddSeeAlsoLink(ctx, actx.Bug.ID, actx.Link.Issue)
	if err != nil {
		return actx, nil, err
	}
	return actx, []json.RawMessage{resp}, nil
}

// stepAddLinkToJira attaches the bug's URL as a remote link on the new
// issue. Skipped when the duplicate rollback removed the issue.
func (r *Runner) stepAddLinkToJira(ctx context.Context, actx sync.ActionContext, _ *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Operation != sync.OpCreate || actx.Link.Issue == "" {
		return actx, nil, nil
	}

	bugURL := r.bugzilla.BugURL(actx.Bug.ID)
	r.log.DebugContext(ctx, "adding bug link on issue", "url", bugURL, "context", actx.WithOperation(sync.OpLink))
	resp, err := r.jira.AddRemoteLink(ctx, actx.Link.Issue, bugURL, bugURL)
	if err != nil {
		return actx, nil, err
	}
	return actx, []json.RawMessage{resp}, nil
}

// stepUpdateIssue pushes the bug's current field values to the linked
// issue and records the changed field names for logging. Label, assignee
// and status sync run only when the corresponding field actually changed
// (and, for assignee and status, only when configured).
func (r *Runner) stepUpdateIssue(ctx context.Context, actx sync.ActionContext, action *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Event.Target != bug.TargetBug || actx.Link.Issue == "" || actx.Operation != sync.OpIgnore {
		return actx, nil, nil
	}

	changed := actx.Event.ChangedFields()
	actx = actx.
		WithOperation(sync.OpUpdate).
		WithExtra("changed_fields", strings.Join(changed, ", "))

	fields := map[string]any{
		"summary": truncate(actx.Bug.Summary, descriptionCharLimit),
	}

	r.log.DebugContext(ctx, "updating jira issue", "context", actx)
	resp, err := r.jira.UpdateIssueFields(ctx, actx.Link.Issue, fields)
	if err != nil {
		return actx, nil, err
	}
	responses := []json.RawMessage{resp}

	if action.LabelsEnabled() && contains(changed, "whiteboard") {
		labelsResp, err := r.syncLabels(ctx, actx)
		if err != nil {
			return actx, responses, err
		}
		responses = append(responses, labelsResp)
	}

	if action.SyncAssignee && contains(changed, "assigned_to") {
		assigneeResp, err := r.syncAssignee(ctx, actx)
		if err != nil {
			return actx, responses, err
		}
		responses = append(responses, assigneeResp)
	}

	if len(action.StatusMap) > 0 && (contains(changed, "status") || contains(changed, "resolution")) {
		statusResp, err := r.syncStatus(ctx, actx, action)
		if err != nil {
			return actx, responses, err
		}
		if statusResp != nil {
			responses = append(responses, statusResp)
		}
	}

	return actx, responses, nil
}

// syncLabels reconciles the issue's labels with the bug's current
// whiteboard: the current entries are added, and labels derived from the
// old whiteboard value that no longer apply are removed. Labels the
// engine did not derive are left alone.
func (r *Runner) syncLabels(ctx context.Context, actx sync.ActionContext) (json.RawMessage, error) {
	add := whiteboardLabels(actx.Bug.Whiteboard)
	current := make(map[string]struct{}, len(add))
	for _, label := range add {
		current[label] = struct{}{}
	}

	var remove []string
	for _, change := range actx.Event.Changes {
		if change.Field != "whiteboard" {
			continue
		}
		for _, label := range whiteboardLabels(change.Removed) {
			if _, keep := current[label]; !keep {
				remove = append(remove, label)
			}
		}
	}

	r.log.DebugContext(ctx, "syncing whiteboard labels", "add", add, "remove", remove, "context", actx)
	return r.jira.UpdateIssueLabels(ctx, actx.Link.Issue, add, remove)
}

// syncAssignee mirrors the bug's assignee onto the issue. The target user
// lookup must match exactly one account; anything else is a validation
// error surfaced without retry. A bug with no assignee clears the field.
func (r *Runner) syncAssignee(ctx context.Context, actx sync.ActionContext) (json.RawMessage, error) {
	if actx.Bug.AssignedTo == "" {
		r.log.DebugContext(ctx, "clearing issue assignee", "context", actx)
		return r.jira.UpdateIssueFields(ctx, actx.Link.Issue, map[string]any{"assignee": nil})
	}

	users, err := r.jira.FindUsers(ctx, actx.Bug.AssignedTo)
	if err != nil {
		return nil, err
	}
	if len(users) != 1 {
		return nil, &sync.ValidationError{
			Msg: fmt.Sprintf("user %q matched %d accounts, expected exactly one", actx.Bug.AssignedTo, len(users)),
		}
	}

	r.log.DebugContext(ctx, "assigning issue", "account", users[0].AccountID, "context", actx)
	return r.jira.UpdateIssueFields(ctx, actx.Link.Issue, map[string]any{
		"assignee": map[string]string{"accountId": users[0].AccountID},
	})
}

// syncStatus maps the bug's resolution (preferred) or status through the
// action's status map and transitions the issue. Unmapped values are
// skipped, not errors.
func (r *Runner) syncStatus(ctx context.Context, actx sync.ActionContext, action *config.Action) (json.RawMessage, error) {
	source := actx.Bug.Resolution
	if source == "" {
		source = actx.Bug.Status
	}
	target, ok := action.StatusMap[source]
	if !ok {
		r.log.DebugContext(ctx, "no status mapping", "value", source, "context", actx)
		return nil, nil
	}

	r.log.DebugContext(ctx, "transitioning issue", "status", target, "context", actx)
	return r.jira.SetIssueStatus(ctx, actx.Link.Issue, target)
}

// stepAddCommentsForChanges posts one structured comment per relevant
// field change, preserving the event's change order. Status/resolution
// changes and assignee changes each produce a comment.
func (r *Runner) stepAddCommentsForChanges(ctx context.Context, actx sync.ActionContext, _ *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Operation != sync.OpUpdate || actx.Link.Issue == "" {
		return actx, nil, nil
	}

	user := actx.Event.UserLogin()
	var bodies []map[string]string
	for _, change := range actx.Event.Changes {
		switch change.Field {
		case "status", "resolution":
			bodies = append(bodies, map[string]string{
				"modified by": user,
				"resolution":  actx.Bug.Resolution,
				"status":      actx.Bug.Status,
			})
		case "assigned_to", "assignee":
			bodies = append(bodies, map[string]string{
				"assignee": actx.Bug.AssignedTo,
			})
		}
	}

	var responses []json.RawMessage
	for i, body := range bodies {
		text, err := json.MarshalIndent(body, "", "    ")
		if err != nil {
			return actx, responses, err
		}
		r.log.DebugContext(ctx, "adding change comment",
			"number", i+1,
			"context", actx.WithOperation(sync.OpComment),
		)
		resp, err := r.jira.AddComment(ctx, actx.Link.Issue, string(text))
		if err != nil {
			return actx, responses, err
		}
		responses = append(responses, resp)
	}
	return actx, responses, nil
}

// stepCreateComment relays a bug comment to the linked issue. Events
// without an inline comment payload are a no-op, not an error.
func (r *Runner) stepCreateComment(ctx context.Context, actx sync.ActionContext, _ *config.Action) (sync.ActionContext, []json.RawMessage, error) {
	if actx.Event.Target != bug.TargetComment || actx.Link.Issue == "" || actx.Operation != sync.OpIgnore {
		return actx, nil, nil
	}

	if actx.Bug.Comment == nil {
		r.log.DebugContext(ctx, "no matching comment found in payload", "context", actx)
		return actx, nil, nil
	}

	actx = actx.WithOperation(sync.OpComment)
	text := fmt.Sprintf("*(%s)* commented: \n{quote}%s{quote}", actx.Event.UserLogin(), actx.Bug.Comment.Body)
	resp, err := r.jira.AddComment(ctx, actx.Link.Issue, text)
	if err != nil {
		return actx, nil, err
	}

	r.log.DebugContext(ctx, "user comment added to issue", "context", actx)
	return actx, []json.RawMessage{resp}, nil
}

// resolveComponents maps configured component names to their project
// component ids. Names missing on the project are logged and skipped.
func (r *Runner) resolveComponents(ctx context.Context, projectKey string, names []string) ([]string, error) {
	components, err := r.jira.GetProjectComponents(ctx, projectKey)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(components))
	for _, comp := range components {
		byName[comp.Name] = comp.ID
	}

	var ids []string
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			r.log.WarnContext(ctx, "project is missing configured component",
				"project", projectKey,
				"component", name,
			)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// whiteboardLabels derives issue labels from the bug's whiteboard text:
// a fixed "bugzilla" label plus one label per bracketed whiteboard entry,
// with inner whitespace collapsed to hyphens.
func whiteboardLabels(whiteboard string) []string {
	labels := []string{"bugzilla"}
	rest := whiteboard
	for {
		open := strings.Index(rest, "[")
		if open < 0 {
			break
		}
		end := strings.Index(rest[open:], "]")
		if end < 0 {
			break
		}
		entry := strings.TrimSpace(rest[open+1 : open+end])
		if entry != "" {
			labels = append(labels, "bugzilla-"+strings.Join(strings.Fields(entry), "-"))
		}
		rest = rest[open+end+1:]
	}
	return labels
}

// truncate returns at most limit bytes of s, preserving the byte prefix.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func contains(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
