// Package sync contains the synchronization engine's core types: the
// operation classification, the per-run action context, and the run outcome.
package sync

import (
	"encoding/json"
	"log/slog"

	"github.com/bugsync/bugsync/internal/domain/bug"
)

// Operation classifies what a pipeline run did (or is doing) with an event.
//
// A run starts at OpIgnore and advances at most once to one of OpCreate,
// OpUpdate or OpComment. OpDelete and OpLink are sub-operations recorded
// transiently for logging during a create run; they are never the final
// outcome of a run.
type Operation string

const (
	OpIgnore  Operation = "ignore"
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpComment Operation = "comment"
	OpDelete  Operation = "delete"
	OpLink    Operation = "link"
)

// Category is the classification of an inbound event that selects which
// configured step list runs.
type Category string

const (
	CategoryNew      Category = "new"
	CategoryExisting Category = "existing"
	CategoryComment  Category = "comment"
)

// LinkState tracks the association between the bug and its Jira issue for
// one run. Issue starts empty and is set exactly once, either from a
// see-also entry on the bug or by the creation step.
type LinkState struct {
	Issue   string
	Project string
}

// ActionContext is the record threaded through a pipeline run. It is
// exclusively owned by that run. Mutations go through the With* methods,
// which return a modified copy so each step's effect is auditable
// independent of later steps.
type ActionContext struct {
	Event     *bug.WebhookEvent
	Bug       *bug.Bug
	Operation Operation
	Link      LinkState
	Extra     map[string]string
}

// NewActionContext builds the initial context for a run, with the
// operation at OpIgnore and the link state pre-populated from the bug's
// see-also entries for the configured project.
func NewActionContext(event *bug.WebhookEvent, b *bug.Bug, projectKey string) ActionContext {
	return ActionContext{
		Event:     event,
		Bug:       b,
		Operation: OpIgnore,
		Link: LinkState{
			Issue:   b.ExtractSeeAlsoKey(projectKey),
			Project: projectKey,
		},
	}
}

// WithOperation returns a copy of the context with the operation advanced.
func (c ActionContext) WithOperation(op Operation) ActionContext {
	c.Operation = op
	return c
}

// WithIssue returns a copy of the context with the linked issue key set.
func (c ActionContext) WithIssue(key string) ActionContext {
	c.Link.Issue = key
	return c
}

// WithExtra returns a copy of the context with an extra key/value recorded.
// The extra map is copied, never shared between snapshots.
func (c ActionContext) WithExtra(key, value string) ActionContext {
	extra := make(map[string]string, len(c.Extra)+1)
	for k, v := range c.Extra {
		extra[k] = v
	}
	extra[key] = value
	c.Extra = extra
	return c
}

// Categorize decides which step group applies to this context:
//
//   - a comment event with a linked issue is CategoryComment
//   - a bug event with no linked issue is CategoryNew
//   - a bug event with a linked issue is CategoryExisting
//
// Any other combination yields ok=false and the run is a no-op.
func (c ActionContext) Categorize() (Category, bool) {
	if c.Event == nil {
		return "", false
	}
	switch c.Event.Target {
	case bug.TargetComment:
		if c.Link.Issue != "" {
			return CategoryComment, true
		}
	case bug.TargetBug:
		if c.Link.Issue == "" {
			return CategoryNew, true
		}
		return CategoryExisting, true
	}
	return "", false
}

// LogValue lets the whole context ride along on slog records.
func (c ActionContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(c.Operation)),
		slog.String("project", c.Link.Project),
	}
	if c.Bug != nil {
		attrs = append(attrs, slog.Int("bug", c.Bug.ID))
	}
	if c.Link.Issue != "" {
		attrs = append(attrs, slog.String("issue", c.Link.Issue))
	}
	if c.Event != nil {
		attrs = append(attrs, slog.String("target", c.Event.Target))
	}
	for k, v := range c.Extra {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Outcome is the result of one pipeline run. Handled is false iff the
// operation never left OpIgnore (a pure no-op run). Responses are the
// opaque remote-call payloads accumulated in call order.
type Outcome struct {
	Handled   bool
	Responses []json.RawMessage
}

// ValidationError reports input that a remote lookup could not resolve
// unambiguously (for example a user query matching zero or several
// accounts). It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
