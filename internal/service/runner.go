// Package service contains the synchronization engine: the step pipeline
// runner, the canonical step set, and the capability verifier.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bugsync/bugsync/internal/config"
	"github.com/bugsync/bugsync/internal/domain/bug"
	"github.com/bugsync/bugsync/internal/domain/sync"
	portbugzilla "github.com/bugsync/bugsync/internal/port/bugzilla"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
)

// stepFunc is a single pipeline step: a function of the action context and
// static action parameters that returns the (possibly advanced) context
// and the remote-call responses it issued, in call order.
//
// Steps self-guard: a step executes its effect only if the guard for its
// category still holds when it runs, because an earlier step in the same
// run may have already advanced the operation.
type stepFunc func(ctx context.Context, actx sync.ActionContext, action *config.Action) (sync.ActionContext, []json.RawMessage, error)

// Runner executes the configured step pipeline for inbound webhook events.
// It holds the two tracker clients and a closed registry of step
// implementations, keyed by the names used in the actions file.
type Runner struct {
	bugzilla portbugzilla.Client
	jira     portjira.Client
	log      *slog.Logger
	steps    map[string]stepFunc
}

// NewRunner builds a Runner and validates that every step name the actions
// file references resolves to a known step implementation. Unknown names
// fail here, at startup, never at the first event.
func NewRunner(bz portbugzilla.Client, jc portjira.Client, actions *config.Actions, log *slog.Logger) (*Runner, error) {
	r := &Runner{
		bugzilla: bz,
		jira:     jc,
		log:      log,
	}
	r.steps = map[string]stepFunc{
		"create_issue":             r.stepCreateIssue,
		"maybe_delete_duplicate":   r.stepMaybeDeleteDuplicate,
		"add_link_to_bugzilla":     r.stepAddLinkToBugzilla,
		"add_link_to_jira":         r.stepAddLinkToJira,
		"update_issue":             r.stepUpdateIssue,
		"add_comments_for_changes": r.stepAddCommentsForChanges,
		"create_comment":           r.stepCreateComment,
	}

	for _, action := range actions.All() {
		lists := [][]string{action.Steps.New, action.Steps.Existing, action.Steps.Comment}
		for _, list := range lists {
			for _, name := range list {
				if _, ok := r.steps[name]; !ok {
					return nil, fmt.Errorf("action %q: unknown step %q", action.WhiteboardTag, name)
				}
			}
		}
	}

	return r, nil
}

// Run executes one pipeline run for an inbound event against the given
// action. The returned outcome reports whether anything happened
// (operation left OpIgnore) and the remote-call responses in call order.
//
// A step error aborts the remainder of the pipeline; already-completed
// remote effects stay in place, except for the explicit duplicate
// rollback performed by maybe_delete_duplicate.
func (r *Runner) Run(ctx context.Context, action *config.Action, event *bug.WebhookEvent, b *bug.Bug) (sync.Outcome, error) {
	actx := sync.NewActionContext(event, b, action.JiraProjectKey)

	category, ok := actx.Categorize()
	if !ok {
		r.log.DebugContext(ctx, "ignoring event", "target", event.Target, "context", actx)
		return sync.Outcome{}, nil
	}

	var list []string
	switch category {
	case sync.CategoryNew:
		list = action.Steps.New
	case sync.CategoryExisting:
		list = action.Steps.Existing
	case sync.CategoryComment:
		list = action.Steps.Comment
	}

	var responses []json.RawMessage
	for _, name := range list {
		next, stepResponses, err := r.steps[name](ctx, actx, action)
		responses = append(responses, stepResponses...)
		if err != nil {
			return sync.Outcome{
				Handled:   next.Operation != sync.OpIgnore,
				Responses: responses,
			}, fmt.Errorf("step %s: %w", name, err)
		}
		actx = next
	}

	handled := actx.Operation != sync.OpIgnore
	if !handled {
		r.log.DebugContext(ctx, "event produced no operation", "context", actx)
	}
	return sync.Outcome{Handled: handled, Responses: responses}, nil
}
