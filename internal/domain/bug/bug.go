// Package bug contains the inbound Bugzilla-side domain model: the bug
// snapshot carried by a webhook payload and the change event describing
// what happened to it.
package bug

import (
	"regexp"
	"strings"
)

// issueKeyPattern matches a Jira-style issue key, e.g. "JBI-234".
var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-\d+$`)

// Bug is an immutable snapshot of a Bugzilla bug. It is built from a
// webhook payload or a fresh API fetch and never mutated in place; callers
// that need a fresher view re-fetch the bug.
type Bug struct {
	ID         int       `json:"id"`
	IsPrivate  bool      `json:"is_private,omitempty"`
	Type       string    `json:"type,omitempty"`
	Product    string    `json:"product,omitempty"`
	Component  string    `json:"component,omitempty"`
	Summary    string    `json:"summary"`
	Status     string    `json:"status,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Whiteboard string    `json:"whiteboard,omitempty"`
	SeeAlso    []string  `json:"see_also,omitempty"`
	Comment    *Comment  `json:"comment,omitempty"`
}

// Comment is a single bug comment. Webhook payloads for comment events
// carry the triggering comment inline; creation flows fetch the comment
// list to use the first entry as the issue description.
type Comment struct {
	ID      int    `json:"id,omitempty"`
	Number  int    `json:"number,omitempty"`
	Creator string `json:"creator,omitempty"`
	Body    string `json:"body"`
	IsPrivate bool `json:"is_private,omitempty"`
}

// WebhookEvent is the notification part of a webhook payload.
type WebhookEvent struct {
	Action       string   `json:"action,omitempty"`
	Target       string   `json:"target"`
	RoutingKey   string   `json:"routing_key,omitempty"`
	Time         string   `json:"time,omitempty"`
	User         *User    `json:"user,omitempty"`
	Changes      []Change `json:"changes,omitempty"`
}

// User is the acting user of an event. It may be absent from the payload.
type User struct {
	ID      int    `json:"id,omitempty"`
	Login   string `json:"login"`
	RealName string `json:"real_name,omitempty"`
}

// Change is a single field modification carried by an event.
type Change struct {
	Field   string `json:"field"`
	Removed string `json:"removed"`
	Added   string `json:"added"`
}

// Payload is the full webhook request body.
type Payload struct {
	WebhookID   int64         `json:"webhook_id,omitempty"`
	WebhookName string        `json:"webhook_name,omitempty"`
	Bug         *Bug          `json:"bug"`
	Event       *WebhookEvent `json:"event"`
}

// TargetBug and TargetComment are the two event targets the engine reacts to.
const (
	TargetBug     = "bug"
	TargetComment = "comment"
)

// UserLogin returns the acting user's login, or "unknown" when the payload
// carried no user.
func (e *WebhookEvent) UserLogin() string {
	if e == nil || e.User == nil || e.User.Login == "" {
		return "unknown"
	}
	return e.User.Login
}

// ChangedFields returns the names of the changed fields in event order.
func (e *WebhookEvent) ChangedFields() []string {
	if e == nil || len(e.Changes) == 0 {
		return nil
	}
	fields := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		fields = append(fields, c.Field)
	}
	return fields
}

// ExtractSeeAlsoKey scans the bug's see-also URLs for a Jira issue key
// belonging to projectKey. It returns the first match, or "" when the bug
// has no linked issue for that project.
//
// See-also entries are full URLs; the issue key is the last path segment
// (e.g. "https://example.atlassian.net/browse/JBI-234").
func (b *Bug) ExtractSeeAlsoKey(projectKey string) string {
	for _, url := range b.SeeAlso {
		segment := lastPathSegment(url)
		if !issueKeyPattern.MatchString(segment) {
			continue
		}
		if projectKey == "" || strings.HasPrefix(segment, projectKey+"-") {
			return segment
		}
	}
	return ""
}

func lastPathSegment(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
