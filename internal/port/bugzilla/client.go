// Package bugzilla defines the port interface for the source tracker: the
// minimal set of Bugzilla operations the synchronization engine needs.
package bugzilla

import (
	"context"
	"encoding/json"

	"github.com/bugsync/bugsync/internal/domain/bug"
)

// Client is the source-tracker capability interface. Every call may fail
// transiently (retried by the implementation) or fatally (surfaced as a
// *resilience.RemoteError).
type Client interface {
	// GetBug returns a fresh snapshot of the bug.
	GetBug(ctx context.Context, id int) (*bug.Bug, error)

	// GetComments returns the bug's comments in creation order.
	GetComments(ctx context.Context, id int) ([]bug.Comment, error)

	// AddSeeAlsoLink records the Jira issue URL in the bug's see-also
	// field and returns the raw API response.
	AddSeeAlsoLink(ctx context.Context, bugID int, issueKey string) (json.RawMessage, error)

	// LoggedIn reports whether the configured credentials are valid.
	LoggedIn(ctx context.Context) (bool, error)

	// BugURL returns the source-side URL for a bug, used when linking
	// from the target tracker back to the bug.
	BugURL(id int) string
}
