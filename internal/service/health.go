package service

import (
	"context"
	"log/slog"
	stdsync "sync"

	"golang.org/x/sync/semaphore"

	"github.com/bugsync/bugsync/internal/config"
	portbugzilla "github.com/bugsync/bugsync/internal/port/bugzilla"
	portjira "github.com/bugsync/bugsync/internal/port/jira"
)

// RequiredPermissions are the Jira permissions the engine needs on every
// configured project.
var RequiredPermissions = []string{
	"ADD_COMMENTS",
	"CREATE_ISSUES",
	"DELETE_ISSUES",
	"EDIT_ISSUES",
}

// JiraReport is the capability report for the target tracker.
type JiraReport struct {
	Up                         bool `json:"up"`
	AllProjectsVisible         bool `json:"all_projects_are_visible"`
	AllProjectsHavePermissions bool `json:"all_projects_have_permissions"`
	AllComponentsExist         bool `json:"all_projects_components_exist"`
	AllIssueTypesExist         bool `json:"all_projects_issue_types_exist"`
}

// OK reports whether every check passed.
func (r JiraReport) OK() bool {
	return r.Up && r.AllProjectsVisible && r.AllProjectsHavePermissions &&
		r.AllComponentsExist && r.AllIssueTypesExist
}

// BugzillaReport is the capability report for the source tracker.
type BugzillaReport struct {
	Up       bool `json:"up"`
	LoggedIn bool `json:"logged_in"`
}

// OK reports whether every check passed.
func (r BugzillaReport) OK() bool { return r.Up && r.LoggedIn }

// Verifier validates that the configured credentials can do what the
// engine needs on every configured project: visibility, the required
// permissions, the configured components and the configured issue types.
//
// Permission lookups are independent idempotent reads, so they are issued
// in parallel over a bounded worker pool and collected unordered.
type Verifier struct {
	bugzilla    portbugzilla.Client
	jira        portjira.Client
	actions     *config.Actions
	maxParallel int64
	log         *slog.Logger
}

// NewVerifier creates a Verifier. maxParallel bounds the permission-check
// worker pool.
func NewVerifier(bz portbugzilla.Client, jc portjira.Client, actions *config.Actions, maxParallel int64, log *slog.Logger) *Verifier {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Verifier{
		bugzilla:    bz,
		jira:        jc,
		actions:     actions,
		maxParallel: maxParallel,
		log:         log,
	}
}

// CheckBugzilla verifies the source tracker connection and credentials.
func (v *Verifier) CheckBugzilla(ctx context.Context) BugzillaReport {
	loggedIn, err := v.bugzilla.LoggedIn(ctx)
	if err != nil {
		v.log.ErrorContext(ctx, "bugzilla health check failed", "error", err)
		return BugzillaReport{}
	}
	return BugzillaReport{Up: true, LoggedIn: loggedIn}
}

// CheckJira runs the full capability report against the target tracker.
func (v *Verifier) CheckJira(ctx context.Context) JiraReport {
	_, err := v.jira.ServerInfo(ctx)
	up := err == nil
	if !up {
		v.log.ErrorContext(ctx, "jira server info failed", "error", err)
	}

	report := JiraReport{
		Up:                         up,
		AllProjectsHavePermissions: v.allProjectsHavePermissions(ctx),
	}
	if up {
		report.AllProjectsVisible = v.allProjectsVisible(ctx)
		report.AllComponentsExist = v.allComponentsExist(ctx)
		report.AllIssueTypesExist = v.allIssueTypesExist(ctx)
	}
	return report
}

func (v *Verifier) allProjectsVisible(ctx context.Context) bool {
	projects, err := v.jira.ListVisibleProjects(ctx)
	if err != nil {
		v.log.ErrorContext(ctx, "listing visible projects failed", "error", err)
		return false
	}

	visible := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		visible[p.Key] = struct{}{}
	}

	ok := true
	for _, key := range v.actions.ProjectKeys() {
		if _, found := visible[key]; !found {
			v.log.ErrorContext(ctx, "project is not visible with configured credentials", "project", key)
			ok = false
		}
	}
	return ok
}

// allProjectsHavePermissions fetches per-project permissions in parallel
// and validates that every required permission is granted.
func (v *Verifier) allProjectsHavePermissions(ctx context.Context) bool {
	perms := v.fetchProjectPermissions(ctx)

	ok := true
	for _, key := range v.actions.ProjectKeys() {
		granted, fetched := perms[key]
		if !fetched {
			ok = false
			continue
		}

		var missing []string
		for _, required := range RequiredPermissions {
			entry, found := granted[required]
			if !found || !entry.HavePermission {
				missing = append(missing, required)
			}
		}
		if len(missing) > 0 {
			v.log.ErrorContext(ctx, "configured credentials are missing permissions",
				"project", key,
				"missing", missing,
			)
			ok = false
		}
	}
	return ok
}

// fetchProjectPermissions queries permissions for all configured projects
// over a bounded worker pool, collecting results as they complete.
// Ordering is sacrificed for latency; the checks are independent reads.
func (v *Verifier) fetchProjectPermissions(ctx context.Context) map[string]map[string]portjira.Permission {
	sem := semaphore.NewWeighted(v.maxParallel)
	results := make(map[string]map[string]portjira.Permission)

	var mu stdsync.Mutex
	var wg stdsync.WaitGroup
	for _, key := range v.actions.ProjectKeys() {
		wg.Add(1)
		go func(projectKey string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			granted, err := v.jira.GetPermissions(ctx, projectKey, RequiredPermissions)
			if err != nil {
				v.log.ErrorContext(ctx, "permission lookup failed", "project", projectKey, "error", err)
				return
			}
			mu.Lock()
			results[projectKey] = granted
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	return results
}

func (v *Verifier) allComponentsExist(ctx context.Context) bool {
	ok := true
	for _, action := range v.actions.All() {
		if len(action.JiraComponents) == 0 {
			continue
		}

		components, err := v.jira.GetProjectComponents(ctx, action.JiraProjectKey)
		if err != nil {
			v.log.ErrorContext(ctx, "component lookup failed", "project", action.JiraProjectKey, "error", err)
			ok = false
			continue
		}

		names := make(map[string]struct{}, len(components))
		for _, comp := range components {
			names[comp.Name] = struct{}{}
		}
		for _, wanted := range action.JiraComponents {
			if _, found := names[wanted]; !found {
				v.log.ErrorContext(ctx, "project does not have configured component",
					"project", action.JiraProjectKey,
					"component", wanted,
				)
				ok = false
			}
		}
	}
	return ok
}

func (v *Verifier) allIssueTypesExist(ctx context.Context) bool {
	ok := true
	for _, action := range v.actions.All() {
		if len(action.IssueTypeMap) == 0 {
			continue
		}

		project, err := v.jira.GetProject(ctx, action.JiraProjectKey)
		if err != nil {
			v.log.ErrorContext(ctx, "project lookup failed", "project", action.JiraProjectKey, "error", err)
			ok = false
			continue
		}

		available := make(map[string]struct{}, len(project.IssueTypes))
		for _, it := range project.IssueTypes {
			available[it.Name] = struct{}{}
		}
		for _, wanted := range action.IssueTypeMap {
			if _, found := available[wanted]; !found {
				v.log.ErrorContext(ctx, "project does not have configured issue type",
					"project", action.JiraProjectKey,
					"issue_type", wanted,
				)
				ok = false
			}
		}
	}
	return ok
}
