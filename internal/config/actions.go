package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is the static per-project configuration for one whiteboard tag:
// which Jira project to sync into and which ordered step lists run for
// each event category. Loaded once at startup, immutable thereafter.
type Action struct {
	WhiteboardTag        string            `yaml:"whiteboard_tag"`
	JiraProjectKey       string            `yaml:"jira_project_key"`
	SyncWhiteboardLabels *bool             `yaml:"sync_whiteboard_labels"`
	SyncAssignee         bool              `yaml:"sync_assignee"`
	IssueTypeMap         map[string]string `yaml:"issue_type_map"`
	JiraComponents       []string          `yaml:"jira_components"`
	StatusMap            map[string]string `yaml:"status_map"`
	Steps                Steps             `yaml:"steps"`
}

// Steps maps each event category to its ordered step list.
type Steps struct {
	New      []string `yaml:"new"`
	Existing []string `yaml:"existing"`
	Comment  []string `yaml:"comment"`
}

// DefaultSteps is the step configuration used when an action omits one.
func DefaultSteps() Steps {
	return Steps{
		New: []string{
			"create_issue",
			"maybe_delete_duplicate",
			"add_link_to_bugzilla",
			"add_link_to_jira",
		},
		Existing: []string{
			"update_issue",
			"add_comments_for_changes",
		},
		Comment: []string{
			"create_comment",
		},
	}
}

// LabelsEnabled reports whether whiteboard label sync is on for this
// action. It defaults to true when unset.
func (a *Action) LabelsEnabled() bool {
	return a.SyncWhiteboardLabels == nil || *a.SyncWhiteboardLabels
}

// IssueTypeFor maps a bug type to the Jira issue type name to create.
func (a *Action) IssueTypeFor(bugType string) string {
	if t, ok := a.IssueTypeMap[bugType]; ok {
		return t
	}
	if bugType == "enhancement" || bugType == "task" {
		return "Task"
	}
	return "Bug"
}

// Actions is the loaded, validated action set, addressable by whiteboard tag.
type Actions struct {
	byTag map[string]*Action
	list  []*Action
}

// ForWhiteboard returns the action whose tag appears in the given
// whiteboard text, if any.
func (a *Actions) ForWhiteboard(whiteboard string) (*Action, bool) {
	wb := strings.ToLower(whiteboard)
	for tag, action := range a.byTag {
		if strings.Contains(wb, "["+tag) {
			return action, true
		}
	}
	return nil, false
}

// All returns the configured actions in load order.
func (a *Actions) All() []*Action {
	return a.list
}

// ProjectKeys returns the distinct configured Jira project keys, sorted.
func (a *Actions) ProjectKeys() []string {
	seen := make(map[string]struct{}, len(a.list))
	for _, action := range a.list {
		seen[action.JiraProjectKey] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of configured actions.
func (a *Actions) Len() int { return len(a.list) }

type actionsFile struct {
	Actions []*Action `yaml:"actions"`
}

// LoadActions reads and validates the actions YAML file. Unlike the
// service config, the actions file is required: the engine has nothing to
// do without it. Validation failures abort startup, never the first event.
func LoadActions(path string) (*Actions, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file actionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(file.Actions) == 0 {
		return nil, errors.New("actions file defines no actions")
	}

	actions := &Actions{byTag: make(map[string]*Action, len(file.Actions))}
	for i, action := range file.Actions {
		if err := normalizeAction(action); err != nil {
			return nil, fmt.Errorf("action #%d: %w", i+1, err)
		}
		if _, dup := actions.byTag[action.WhiteboardTag]; dup {
			return nil, fmt.Errorf("action #%d: duplicate whiteboard tag %q", i+1, action.WhiteboardTag)
		}
		actions.byTag[action.WhiteboardTag] = action
		actions.list = append(actions.list, action)
	}

	return actions, nil
}

func normalizeAction(a *Action) error {
	if a.WhiteboardTag == "" {
		return errors.New("whiteboard_tag is required")
	}
	a.WhiteboardTag = strings.ToLower(a.WhiteboardTag)
	if a.JiraProjectKey == "" {
		return errors.New("jira_project_key is required")
	}

	defaults := DefaultSteps()
	if len(a.Steps.New) == 0 {
		a.Steps.New = defaults.New
	}
	if len(a.Steps.Existing) == 0 {
		a.Steps.Existing = defaults.Existing
	}
	if len(a.Steps.Comment) == 0 {
		a.Steps.Comment = defaults.Comment
	}
	return nil
}
