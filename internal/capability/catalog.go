// Package capability loads and validates the tool capability configuration.
package capability

import "slices"

// Role identifies the agent role requesting tool access.
type Role string

const (
	// RolePlanner performs read-only analysis and planning.
	RolePlanner Role = "PLANNER"
	// RoleImplementer performs code and environment changes.
	RoleImplementer Role = "IMPLEMENTER"
	// RoleAuditor reviews outcomes and evidence.
	RoleAuditor Role = "AUDITOR"
)

// actionCatalogs fixes the full action set per provider. Configured
// allowlists must be subsets of these; the catalogs are disjoint so an
// action name identifies its provider unambiguously.
var actionCatalogs = map[string][]string{
	"github": {
		"list_issues", "get_issue", "list_prs",
		"get_pr", "get_checks", "get_ci_status",
	},
	"docs-search": {
		"search", "get", "list",
	},
	"browser": {
		"navigate", "click", "type_text", "take_screenshot",
		"get_text", "wait_for_element", "execute_script", "get_page_info",
	},
	"sentry": {
		"list_errors", "get_error", "list_events", "get_event",
	},
	"security": {
		"scan_dependencies", "scan_code", "check_secrets",
		"vulnerability_report", "compliance_check", "get_scan_results",
	},
	"container": {
		"build_image", "run_container", "list_images", "scan_image",
		"get_logs", "cleanup_images",
	},
}

// requiredEnv lists the environment variables a provider needs at call time.
var requiredEnv = map[string][]string{
	"github":      {"GITHUB_TOKEN"},
	"docs-search": {},
	"browser":     {},
	"sentry":      {"SENTRY_AUTH_TOKEN"},
	"security":    {},
	"container":   {},
}

// roleEligibility fixes which roles may use each provider. Browser and
// container automation exclude the planning role; scanning excludes the
// implementation role.
var roleEligibility = map[string][]Role{
	"github":      {RolePlanner, RoleImplementer, RoleAuditor},
	"docs-search": {RolePlanner, RoleImplementer, RoleAuditor},
	"browser":     {RoleImplementer, RoleAuditor},
	"sentry":      {RolePlanner, RoleImplementer, RoleAuditor},
	"security":    {RolePlanner, RoleAuditor},
	"container":   {RoleImplementer, RoleAuditor},
}

// providerKeywords maps each provider to lowercase task keywords used by the
// suggestion planner. Matching is substring containment on the lowered task.
var providerKeywords = map[string][]string{
	"github": {
		"github", "issue", "pr", "pull request", "repo", "repository",
		"branch", "commit", "merge", "code review",
	},
	"docs-search": {
		"docs", "documentation", "library", "lookup", "reference", "search",
	},
	"browser": {
		"browser", "e2e", "ui", "screenshot", "web", "page", "click",
		"navigate", "automation",
	},
	"sentry": {
		"sentry", "error", "exception", "bug", "crash", "monitor",
	},
	"security": {
		"security", "scan", "vuln", "vulnerability", "deps",
		"dependencies", "secrets", "audit", "compliance",
	},
	"container": {
		"docker", "container", "image", "registry", "cleanup",
	},
}

// localToolHints names local command-line substitutes per provider family,
// used when the planner prefers local tools over brokered calls.
var localToolHints = map[string]string{
	"github":      "gh",
	"docs-search": "rg",
	"browser":     "npx playwright",
	"sentry":      "sentry-cli",
	"security":    "npm audit",
	"container":   "docker",
}

// actionParamTemplates provides fixed, deterministic parameter payloads per
// action for autonomous execution.
var actionParamTemplates = map[string]map[string]any{
	"list_issues":          {"limit": 5},
	"get_issue":            {"issue_number": 1},
	"list_prs":             {"limit": 5},
	"get_pr":               {"pr_number": 1},
	"get_checks":           {"ref": "main"},
	"get_ci_status":        {"ref": "main"},
	"search":               {"query": "test search"},
	"get":                  {"id": "test-id"},
	"list":                 {},
	"navigate":             {"url": "https://example.com"},
	"click":                {"selector": "button"},
	"type_text":            {"selector": "input", "text": "example"},
	"take_screenshot":      {"selector": "body", "path": "screenshot.png"},
	"get_text":             {"selector": "h1"},
	"wait_for_element":     {"selector": "h1", "timeout": 5000},
	"execute_script":       {"script": "return document.title"},
	"get_page_info":        {},
	"list_errors":          {"limit": 5},
	"get_error":            {"error_id": "latest"},
	"list_events":          {"limit": 5},
	"get_event":            {"event_id": "latest"},
	"scan_dependencies":    {"path": "."},
	"scan_code":            {"path": "."},
	"check_secrets":        {"path": "."},
	"vulnerability_report": {"path": "."},
	"compliance_check":     {"path": "."},
	"get_scan_results":     {"scan_id": "latest"},
	"build_image":          {"dockerfile": "Dockerfile", "tag": "app:latest"},
	"run_container":        {"image": "nginx:latest"},
	"list_images":          {},
	"scan_image":           {"image": "nginx:latest"},
	"get_logs":             {"container_id": "latest"},
	"cleanup_images":       {"older_than_days": 30},
}

// KnownProviders returns the sorted names of all providers in the catalog.
func KnownProviders() []string {
	names := make([]string, 0, len(actionCatalogs))
	for name := range actionCatalogs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ActionCatalog returns the fixed action catalog for a provider.
func ActionCatalog(provider string) []string {
	actions, ok := actionCatalogs[provider]
	if !ok {
		return nil
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// RequiredEnv returns the environment variables a provider requires.
func RequiredEnv(provider string) []string {
	env, ok := requiredEnv[provider]
	if !ok {
		return nil
	}
	out := make([]string, len(env))
	copy(out, env)
	return out
}

// EligibleRoles returns the fixed role-eligibility set for a provider.
func EligibleRoles(provider string) []Role {
	roles, ok := roleEligibility[provider]
	if !ok {
		return nil
	}
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// RoleEligible reports whether the role may use the provider.
func RoleEligible(provider string, role Role) bool {
	for _, eligible := range roleEligibility[provider] {
		if eligible == role {
			return true
		}
	}
	return false
}

// ProviderKeywords returns the task keywords associated with a provider.
func ProviderKeywords(provider string) []string {
	keywords, ok := providerKeywords[provider]
	if !ok {
		return nil
	}
	out := make([]string, len(keywords))
	copy(out, keywords)
	return out
}

// LocalToolHint returns the name of a local substitute tool for a provider,
// or "" when none is known.
func LocalToolHint(provider string) string {
	return localToolHints[provider]
}

// ActionParams returns a copy of the fixed parameter template for an action.
// Unknown actions yield an empty map.
func ActionParams(action string) map[string]any {
	template, ok := actionParamTemplates[action]
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(template))
	for key, value := range template {
		out[key] = value
	}
	return out
}
