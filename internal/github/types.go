package github

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Visibility of a newly created repository.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Repo identifies a repository and carries the fields the orchestrator reads.
type Repo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	HTMLURL       string `json:"htmlUrl"`
	DefaultBranch string `json:"defaultBranch"`
	Private       bool   `json:"private"`
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// Branch mirrors a GitHub branch. It is a display snapshot only.
type Branch struct {
	Name      string `json:"name"`
	SHA       string `json:"sha"`
	IsDefault bool   `json:"isDefault"`
	Protected bool   `json:"protected"`
}

// PullRequest state values as reported by GitHub.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// PullRequest mirrors the last known GitHub state of a pull request.
type PullRequest struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	Author      string   `json:"author"`
	Base        string   `json:"base"`
	Compare     string   `json:"compare"`
	Reviewers   []string `json:"reviewers"`
	URL         string   `json:"url"`
}

// NewPullRequest holds the parameters for opening a pull request.
type NewPullRequest struct {
	Title       string
	Description string
	Base        string
	Compare     string
	Reviewers   []string
}

// PullRequestPatch is an edit request. Only Title and Description are
// mutable; the remaining fields exist so that callers decoding free-form
// input can be rejected before anything reaches GitHub.
type PullRequestPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Base        *string `json:"base,omitempty"`
	Compare     *string `json:"compare,omitempty"`
	State       *string `json:"state,omitempty"`
}

var repoNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// ValidRepoName reports whether name is acceptable to GitHub as a repository name.
func ValidRepoName(name string) bool {
	return repoNameRe.MatchString(name) && name != "." && name != ".."
}

// ParseRepoURL extracts owner and repository from a GitHub repository URL
// of the form https://github.com/<owner>/<repo>[.git][/]. Only the format is
// checked; existence is verified on first use.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", "", fmt.Errorf("invalid repository URL: %q", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid repository URL: %q", raw)
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if owner == "" || !ValidRepoName(repo) {
		return "", "", fmt.Errorf("invalid repository URL: %q", raw)
	}
	return owner, repo, nil
}

var branchNameRe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidBranchName applies the subset of git-check-ref-format rules that can
// be checked without a repository.
func ValidBranchName(name string) bool {
	if name == "" || len(name) > 255 || !branchNameRe.MatchString(name) {
		return false
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.HasPrefix(name, "-") || strings.HasSuffix(name, ".") ||
		strings.HasSuffix(name, ".lock") ||
		strings.Contains(name, "..") || strings.Contains(name, "//") {
		return false
	}
	return true
}
