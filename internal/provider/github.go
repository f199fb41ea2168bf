package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	oauth2github "golang.org/x/oauth2/github"
)

// GitHubPrefix is the conventional provider_prefix this factory
// registers under.
const GitHubPrefix = "gh"

// GitHubConfig holds the deployment-wide settings shared by every
// GitHubProvider instance this factory produces.
type GitHubConfig struct {
	// OAuth, if non-nil, enables the authorization handshake of
	// spec.md §4.7 step 4. Nil means this deployment launches
	// unauthenticated.
	OAuth *oauth2.Config

	// BannedRepos is the set of "owner/repo" strings administratively
	// disabled from launching.
	BannedRepos map[string]bool

	// Quota is the default per-repo launch quota; 0 means unlimited.
	Quota int

	// APIBaseURL defaults to "https://api.github.com"; overridable for
	// GitHub Enterprise Server deployments.
	APIBaseURL string

	// HTTPClient is the client used for GitHub REST API calls.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// NewGitHubFactory returns a Factory bound to cfg, registerable via
// provider.Register(provider.GitHubPrefix, NewGitHubFactory(cfg)).
func NewGitHubFactory(cfg GitHubConfig) Factory {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return func(prefix, spec string) (Provider, error) {
		owner, repo, ref, err := parseGitHubSpec(spec)
		if err != nil {
			return nil, err
		}
		return &GitHubProvider{
			cfg:           cfg,
			owner:         owner,
			repo:          repo,
			unresolvedRef: ref,
		}, nil
	}
}

// parseGitHubSpec splits "owner/repo[/ref]" into its parts. ref
// defaults to "master" when omitted, matching classic GitHub defaults;
// callers that need "main" pass it explicitly in the spec.
func parseGitHubSpec(spec string) (owner, repo, ref string, err error) {
	parts := strings.SplitN(spec, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid GitHub spec %q: want owner/repo[/ref]", spec)
	}
	ref = "master"
	if len(parts) == 3 && parts[2] != "" {
		ref = parts[2]
	}
	return parts[0], parts[1], ref, nil
}

// GitHubProvider implements Provider for repositories hosted on
// github.com (or a GitHub Enterprise Server instance).
type GitHubProvider struct {
	cfg           GitHubConfig
	owner, repo   string
	unresolvedRef string

	resolvedRef string
	resolved    bool
}

var _ Provider = (*GitHubProvider)(nil)

func (g *GitHubProvider) Name() string { return "GitHub" }

func (g *GitHubProvider) IsBanned() bool {
	return g.cfg.BannedRepos[g.owner+"/"+g.repo]
}

func (g *GitHubProvider) AuthorizationProvider() string {
	if g.cfg.OAuth == nil {
		return ""
	}
	return "github"
}

func (g *GitHubProvider) AuthorizationURL(state, binderhubURL string) string {
	cfg := *g.cfg.OAuth
	cfg.RedirectURL = strings.TrimRight(binderhubURL, "/") + "/oauth_callback"
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *GitHubProvider) ValidateAuthorizedToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIBaseURL+"/user", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "token "+token)
	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (g *GitHubProvider) RepoURL() string {
	return fmt.Sprintf("https://github.com/%s/%s", g.owner, g.repo)
}

type githubCommit struct {
	SHA string `json:"sha"`
}

// ResolvedRef resolves g.unresolvedRef against the GitHub commits API.
// A 404 is reported as ("", nil): the ref does not exist, which is not
// a transport error (spec.md §3, §7).
func (g *GitHubProvider) ResolvedRef(ctx context.Context) (string, error) {
	if g.resolved {
		return g.resolvedRef, nil
	}
	url := fmt.Sprintf("%s/repos/%s/%s/commits/%s", g.cfg.APIBaseURL, g.owner, g.repo, g.unresolvedRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3.sha")
	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolving ref %s: %w", g.unresolvedRef, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var commit githubCommit
		if err := json.NewDecoder(resp.Body).Decode(&commit); err != nil {
			return "", fmt.Errorf("decoding commit response: %w", err)
		}
		g.resolvedRef = commit.SHA
		g.resolved = true
		return g.resolvedRef, nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("GitHub API returned %s resolving %s/%s@%s", resp.Status, g.owner, g.repo, g.unresolvedRef)
	}
}

func (g *GitHubProvider) ResolvedRefURL(ctx context.Context) (string, error) {
	ref, err := g.ResolvedRef(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s/tree/%s", g.owner, g.repo, ref), nil
}

func (g *GitHubProvider) ResolvedSpec(ctx context.Context) (string, error) {
	ref, err := g.ResolvedRef(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", g.owner, g.repo, ref), nil
}

func (g *GitHubProvider) BuildSlug() string { return g.owner + "/" + g.repo }

func (g *GitHubProvider) UnresolvedRef() string { return g.unresolvedRef }

func (g *GitHubProvider) GitCredentials() string { return "" }

func (g *GitHubProvider) OptionalEnvs(accessToken string) map[string]string {
	if accessToken == "" {
		return nil
	}
	return map[string]string{"GITHUB_TOKEN": accessToken}
}

func (g *GitHubProvider) RepoConfig() RepoConfig {
	return RepoConfig{Quota: g.cfg.Quota}
}

// GitHubEndpoint re-exports the standard GitHub OAuth endpoint so
// callers constructing a GitHubConfig.OAuth don't need to import
// golang.org/x/oauth2/github themselves.
var GitHubEndpoint = oauth2github.Endpoint
