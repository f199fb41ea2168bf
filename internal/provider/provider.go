// Package provider defines the repository-provider capability consumed
// by the Request Coordinator, and its registry of prefix-to-factory
// bindings (spec.md §6, "Provider capability").
//
// Provider implementations translate an opaque, provider-specific spec
// string into a resolved ref, a repo URL, and the metadata the Build and
// Launch drivers need. The coordinator never parses spec strings itself.
package provider

import "context"

// RepoConfig holds the per-repo settings a Provider may override —
// currently just the launch quota, but modeled as a struct so future
// per-repo overrides don't change the Provider interface.
type RepoConfig struct {
	Quota int
}

// Provider is the capability the coordinator drives a single request
// through. One Provider value is bound to one (provider_prefix, spec)
// pair for the lifetime of a request.
type Provider interface {
	// Name is the human-readable provider name (e.g. "GitHub"), used in
	// metric labels and in ref-resolution failure messages.
	Name() string

	// IsBanned reports whether this repo has been administratively
	// disabled from launching.
	IsBanned() bool

	// AuthorizationProvider returns the opaque id under which OAuth
	// tokens for this provider are stored, or "" if this provider does
	// not require authorization.
	AuthorizationProvider() string

	// ValidateAuthorizedToken reports whether a previously stored
	// access token is still valid.
	ValidateAuthorizedToken(ctx context.Context, token string) (bool, error)

	// AuthorizationURL builds the URL the client should be redirected
	// to in order to authorize this BinderHub deployment, embedding an
	// opaque CSRF state value.
	AuthorizationURL(state, binderhubURL string) string

	// RepoURL is the canonical, human-facing URL of the repository.
	RepoURL() string

	// ResolvedRef resolves the spec's ref (branch, tag, short SHA, ...)
	// to an immutable commit-like identifier. Returns ("", nil) — not
	// an error — when the ref genuinely does not exist, matching
	// spec.md §3's "a missing ref fails the request with a
	// provider-specific remediation hint" contract: the coordinator,
	// not the provider, decides how to phrase that hint.
	ResolvedRef(ctx context.Context) (string, error)

	// ResolvedRefURL is a browsable URL for the resolved ref.
	ResolvedRefURL(ctx context.Context) (string, error)

	// ResolvedSpec is the canonical spec string once the ref is
	// resolved (used to build the "persistent" binder URL).
	ResolvedSpec(ctx context.Context) (string, error)

	// BuildSlug is the short identifier namemangler derives build and
	// image names from.
	BuildSlug() string

	// UnresolvedRef is the ref exactly as given in the request, before
	// resolution — used for the GitHub master/main remediation hint.
	UnresolvedRef() string

	// GitCredentials is an opaque credential blob (e.g. "user:token")
	// injected into the build pod's environment for private repos, or
	// "" if the repo is public.
	GitCredentials() string

	// OptionalEnvs returns extra environment variables to inject into
	// the build pod, optionally informed by an OAuth access token.
	OptionalEnvs(accessToken string) map[string]string

	// RepoConfig returns per-repo overrides such as the launch quota.
	RepoConfig() RepoConfig
}

// Factory constructs a Provider bound to one (provider_prefix, spec)
// pair. Implementations typically parse spec into owner/repo/ref parts.
type Factory func(prefix, spec string) (Provider, error)
