// Package config loads the build-and-launch coordinator's
// configuration from a YAML file, with environment-variable overrides
// for the handful of values operators commonly need to pin at deploy
// time (spec.md §6).
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// LauncherConfig holds the retry policy and per-deployment launch
// behavior (spec.md §4.6).
type LauncherConfig struct {
	Retries           int    `json:"retries"`
	RetryDelaySeconds int    `json:"retry_delay_seconds"`
	AllowNamedServers bool   `json:"allow_named_servers"`
}

// RepoOverride is a spec-keyed override of the default quota, read from
// repo_providers in the original settings dict.
type RepoOverride struct {
	Spec  string `json:"spec"`
	Quota int    `json:"quota"`
}

// Config is the full set of options spec.md §6 enumerates.
type Config struct {
	UseRegistry         bool           `json:"use_registry"`
	Registry            string         `json:"registry"`
	PushSecret          string         `json:"push_secret"`
	ImagePrefix         string         `json:"image_prefix"`
	BaseURL             string         `json:"base_url"`
	BuildNamespace      string         `json:"build_namespace"`
	BuildImage          string         `json:"build_image"`
	BuildMemoryLimit    string         `json:"build_memory_limit"`
	BuildMemoryRequest  string         `json:"build_memory_request"`
	BuildDockerHost     string         `json:"build_docker_host"`
	BuildNodeSelector   map[string]string `json:"build_node_selector"`
	LogTailLines        int            `json:"log_tail_lines"`
	StickyBuilds        bool           `json:"sticky_builds"`
	Appendix            string         `json:"appendix"`
	AuthEnabled         bool           `json:"auth_enabled"`
	NormalizedOrigin    string         `json:"normalized_origin"`
	FakeBuild           bool           `json:"fake_build"`
	DefaultQuota        int            `json:"default_quota"`
	RepoOverrides       []RepoOverride `json:"repo_overrides"`
	Launcher            LauncherConfig `json:"launcher"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	ListenAddr string `json:"listen_addr"`

	HubAPIURL   string `json:"hub_api_url"`
	HubAPIToken string `json:"hub_api_token"`

	DockerSocketPath string `json:"docker_socket_path"`

	GitHubOAuthClientID     string `json:"github_oauth_client_id"`
	GitHubOAuthClientSecret string `json:"github_oauth_client_secret"`
	GitHubOAuthRedirectURL  string `json:"github_oauth_redirect_url"`
}

// Defaults returns a Config matching builder.py's module-level
// defaults, to be overlaid by a loaded file and then flags.
func Defaults() Config {
	return Config{
		BuildNamespace:   "default",
		LogTailLines:     100,
		Launcher: LauncherConfig{
			Retries:           3,
			RetryDelaySeconds: 4,
		},
		LogLevel:         "info",
		LogFormat:        "json",
		ListenAddr:       ":8080",
		DockerSocketPath: "/var/run/docker.sock",
	}
}

// Load reads a YAML config file at path into a Config seeded with
// Defaults(), then applies a small set of environment-variable
// overrides operators commonly need without editing the file
// (BINDERHUB_LISTEN_ADDR, BINDERHUB_LOG_LEVEL).
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("BINDERHUB_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BINDERHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// QuotaFor returns the quota configured for spec, falling back to
// DefaultQuota when no override matches (spec.md §4.6, repo_config).
func (c Config) QuotaFor(spec string) int {
	for _, o := range c.RepoOverrides {
		if o.Spec == spec {
			return o.Quota
		}
	}
	return c.DefaultQuota
}
