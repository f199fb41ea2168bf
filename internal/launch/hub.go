package launch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

// HubLauncher asks a JupyterHub deployment's REST API to spawn a
// server for an image, the real-world implementation of the Launcher
// capability (spec.md §6).
type HubLauncher struct {
	// BaseURL is the hub's API root, e.g. "https://hub.example.com/hub/api".
	BaseURL string
	// Token authenticates against the hub's API as a service.
	Token string
	HTTP  *http.Client

	AllowNamedServers bool
}

// UniqueNameFromRepo derives a deterministic, DNS-safe per-repo
// username for anonymous (auth-disabled) launches, matching the
// original launcher's "unique_name_from_repo" helper: a short hash
// suffix keeps usernames stable across retries for the same repo
// while staying unique across repos.
func UniqueNameFromRepo(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return "binder-" + hex.EncodeToString(sum[:])[:16]
}

type spawnRequest struct {
	Image     string            `json:"image"`
	ExtraArgs map[string]string `json:"extra_args,omitempty"`
}

// Launch POSTs a spawn request to the hub for (req.Username,
// req.ServerName) and waits for its server_info response.
func (l *HubLauncher) Launch(ctx context.Context, req Request) (ServerInfo, error) {
	server := req.ServerName
	if !l.AllowNamedServers {
		server = ""
	}

	url := fmt.Sprintf("%s/users/%s/servers/%s", l.BaseURL, req.Username, server)
	body, err := json.Marshal(spawnRequest{Image: req.Image, ExtraArgs: req.ExtraArgs})
	if err != nil {
		return ServerInfo{}, fmt.Errorf("launch: encoding spawn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ServerInfo{}, fmt.Errorf("launch: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "token "+l.Token)
	httpReq.Header.Set("Content-Type", "application/json")

	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("launch: spawning server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ServerInfo{}, fmt.Errorf("launch: hub returned %s", resp.Status)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ServerInfo{}, fmt.Errorf("launch: decoding spawn response: %w", err)
	}

	urlField, _ := raw["url"].(string)
	delete(raw, "url")
	return ServerInfo{URL: urlField, Extra: raw}, nil
}
