package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

// DockerDaemonLister implements DaemonImageLister against a local
// Docker daemon's Unix socket, used when BinderHub builds directly
// onto the node instead of pushing to a registry (spec.md §4.4, "local
// mode"). No third-party Docker client library appears anywhere in the
// retrieval pack, so this talks to the daemon's HTTP API directly over
// the socket — the same minimal-client approach the pack takes for
// every other narrow HTTP dependency (see DESIGN.md).
type DockerDaemonLister struct {
	SocketPath string
	HTTP       *http.Client
}

// NewDockerDaemonLister returns a lister dialing the given Docker
// socket path (typically "/var/run/docker.sock").
func NewDockerDaemonLister(socketPath string) *DockerDaemonLister {
	return &DockerDaemonLister{
		SocketPath: socketPath,
		HTTP: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

type dockerImageSummary struct {
	RepoTags []string `json:"RepoTags"`
}

// ImageNamed reports whether the daemon has an image tagged imageName.
func (d *DockerDaemonLister) ImageNamed(ctx context.Context, imageName string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/images/json", nil)
	if err != nil {
		return false, fmt.Errorf("probe: building docker request: %w", err)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe: querying docker daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("probe: docker daemon returned %s", resp.Status)
	}

	var images []dockerImageSummary
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		return false, fmt.Errorf("probe: decoding docker response: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return true, nil
			}
		}
	}
	return false, nil
}
