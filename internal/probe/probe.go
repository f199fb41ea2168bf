// Package probe implements the Image Presence Probe: given a fully
// qualified image name, decide whether a build can be skipped because
// the image already exists (spec.md §4.4).
package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/binderhub-go/coordinator/internal/registryclient"
)

// maxAttempts bounds the retries on transport errors talking to the
// registry; a registry that is simply down must not wedge the build
// queue forever.
const maxAttempts = 3

// retryBackoff is the fixed pause between attempts. The registry probe
// is not the launch retry loop (spec.md §4.6) and does not need
// exponential growth: three quick attempts are enough to ride out a
// transient connection reset.
const retryBackoff = 500 * time.Millisecond

// Prober decides image presence.
type Prober interface {
	ImageExists(ctx context.Context, imageName string) (bool, error)
}

// RegistryProber checks a container registry's manifest endpoint.
type RegistryProber struct {
	Client registryclient.Client
	Log    logr.Logger
}

// splitImageName splits "host/path/name:tag" into repo and tag at the
// rightmost colon, the same convention the build name mangler uses
// when it joins them (spec.md §4.2, §4.4).
func splitImageName(imageName string) (repo, tag string) {
	idx := strings.LastIndex(imageName, ":")
	if idx < 0 {
		return imageName, "latest"
	}
	return imageName[:idx], imageName[idx+1:]
}

// ImageExists reports whether imageName already has a manifest in the
// registry, retrying up to maxAttempts times on transport errors. A
// definitive "not found" response is never retried.
func (p *RegistryProber) ImageExists(ctx context.Context, imageName string) (bool, error) {
	repo, tag := splitImageName(imageName)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		manifest, err := p.Client.GetImageManifest(ctx, repo, tag)
		if err == nil {
			return manifest != nil, nil
		}
		lastErr = err
		p.Log.V(1).Info("registry probe attempt failed", "attempt", attempt, "repo", repo, "tag", tag, "error", err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return false, errors.New("probe: registry unreachable after retries: " + lastErr.Error())
}

// LocalDaemonProber checks a local container daemon for an image with
// a matching name, used when BinderHub is configured to build directly
// onto the node's Docker daemon instead of pushing to a registry
// (spec.md §4.4, "local mode").
type LocalDaemonProber struct {
	Daemon DaemonImageLister
}

// DaemonImageLister is the narrow capability LocalDaemonProber needs
// from a container runtime client (e.g. github.com/docker/docker's
// ImageList), kept as an interface so tests never dial a real socket.
type DaemonImageLister interface {
	ImageNamed(ctx context.Context, imageName string) (bool, error)
}

func (p *LocalDaemonProber) ImageExists(ctx context.Context, imageName string) (bool, error) {
	return p.Daemon.ImageNamed(ctx, imageName)
}
