// Package registryclient is the narrow container-registry capability
// consumed by the Image Presence Probe (spec.md §6, §4.4).
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Manifest is the minimal shape the probe cares about: whether one was
// returned at all. Its fields are informational.
type Manifest struct {
	MediaType string
	Digest    string
}

// Client is the capability the probe depends on.
type Client interface {
	// GetImageManifest returns the manifest for repo:tag, or (nil, nil)
	// if the registry reports the image does not exist. Any other
	// failure (timeout, connection refused, 5xx) is a transport error
	// the probe retries (spec.md §4.4).
	GetImageManifest(ctx context.Context, repo, tag string) (*Manifest, error)
}

// HTTPClient implements Client against a Docker Registry HTTP API V2
// endpoint.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *HTTPClient) GetImageManifest(ctx context.Context, repo, tag string) (*Manifest, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.BaseURL, repo, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registryclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.docker.distribution.manifest.v2+json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registryclient: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			MediaType string `json:"mediaType"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &Manifest{MediaType: body.MediaType, Digest: resp.Header.Get("Docker-Content-Digest")}, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("registryclient: registry returned %s for %s:%s", resp.Status, repo, tag)
	}
}
