package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetImageManifestFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/owner/repo/manifests/abc123" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Docker-Content-Digest", "sha256:deadbeef")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"mediaType":"application/vnd.docker.distribution.manifest.v2+json"}`))
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, HTTP: srv.Client()}
	m, err := c.GetImageManifest(context.Background(), "owner/repo", "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil manifest")
	}
	if m.Digest != "sha256:deadbeef" {
		t.Errorf("Digest = %q", m.Digest)
	}
}

func TestGetImageManifestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, HTTP: srv.Client()}
	m, err := c.GetImageManifest(context.Background(), "owner/repo", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil manifest, got %+v", m)
	}
}

func TestGetImageManifestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.GetImageManifest(context.Background(), "owner/repo", "abc123")
	if err == nil {
		t.Fatal("expected error on 502")
	}
}
