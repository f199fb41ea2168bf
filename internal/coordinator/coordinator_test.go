package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	fakek8s "k8s.io/client-go/kubernetes/fake"

	"github.com/binderhub-go/coordinator/internal/build"
	"github.com/binderhub-go/coordinator/internal/config"
	"github.com/binderhub-go/coordinator/internal/eventlog"
	"github.com/binderhub-go/coordinator/internal/launch"
	"github.com/binderhub-go/coordinator/internal/metrics"
	"github.com/binderhub-go/coordinator/internal/provider"
	"github.com/binderhub-go/coordinator/internal/tokenstore"
)

// stubProvider is a minimal Provider used to drive the coordinator
// through each scenario without a network call.
type stubProvider struct {
	name           string
	banned         bool
	authProviderID string
	repoURL        string
	ref            string
	refErr         error
	buildSlug      string
	unresolvedRef  string
}

func (s *stubProvider) Name() string                  { return s.name }
func (s *stubProvider) IsBanned() bool                { return s.banned }
func (s *stubProvider) AuthorizationProvider() string { return s.authProviderID }
func (s *stubProvider) ValidateAuthorizedToken(context.Context, string) (bool, error) {
	return true, nil
}
func (s *stubProvider) AuthorizationURL(state, binderhubURL string) string {
	return "https://auth.example.com/authorize?state=" + state
}
func (s *stubProvider) RepoURL() string { return s.repoURL }
func (s *stubProvider) ResolvedRef(context.Context) (string, error) {
	return s.ref, s.refErr
}
func (s *stubProvider) ResolvedRefURL(context.Context) (string, error) { return s.repoURL, nil }
func (s *stubProvider) ResolvedSpec(context.Context) (string, error)  { return s.repoURL, nil }
func (s *stubProvider) BuildSlug() string                             { return s.buildSlug }
func (s *stubProvider) UnresolvedRef() string                         { return s.unresolvedRef }
func (s *stubProvider) GitCredentials() string                        { return "" }
func (s *stubProvider) OptionalEnvs(string) map[string]string          { return nil }
func (s *stubProvider) RepoConfig() provider.RepoConfig                { return provider.RepoConfig{} }

type fakeProber struct {
	exists bool
	err    error
}

func (f *fakeProber) ImageExists(context.Context, string) (bool, error) { return f.exists, f.err }

func newCoordinator(prov provider.Provider, proberExists bool, buildScript []build.BuildEvent, launchResults []launch.LaunchResult) (*Coordinator, *[]eventlog.LaunchRecord) {
	provider.Register("stub", func(prefix, spec string) (provider.Provider, error) { return prov, nil })

	var recorded []eventlog.LaunchRecord
	sink := recordingSink{records: &recorded}

	return &Coordinator{
		Config: config.Config{
			AuthEnabled:  false,
			ImagePrefix:  "binder-",
			DefaultQuota: 0,
			Launcher: config.LauncherConfig{
				Retries:           3,
				RetryDelaySeconds: 0,
			},
		},
		Metrics:  metrics.NewRegistry(prometheus.NewRegistry()),
		Tokens:   tokenstore.New(),
		EventLog: sink,
		Prober:   &fakeProber{exists: proberExists},
		NewBuild: func(opts build.PodSpecOptions) build.Build {
			return build.NewFakeBuild(buildScript, 0)
		},
		NewLauncher: func() launch.Launcher {
			return &launch.FakeLauncher{Results: launchResults}
		},
		QuotaCheck: &launch.QuotaChecker{Client: fakek8s.NewSimpleClientset(), Namespace: "default"},
		Log:        testr.New(GinkgoT()),
		TailSleep:  time.Millisecond,
	}, &recorded
}

type recordingSink struct {
	records *[]eventlog.LaunchRecord
}

func (r recordingSink) Emit(_ context.Context, _ string, _ int, payload any) error {
	if rec, ok := payload.(eventlog.LaunchRecord); ok {
		*r.records = append(*r.records, rec)
	}
	return nil
}

var _ = Describe("Coordinator", func() {
	var prov *stubProvider

	BeforeEach(func() {
		prov = &stubProvider{
			name:      "GitHub",
			repoURL:   "https://github.com/owner/repo",
			ref:       "abc123",
			buildSlug: "owner-repo",
		}
	})

	It("S1: serves a cache hit straight through to launch", func() {
		coord, records := newCoordinator(prov, true, nil, []launch.LaunchResult{
			{Info: launch.ServerInfo{URL: "https://hub.example.com/user/abc"}},
		})

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/abc123", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/abc123")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).To(ContainSubstring(`"phase":"ready"`))
		Expect(*records).To(HaveLen(1))
		Expect((*records)[0].Status).To(Equal("success"))
	})

	It("S3: stops after a build failure log without launching", func() {
		coord, records := newCoordinator(prov, false, build.FailedBuildScript(), nil)

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/abc123", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/abc123")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).NotTo(ContainSubstring(`"phase":"ready"`))
		Expect(*records).To(BeEmpty())
	})

	It("S6: emits a single auth frame when no token is stored", func() {
		prov.authProviderID = "github"
		coord, _ := newCoordinator(prov, true, nil, nil)
		coord.Config.AuthEnabled = true

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/abc123", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/abc123")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).To(ContainSubstring(`"phase":"auth"`))
		Expect(rec.Body.String()).NotTo(ContainSubstring(`"phase":"ready"`))
	})

	It("fails with a guided message when the ref cannot be resolved", func() {
		prov.ref = ""
		prov.unresolvedRef = "master"
		coord, _ := newCoordinator(prov, true, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/master", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/master")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).To(ContainSubstring(`"phase":"failed"`))
		Expect(rec.Body.String()).To(ContainSubstring("main"))
	})

	It("fails terminally when the repo is banned", func() {
		prov.banned = true
		coord, _ := newCoordinator(prov, true, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/abc123", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/abc123")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).To(ContainSubstring(`"phase":"failed"`))
	})

	It("reports a resolution error distinctly from a missing ref", func() {
		prov.ref = ""
		prov.refErr = errors.New("upstream API timeout")
		coord, _ := newCoordinator(prov, true, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/build/stub/owner/repo/abc123", nil)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			coord.ServeHTTP(rec, req, "stub", "owner/repo/abc123")
			close(done)
		}()

		Eventually(done, 3*time.Second).Should(BeClosed())
		Expect(rec.Body.String()).To(ContainSubstring("upstream API timeout"))
	})
})
