// Package coordinator implements the Request Coordinator: the
// top-level HTTP handler that drives one build-and-launch request from
// an incoming GET to its terminal SSE frame (spec.md §4.7).
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/binderhub-go/coordinator/internal/apierrors"
	"github.com/binderhub-go/coordinator/internal/build"
	"github.com/binderhub-go/coordinator/internal/config"
	"github.com/binderhub-go/coordinator/internal/eventlog"
	"github.com/binderhub-go/coordinator/internal/events"
	"github.com/binderhub-go/coordinator/internal/launch"
	"github.com/binderhub-go/coordinator/internal/metrics"
	"github.com/binderhub-go/coordinator/internal/namemangler"
	"github.com/binderhub-go/coordinator/internal/probe"
	"github.com/binderhub-go/coordinator/internal/provider"
	"github.com/binderhub-go/coordinator/internal/tokenstore"
)

// BuildFactory constructs the Build capability for one request; the
// Kubernetes-backed implementation and FakeBuild both satisfy this via
// a closure in cmd/binderhub's wiring.
type BuildFactory func(opts build.PodSpecOptions) build.Build

// LauncherFactory returns the Launcher capability to use for a request.
type LauncherFactory func() launch.Launcher

// Coordinator wires every capability spec.md §6 names into the single
// HTTP handler that drives a build-and-launch request.
type Coordinator struct {
	Config    config.Config
	Metrics   *metrics.Registry
	Tokens    *tokenstore.Store
	EventLog  eventlog.Sink
	Prober    probe.Prober
	NewBuild  BuildFactory
	NewLauncher LauncherFactory
	QuotaCheck *launch.QuotaChecker
	Log       logr.Logger

	// TailSleep overrides events.TailSleep; zero means use the default.
	// Tests shrink this so a scenario doesn't actually block for the
	// production 60s "let the client close first" delay (spec.md §4.2).
	TailSleep time.Duration
}

// ServeHTTP implements GET /build/{provider_prefix}/{spec...} (spec.md
// §6). The path is expected pre-split by the caller's router into
// providerPrefix and spec; ServeHTTP itself only needs the request for
// its query parameters and context.
func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request, providerPrefix, spec string) {
	emitter, err := events.NewEmitter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	emitFn := func(e events.ClientEvent) error { return emitter.Emit(e) }

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		emitter.Keepalive(groupCtx)
		return nil
	})

	group.Go(func() error {
		defer cancel()
		c.run(groupCtx, emitter, providerPrefix, spec, r)
		return nil
	})

	_ = group.Wait()

	tailSleep := c.TailSleep
	if tailSleep == 0 {
		tailSleep = events.TailSleep
	}
	time.Sleep(tailSleep)
}

// run executes the ordered steps of spec.md §4.7 against one request's
// emitter. All failures are reported via a terminal frame and then
// simply returned from; run never panics the handler.
func (c *Coordinator) run(ctx context.Context, emit *events.Emitter, providerPrefix, spec string, r *http.Request) {
	factory, ok := provider.Get(providerPrefix)
	if !ok {
		_ = emit.Fail(http.StatusNotFound, apierrors.ConfigurationMiss(providerPrefix).Error())
		return
	}

	prov, err := factory(providerPrefix, spec)
	if err != nil {
		_ = emit.Fail(http.StatusBadRequest, err.Error())
		return
	}

	if prov.IsBanned() {
		_ = emit.Fail(http.StatusForbidden, apierrors.Banned(spec))
		return
	}

	user := requestUser(r)
	repoToken := ""
	accessToken := ""
	authProviderID := prov.AuthorizationProvider()
	if c.Config.AuthEnabled && authProviderID != "" {
		if userctx := r.URL.Query().Get("userctx"); userctx != "" {
			authProviderID = authProviderID + "-" + userctx
		}

		if repoToken = r.URL.Query().Get("repo_token"); repoToken != "" {
			state := c.Tokens.NewSession(spec, user, providerPrefix, authProviderID)
			c.Tokens.RegisterToken(user, state, repoToken, authProviderID)
			accessToken = repoToken
		} else {
			accessToken = c.Tokens.GetAccessTokenFor(user, providerPrefix, authProviderID)
		}

		if accessToken == "" {
			state := c.Tokens.NewSession(spec, user, providerPrefix, authProviderID)
			authURL := prov.AuthorizationURL(state, c.Config.BaseURL)
			_ = emit.Emit(events.ClientEvent{Phase: events.PhaseAuth, AuthorizationURL: authURL})
			return
		}
	}

	ref, err := prov.ResolvedRef(ctx)
	if err != nil {
		_ = emit.Fail(http.StatusBadGateway, apierrors.RefResolutionError(spec, err))
		return
	}
	if ref == "" {
		_ = emit.Fail(http.StatusNotFound, apierrors.RefNotFound(spec, prov.Name(), prov.UnresolvedRef()))
		return
	}
	refURL, err := prov.ResolvedRefURL(ctx)
	if err != nil {
		_ = emit.Fail(http.StatusBadGateway, apierrors.RefResolutionError(spec, err))
		return
	}
	resolvedSpec, err := prov.ResolvedSpec(ctx)
	if err != nil {
		_ = emit.Fail(http.StatusBadGateway, apierrors.RefResolutionError(spec, err))
		return
	}

	buildSlug := prov.BuildSlug()
	buildName := namemangler.BuildName(buildSlug, ref, c.Config.ImagePrefix)
	imageName := namemangler.ImageName(c.Config.ImagePrefix, buildSlug, ref)
	repoURL := prov.RepoURL()

	binderLaunchHost := launchHost(r, c.Config.BaseURL)
	binderRequest := fmt.Sprintf("v2/%s/%s", providerPrefix, spec)
	binderPersistentRequest := fmt.Sprintf("v2/%s/%s", providerPrefix, resolvedSpec)

	repoLabels := metrics.RepoLabels{Provider: prov.Name(), Repo: repoURL}

	exists, err := c.Prober.ImageExists(ctx, imageName)
	if err != nil {
		c.Log.Error(err, "image presence probe failed, proceeding to build", "image", imageName)
		exists = false
	}

	if !exists {
		pushSecret := ""
		if c.Config.UseRegistry {
			pushSecret = c.Config.PushSecret
		}

		appendix := strings.NewReplacer(
			"{binder_url}", binderLaunchHost+binderRequest,
			"{persistent_binder_url}", binderLaunchHost+binderPersistentRequest,
			"{repo_url}", repoURL,
			"{ref_url}", refURL,
		).Replace(c.Config.Appendix)

		buildDriver := &build.Driver{Metrics: c.Metrics, Emit: emitFn, Log: c.Log}
		b := c.NewBuild(build.PodSpecOptions{
			Name:           buildName,
			Namespace:      c.Config.BuildNamespace,
			RepoURL:        repoURL,
			Ref:            ref,
			Image:          imageName,
			PushSecret:     pushSecret,
			BuildImage:     c.Config.BuildImage,
			MemoryLimit:    c.Config.BuildMemoryLimit,
			MemoryRequest:  c.Config.BuildMemoryRequest,
			DockerHost:     c.Config.BuildDockerHost,
			NodeSelector:   c.Config.BuildNodeSelector,
			Appendix:       appendix,
			GitCredentials: prov.GitCredentials(),
			OptionalEnvs:   prov.OptionalEnvs(accessToken),
			StickyBuilds:   c.Config.StickyBuilds,
			LogTailLines:   c.Config.LogTailLines,
		})

		result, err := buildDriver.Run(ctx, b, repoLabels, imageName)
		if err != nil {
			c.Log.Error(err, "build driver exited with error", "image", imageName)
			_ = emit.Fail(http.StatusInternalServerError, err.Error())
			return
		}
		if !result.Succeeded {
			return
		}
	}

	launchDriver := &launch.Driver{
		Launcher:   c.NewLauncher(),
		Quota:      c.QuotaCheck,
		Metrics:    c.Metrics,
		Emit:       emitFn,
		Log:        c.Log,
		Retries:    c.Config.Launcher.Retries,
		RetryDelay: time.Duration(c.Config.Launcher.RetryDelaySeconds) * time.Second,
	}

	launchUsername := user
	serverName := ""
	if !c.Config.AuthEnabled {
		launchUsername = launch.UniqueNameFromRepo(repoURL)
	} else if c.Config.Launcher.AllowNamedServers {
		serverName = launch.UniqueNameFromRepo(repoURL)
	}

	req := launch.Request{
		Image:      imageName,
		Username:   launchUsername,
		ServerName: serverName,
		RepoURL:    repoURL,
		ExtraArgs: extraArgs(extraArgsInput{
			request:                 r,
			refURL:                  refURL,
			binderLaunchHost:        binderLaunchHost,
			binderRequest:           binderRequest,
			binderPersistentRequest: binderPersistentRequest,
			repoToken:               repoToken,
		}),
	}

	if err := launchDriver.Run(ctx, c.Config.QuotaFor(spec), repoLabels, req); err != nil {
		c.Log.Error(err, "launch driver exited with error", "repo", repoURL)
		// ErrLaunchFailure errors come after the driver's own failed frame.
		if !errors.Is(err, apierrors.ErrLaunchFailure) {
			_ = emit.Fail(http.StatusInternalServerError, err.Error())
		}
		return
	}

	origin := c.Config.NormalizedOrigin
	if origin == "" {
		origin = r.Host
	}
	_ = c.EventLog.Emit(ctx, eventlog.LaunchSchema, eventlog.LaunchSchemaVersion, eventlog.LaunchRecord{
		Provider: prov.Name(),
		Spec:     spec,
		Ref:      ref,
		Status:   "success",
		Origin:   origin,
	})
}

// requestUser extracts the authenticated username the surrounding
// framework is expected to have already validated (spec.md §6,
// "Authentication is enforced by the framework before the handler
// runs"). A reverse proxy or auth middleware sets this header.
func requestUser(r *http.Request) string {
	return r.Header.Get("X-Forwarded-User")
}

// launchHost is the scheme+host+base_url prefix the binder_request/
// binder_persistent_request relative paths are resolved against,
// matching builder.py's self.binder_launch_host.
func launchHost(r *http.Request, baseURL string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + baseURL
}

// extraArgsInput carries everything extraArgs needs beyond the request's
// own query parameters, since several fields are computed earlier in
// run() rather than read directly off r.
type extraArgsInput struct {
	request                 *http.Request
	refURL                  string
	binderLaunchHost        string
	binderRequest           string
	binderPersistentRequest string
	repoToken               string
}

// extraArgs builds the launch request's extra_args map: the fixed
// binder_ref_url/binder_launch_host/binder_request/
// binder_persistent_request/repo_token fields, plus every
// useropt.<name> query parameter as extra_args[<name>] (TAB-joined
// multi-values), matching builder.py's extra_args construction
// (builder.py:588-599).
func extraArgs(in extraArgsInput) map[string]string {
	out := map[string]string{
		"binder_ref_url":            in.refURL,
		"binder_launch_host":        in.binderLaunchHost,
		"binder_request":            in.binderRequest,
		"binder_persistent_request": in.binderPersistentRequest,
	}
	if in.repoToken != "" {
		out["repo_token"] = in.repoToken
	}
	for key, values := range in.request.URL.Query() {
		if !strings.HasPrefix(key, "useropt.") {
			continue
		}
		out[strings.TrimPrefix(key, "useropt.")] = strings.Join(values, "\t")
	}
	return out
}
