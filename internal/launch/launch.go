// Package launch drives the post-build request to JupyterHub to spawn
// a server for the built image, enforcing per-repo quota and retrying
// transient launch failures with exponential backoff (spec.md §4.6).
package launch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/workqueue"

	"github.com/binderhub-go/coordinator/internal/apierrors"
	"github.com/binderhub-go/coordinator/internal/events"
	"github.com/binderhub-go/coordinator/internal/metrics"
)

// singleuserSelector matches the running notebook server pods JupyterHub
// manages, the same label pair builder.py's quota check lists against.
const singleuserSelector = "app=jupyterhub,component=singleuser-server"

// QuotaRequestTimeout bounds the pod-listing call used for the quota
// check; a slow API server must not hang the whole launch (spec.md
// §4.6, KUBE_REQUEST_TIMEOUT in the original).
const QuotaRequestTimeout = 3 * time.Second

// Launcher is the capability a Driver depends on to actually ask the
// hub to start a server.
type Launcher interface {
	Launch(ctx context.Context, req Request) (ServerInfo, error)
}

// Request is everything a Launcher needs to start a server.
type Request struct {
	Image      string
	Username   string
	ServerName string
	RepoURL    string
	ExtraArgs  map[string]string
}

// ServerInfo is returned on a successful launch; URL is always set,
// Extra carries any additional fields the hub's spawn response included
// (spec.md §3, the "ready" event merges server_info verbatim).
type ServerInfo struct {
	URL   string
	Extra map[string]any
}

// QuotaChecker counts running pods for a repo's image, used to enforce
// RepoConfig.Quota before attempting a launch.
type QuotaChecker struct {
	Client    kubernetes.Interface
	Namespace string
}

// Counts returns (matching, total): matching is the number of running
// singleuser pods whose image (ignoring tag) equals imageNoTag; total
// is every singleuser pod regardless of image.
func (q *QuotaChecker) Counts(ctx context.Context, imageNoTag string) (matching, total int, err error) {
	ctx, cancel := context.WithTimeout(ctx, QuotaRequestTimeout)
	defer cancel()

	pods, err := q.Client.CoreV1().Pods(q.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: singleuserSelector,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("launch: listing singleuser pods: %w", err)
	}

	for _, pod := range pods.Items {
		total++
		for _, c := range pod.Spec.Containers {
			if imageWithoutTag(c.Image) == imageNoTag {
				matching++
				break
			}
		}
	}
	return matching, total, nil
}

func imageWithoutTag(image string) string {
	idx := strings.LastIndex(image, ":")
	if idx < 0 {
		return image
	}
	return image[:idx]
}

// Driver runs the quota check, then the retry loop, against a single
// launch request, emitting client frames and metrics along the way.
type Driver struct {
	Launcher Launcher
	Quota    *QuotaChecker
	Metrics  *metrics.Registry
	Emit     func(events.ClientEvent) error
	Log      logr.Logger

	// Retries is the number of attempts (builder.py's launcher.retries);
	// RetryDelay is the base backoff fed to the exponential rate limiter
	// below, and MaxRetryDelay caps it.
	Retries       int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// backoff returns the exponential-failure rate limiter driving retry
// delays, built fresh per Run since workqueue.RateLimiter tracks
// per-item failure counts internally and a launch request is a single
// logical item.
func (d *Driver) backoff() workqueue.TypedRateLimiter[int] {
	max := d.MaxRetryDelay
	if max <= 0 {
		max = 1000 * d.RetryDelay
	}
	return workqueue.NewTypedItemExponentialFailureRateLimiter[int](d.RetryDelay, max)
}

// Run enforces quota (emitting the terminal bilingual failure frame and
// returning an error wrapping apierrors.ErrLaunchFailure if exceeded),
// then attempts the launch up to Driver.Retries times with exponential
// backoff, finally emitting the terminal "ready" frame on success.
func (d *Driver) Run(ctx context.Context, repoConfigQuota int, repo metrics.RepoLabels, req Request) error {
	d.Metrics.LaunchesInProgress.Inc()
	defer d.Metrics.LaunchesInProgress.Dec()

	imageNoTag := imageWithoutTag(req.Image)
	matching, total, err := d.Quota.Counts(ctx, imageNoTag)
	if err != nil {
		return err
	}

	if repoConfigQuota > 0 && matching >= repoConfigQuota {
		d.Log.Error(nil, "repo exceeded launch quota", "repo", req.RepoURL, "matching", matching, "quota", repoConfigQuota, "total", total)
		msg := apierrors.QuotaExceeded(req.RepoURL)
		if emitErr := d.Emit(events.ClientEvent{Phase: events.PhaseFailed, Message: msg}); emitErr != nil {
			return emitErr
		}
		return fmt.Errorf("%w: %s", apierrors.ErrLaunchFailure, req.RepoURL)
	}

	if repoConfigQuota > 0 && float64(matching) >= 0.5*float64(repoConfigQuota) {
		d.Log.Info("launching pod near quota", "repo", req.RepoURL, "matching", matching, "total", total, "quota", repoConfigQuota)
	} else {
		d.Log.V(1).Info("launching pod", "repo", req.RepoURL, "matching", matching, "total", total)
	}

	if err := d.Emit(events.ClientEvent{Phase: events.PhaseLaunching, Message: "Launching server...\n"}); err != nil {
		return err
	}

	limiter := d.backoff()
	var info ServerInfo
	var launchErr error

	for attempt := 0; attempt < d.Retries; attempt++ {
		start := time.Now()
		info, launchErr = d.Launcher.Launch(ctx, req)
		duration := time.Since(start).Seconds()

		if launchErr == nil {
			d.Metrics.ObserveLaunchTime(metrics.StatusSuccess, strconv.Itoa(attempt), duration)
			d.Metrics.IncLaunchCount(metrics.StatusSuccess, repo)
			d.Log.Info("launched server", "repo", req.RepoURL, "duration_seconds", duration)
			break
		}

		isLastAttempt := attempt+1 == d.Retries
		status := metrics.StatusRetry
		if isLastAttempt {
			status = metrics.StatusFailure
		}
		// Retries are never counted in launch_time's retries label nor
		// in launch_count: only the terminal outcome is interesting
		// there (spec.md §9).
		d.Metrics.ObserveLaunchTime(status, metrics.NonTerminalRetries, duration)
		if status == metrics.StatusFailure {
			d.Metrics.IncLaunchCount(status, repo)
		}

		if isLastAttempt {
			if emitErr := d.Emit(events.ClientEvent{Phase: events.PhaseFailed, Message: launchErr.Error()}); emitErr != nil {
				return emitErr
			}
			return fmt.Errorf("%w: %v", apierrors.ErrLaunchFailure, launchErr)
		}

		d.Log.Error(launchErr, "retrying launch", "repo", req.RepoURL, "attempt", attempt+1, "duration_seconds", duration)
		if err := d.Emit(events.ClientEvent{
			Phase:   events.PhaseLaunching,
			Message: apierrors.LaunchRetrying(attempt + 1),
		}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limiter.When(0)):
		}
	}

	extra := info.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extra["url"] = info.URL
	return d.Emit(events.ClientEvent{
		Phase:   events.PhaseReady,
		Message: fmt.Sprintf("server running at %s\n", info.URL),
		Extra:   extra,
	})
}
