package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/binderhub-go/coordinator/internal/build"
	binderconfig "github.com/binderhub-go/coordinator/internal/config"
	"github.com/binderhub-go/coordinator/internal/coordinator"
	"github.com/binderhub-go/coordinator/internal/eventlog"
	"github.com/binderhub-go/coordinator/internal/launch"
	binderlog "github.com/binderhub-go/coordinator/internal/log"
	"github.com/binderhub-go/coordinator/internal/metrics"
	"github.com/binderhub-go/coordinator/internal/probe"
	"github.com/binderhub-go/coordinator/internal/provider"
	"github.com/binderhub-go/coordinator/internal/registryclient"
	"github.com/binderhub-go/coordinator/internal/tokenstore"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the build-and-launch coordinator's HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config's listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := binderconfig.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	level, err := binderlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := binderlog.New(level, binderlog.Format(cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	registry := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(registry)

	provider.Register(provider.GitHubPrefix, provider.NewGitHubFactory(provider.GitHubConfig{
		OAuth: &oauth2.Config{
			ClientID:     cfg.GitHubOAuthClientID,
			ClientSecret: cfg.GitHubOAuthClientSecret,
			RedirectURL:  cfg.GitHubOAuthRedirectURL,
			Endpoint:     provider.GitHubEndpoint,
		},
		BannedRepos: map[string]bool{},
	}))

	kubeConfig, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("loading in-cluster kubeconfig: %w", err)
	}
	kubeClient, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return fmt.Errorf("building Kubernetes client: %w", err)
	}

	var prober probe.Prober
	if cfg.UseRegistry {
		prober = &probe.RegistryProber{
			Client: &registryclient.HTTPClient{BaseURL: cfg.Registry, HTTP: http.DefaultClient},
			Log:    logger,
		}
	} else {
		prober = &probe.LocalDaemonProber{Daemon: probe.NewDockerDaemonLister(cfg.DockerSocketPath)}
	}

	coord := &coordinator.Coordinator{
		Config:   cfg,
		Metrics:  metricsRegistry,
		Tokens:   tokenstore.New(),
		EventLog: eventlog.LogSink{Logger: logger},
		Prober:   prober,
		NewBuild: func(opts build.PodSpecOptions) build.Build {
			if cfg.FakeBuild {
				return build.NewFakeBuild(build.SuccessfulBuildScript(), 0)
			}
			return build.NewKubernetesBuild(kubeClient, opts, logger)
		},
		NewLauncher: func() launch.Launcher {
			return &launch.HubLauncher{
				BaseURL:           cfg.HubAPIURL,
				Token:             cfg.HubAPIToken,
				AllowNamedServers: cfg.Launcher.AllowNamedServers,
			}
		},
		QuotaCheck: &launch.QuotaChecker{Client: kubeClient, Namespace: cfg.BuildNamespace},
		Log:        logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/build/", func(w http.ResponseWriter, r *http.Request) {
		prefix, spec, ok := splitBuildPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		coord.ServeHTTP(w, r, prefix, spec)
	})

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the build-and-launch stream can legitimately
		// run far longer than any fixed HTTP timeout (spec.md §5).
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// splitBuildPath parses "/build/{prefix}/{spec...}" into its two parts.
func splitBuildPath(path string) (prefix, spec string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/build/")
	if trimmed == path {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
