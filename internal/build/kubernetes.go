package build

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

// PodSpecOptions carries everything needed to build the build pod's
// spec, mirroring the keyword arguments BinderHub's Build class takes
// (spec.md §4.5, original_source builder.py's `Build(...)` call).
type PodSpecOptions struct {
	Name           string
	Namespace      string
	RepoURL        string
	Ref            string
	Image          string
	PushSecret     string
	BuildImage     string
	MemoryLimit    string
	MemoryRequest  string
	DockerHost     string
	NodeSelector   map[string]string
	Appendix       string
	GitCredentials string
	OptionalEnvs   map[string]string
	StickyBuilds   bool
	LogTailLines   int
}

// KubernetesBuild drives a build pod through the Kubernetes API: create
// it, watch its phase transitions, tail its logs once running, and
// delete it on completion unless StickyBuilds is set.
type KubernetesBuild struct {
	Client  kubernetes.Interface
	Opts    PodSpecOptions
	Log     logr.Logger

	events chan BuildEvent
	cancel context.CancelFunc
}

func NewKubernetesBuild(client kubernetes.Interface, opts PodSpecOptions, log logr.Logger) *KubernetesBuild {
	return &KubernetesBuild{
		Client: client,
		Opts:   opts,
		Log:    log,
		events: make(chan BuildEvent, 16),
	}
}

func (b *KubernetesBuild) Events() <-chan BuildEvent { return b.events }

// Submit creates the build pod and starts a background watch that
// publishes phase-change events until the pod is deleted.
func (b *KubernetesBuild) Submit(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	pod := b.podSpec()
	if _, err := b.Client.CoreV1().Pods(b.Opts.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		cancel()
		return fmt.Errorf("build: create pod %s: %w", b.Opts.Name, err)
	}

	w, err := b.Client.CoreV1().Pods(b.Opts.Namespace).Watch(watchCtx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", b.Opts.Name).String(),
	})
	if err != nil {
		cancel()
		return fmt.Errorf("build: watch pod %s: %w", b.Opts.Name, err)
	}

	go b.consumeWatch(watchCtx, w)
	return nil
}

func (b *KubernetesBuild) consumeWatch(ctx context.Context, w watch.Interface) {
	defer close(b.events)
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				return
			}
			switch ev.Type {
			case watch.Deleted:
				b.events <- BuildEvent{Kind: KindPodPhaseChange, Phase: PodDeleted}
				return
			case watch.Added, watch.Modified:
				pod, ok := ev.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				phase := podPhase(pod.Status.Phase)
				b.events <- BuildEvent{Kind: KindPodPhaseChange, Phase: phase}
				if phase == PodSucceeded || phase == PodFailed {
					if !b.Opts.StickyBuilds {
						_ = b.Client.CoreV1().Pods(b.Opts.Namespace).Delete(context.Background(), b.Opts.Name, metav1.DeleteOptions{})
					}
				}
			}
		}
	}
}

func podPhase(p corev1.PodPhase) PodPhase {
	switch p {
	case corev1.PodPending:
		return PodPending
	case corev1.PodRunning:
		return PodRunning
	case corev1.PodSucceeded:
		return PodSucceeded
	case corev1.PodFailed:
		return PodFailed
	default:
		return PodUnknown
	}
}

// StreamLogs tails the build pod's container log, publishing one
// KindLog BuildEvent per line. Each line is expected to already be
// JSON-structured, per builder.py's "We expect logs to be already JSON
// structured anyway".
func (b *KubernetesBuild) StreamLogs(ctx context.Context) {
	tail := int64(b.Opts.LogTailLines)
	req := b.Client.CoreV1().Pods(b.Opts.Namespace).GetLogs(b.Opts.Name, &corev1.PodLogOptions{
		Follow:    true,
		TailLines: &tail,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		b.Log.Error(err, "opening build log stream", "pod", b.Opts.Name)
		return
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := scanner.Text()
		var payload LogPayload
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			payload = LogPayload{Message: line + "\n"}
		}
		select {
		case <-ctx.Done():
			return
		case b.events <- BuildEvent{Kind: KindLog, Log: payload}:
		}
	}
}

// Stop cancels the watch goroutine. For non-sticky builds the pod
// itself is already deleted by consumeWatch once it reaches a terminal
// phase; Stop only ever needs to release the watch.
func (b *KubernetesBuild) Stop(_ context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// repo2docker is the build image's entrypoint: it clones RepoURL at Ref
// and, when a push secret is set, pushes the resulting image, the same
// invocation builder.py's Build
// class shells out to inside the build pod.
const repo2docker = "jupyter-repo2docker"

func (b *KubernetesBuild) podSpec() *corev1.Pod {
	env := make([]corev1.EnvVar, 0, len(b.Opts.OptionalEnvs)+3)
	for k, v := range b.Opts.OptionalEnvs {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}
	if b.Opts.DockerHost != "" {
		env = append(env, corev1.EnvVar{Name: "DOCKER_HOST", Value: b.Opts.DockerHost})
	}
	if b.Opts.GitCredentials != "" {
		env = append(env, corev1.EnvVar{Name: "GIT_CREDENTIAL_ENV", Value: b.Opts.GitCredentials})
	}

	args := []string{
		"--ref", b.Opts.Ref,
		"--image", b.Opts.Image,
		"--no-run",
	}
	if b.Opts.PushSecret != "" {
		args = append(args, "--push")
	}
	args = append(args, b.Opts.RepoURL)

	container := corev1.Container{
		Name:    "build",
		Image:   b.Opts.BuildImage,
		Command: []string{repo2docker},
		Args:    args,
		Env:     env,
		Resources: corev1.ResourceRequirements{
			Limits:   resourceList(b.Opts.MemoryLimit),
			Requests: resourceList(b.Opts.MemoryRequest),
		},
	}

	if b.Opts.PushSecret != "" {
		container.EnvFrom = append(container.EnvFrom, corev1.EnvFromSource{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: b.Opts.PushSecret},
			},
		})
	}

	if b.Opts.Appendix != "" {
		mergeAppendix(&container, b.Opts.Appendix, b.Log)
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      b.Opts.Name,
			Namespace: b.Opts.Namespace,
			Labels: map[string]string{
				"component": "binderhub-build",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			NodeSelector:  b.Opts.NodeSelector,
			Containers:    []corev1.Container{container},
		},
	}
}

// mergeAppendix parses appendix as a YAML-encoded corev1.Container
// fragment and layers its Env, EnvFrom, and VolumeMounts onto container,
// the Go equivalent of builder.py's appendix string being appended
// verbatim to the pod spec's container block before submission. A
// malformed appendix is a deployment configuration error, logged and
// otherwise ignored rather than failing the build outright.
func mergeAppendix(container *corev1.Container, appendix string, log logr.Logger) {
	var patch corev1.Container
	if err := yaml.Unmarshal([]byte(appendix), &patch); err != nil {
		log.Error(err, "ignoring malformed build pod appendix")
		return
	}
	container.Env = append(container.Env, patch.Env...)
	container.EnvFrom = append(container.EnvFrom, patch.EnvFrom...)
	container.VolumeMounts = append(container.VolumeMounts, patch.VolumeMounts...)
}

// resourceList parses a memory quantity string (e.g. "1Gi"); an empty
// or unparsable value yields nil, so the pod is created without that
// memory setting.
func resourceList(memory string) corev1.ResourceList {
	if memory == "" {
		return nil
	}
	qty, err := resource.ParseQuantity(memory)
	if err != nil {
		return nil
	}
	return corev1.ResourceList{corev1.ResourceMemory: qty}
}
