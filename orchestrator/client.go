// Package orchestrator wraps the Kubernetes API surface the starter needs:
// creating, listing, patching, logging, and deleting fuzzer pods, plus the
// startup permission probe that exercises each of those verbs once.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fuzzcorp/starter/podspec"
)

// poolLabelKey is used as the label selector that distinguishes fuzzer pods
// managed by this service from anything else running in the namespace.
const poolLabelKey = "bondifuzz/pool-id"

// Client wraps a client-go clientset scoped to a single namespace.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	logger    *slog.Logger
}

// NewClient builds a Client, preferring in-cluster config and falling back
// to the local kubeconfig for development.
func NewClient(namespace, kubeconfigPath string, logger *slog.Logger) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load kube config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes clientset: %w", err)
	}

	return &Client{
		clientset: clientset,
		namespace: namespace,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}, nil
}

// NewClientFromClientset wraps an existing clientset, used by tests with a
// fake client and by callers that build their own rest.Config.
func NewClientFromClientset(clientset kubernetes.Interface, namespace string, logger *slog.Logger) *Client {
	return &Client{clientset: clientset, namespace: namespace, logger: logger.With(slog.String("component", "orchestrator"))}
}

// CreatePod creates a pod built from the podspec builder.
func (c *Client) CreatePod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	return c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{})
}

// DeletePod deletes a single pod by name.
func (c *Client) DeletePod(ctx context.Context, name string) error {
	return c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

// DisplacePod patches a pod with the displaced_at label, marking it for
// deferred deletion once its minimum work time has elapsed.
func (c *Client) DisplacePod(ctx context.Context, name string) error {
	patch := map[string]any{
		"metadata": map[string]any{
			"labels": map[string]any{
				podspec.Key("displaced_at"): "",
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal displacement patch: %w", err)
	}
	_, err = c.clientset.CoreV1().Pods(c.namespace).Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{})
	return err
}

// ReadPodLog returns the logs of the given container in the given pod.
func (c *Client) ReadPodLog(ctx context.Context, podName, containerName string) (string, error) {
	req := c.clientset.CoreV1().Pods(c.namespace).GetLogs(podName, &corev1.PodLogOptions{Container: containerName})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListFuzzerPods lists all pods carrying the workload label, paginating
// through the full result set.
func (c *Client) ListFuzzerPods(ctx context.Context) ([]corev1.Pod, error) {
	var out []corev1.Pod
	cont := ""
	for {
		resp, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: poolLabelKey,
			Limit:         100,
			Continue:      cont,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Items...)
		cont = resp.Continue
		if cont == "" {
			break
		}
	}
	return out, nil
}

// DeleteFuzzerPods deletes all pods matching the given fuzzer and/or pool
// id. At least one of fuzzerID, poolID must be non-empty.
func (c *Client) DeleteFuzzerPods(ctx context.Context, fuzzerID, poolID string) error {
	if fuzzerID == "" && poolID == "" {
		panic("orchestrator: DeleteFuzzerPods requires fuzzerID or poolID")
	}

	selector := ""
	if poolID != "" {
		selector = podspec.Key("pool_id") + "=" + poolID
	}
	if fuzzerID != "" {
		if selector != "" {
			selector += ","
		}
		selector += podspec.Key("fuzzer_id") + "=" + fuzzerID
	}

	return c.clientset.CoreV1().Pods(c.namespace).DeleteCollection(
		ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: selector},
	)
}

// DeleteAllFuzzerPods removes every pod in the namespace carrying the
// workload label, across all pools. Pool event handling does not use it: it
// deletes per pool through DeleteFuzzerPods.
func (c *Client) DeleteAllFuzzerPods(ctx context.Context) error {
	return c.clientset.CoreV1().Pods(c.namespace).DeleteCollection(
		ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: poolLabelKey},
	)
}

// Namespace returns the namespace this client operates in.
func (c *Client) Namespace() string {
	return c.namespace
}

// Clientset exposes the underlying client-go clientset for components that
// need lower-level access, such as the pod event watcher.
func (c *Client) Clientset() kubernetes.Interface {
	return c.clientset
}
