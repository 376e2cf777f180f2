package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

const probeLabel = "starter-init"

// probeStep is one named permission check run in sequence at startup.
type probeStep struct {
	name string
	run  func(ctx context.Context, c *Client, podName string) error
}

var probeSteps = []probeStep{
	{"pod create permission", checkPodCreate},
	{"pod read permission", checkPodRead},
	{"pod watch permission", checkPodWatch},
	{"pod patch permission", checkPodPatch},
	{"pod read log permission", checkPodReadLog},
	{"pod delete permission", checkPodDelete},
}

// VerifyPermissions creates, reads, watches, patches, reads the log of, and
// finally deletes a disposable probe pod, failing fast at the first verb
// the service account lacks. It is the first step of the startup sequence:
// every later step assumes these verbs work. The probe pod always runs the
// busybox image; probeImage is not used.
func VerifyPermissions(ctx context.Context, c *Client, probeImage string, logger *slog.Logger) error {
	podName := fmt.Sprintf("starter-probe-%d", time.Now().UnixNano())

	for _, step := range probeSteps {
		logger.Info("running permission probe", slog.String("step", step.name))
		if err := step.run(ctx, c, podName); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInit, step.name, err)
		}
	}
	_ = probeImage
	return nil
}

func checkPodCreate(ctx context.Context, c *Client, podName string) error {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   podName,
			Labels: map[string]string{"app": probeLabel},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{Name: "probe", Image: "busybox", Command: []string{"echo", "ok"}},
			},
		},
	}
	_, err := c.CreatePod(ctx, pod)
	return err
}

func checkPodRead(ctx context.Context, c *Client, podName string) error {
	_, err := c.clientset.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{})
	return err
}

func checkPodWatch(ctx context.Context, c *Client, podName string) error {
	watchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	w, err := c.clientset.CoreV1().Pods(c.namespace).Watch(watchCtx, metav1.ListOptions{
		TimeoutSeconds: int64Ptr(60),
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-watchCtx.Done():
			return fmt.Errorf("pod completion event was not observed")
		case event, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed before completion event")
			}
			if event.Type != watch.Modified && event.Type != watch.Added {
				continue
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok || pod.Name != podName {
				continue
			}
			if pod.Status.Phase == corev1.PodSucceeded {
				return nil
			}
		}
	}
}

func checkPodPatch(ctx context.Context, c *Client, podName string) error {
	patch := []byte(`{"metadata":{"labels":{"patch-test":"passed"}}}`)
	_, err := c.clientset.CoreV1().Pods(c.namespace).Patch(
		ctx, podName, "application/merge-patch+json", patch, metav1.PatchOptions{})
	return err
}

func checkPodReadLog(ctx context.Context, c *Client, podName string) error {
	_, err := c.ReadPodLog(ctx, podName, "probe")
	return err
}

func checkPodDelete(ctx context.Context, c *Client, podName string) error {
	return c.clientset.CoreV1().Pods(c.namespace).DeleteCollection(
		ctx, metav1.DeleteOptions{}, metav1.ListOptions{LabelSelector: "app=" + probeLabel})
}

func int64Ptr(v int64) *int64 { return &v }
