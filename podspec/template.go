package podspec

import (
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

const (
	agentContainerName   = "agent"
	sandboxContainerName = "sandbox"
	tmpfsVolumeName      = "tmpfs"
)

// Template holds the parsed base pod manifest that every fuzzer pod is
// built from. It is loaded once at startup and copied for each pod.
type Template struct {
	root *corev1.Pod
}

// LoadTemplate reads and validates a pod template from a YAML file.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateLoad, path, err)
	}

	var pod corev1.Pod
	if err := yaml.Unmarshal(raw, &pod); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateLoad, path, err)
	}

	t := &Template{root: &pod}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) validate() error {
	if findContainer(t.root, agentContainerName) == nil {
		return fmt.Errorf("%w: no container named %q", ErrTemplateMalformed, agentContainerName)
	}
	if findContainer(t.root, sandboxContainerName) == nil {
		return fmt.Errorf("%w: no container named %q", ErrTemplateMalformed, sandboxContainerName)
	}
	if findVolume(t.root, tmpfsVolumeName) == nil {
		return fmt.Errorf("%w: no volume named %q", ErrTemplateMalformed, tmpfsVolumeName)
	}
	if t.root.Labels == nil {
		t.root.Labels = make(map[string]string)
	}
	if t.root.Spec.NodeSelector == nil {
		t.root.Spec.NodeSelector = make(map[string]string)
	}
	return nil
}

func findContainer(pod *corev1.Pod, name string) *corev1.Container {
	for i := range pod.Spec.Containers {
		if pod.Spec.Containers[i].Name == name {
			return &pod.Spec.Containers[i]
		}
	}
	return nil
}

func findVolume(pod *corev1.Pod, name string) *corev1.Volume {
	for i := range pod.Spec.Volumes {
		if pod.Spec.Volumes[i].Name == name {
			return &pod.Spec.Volumes[i]
		}
	}
	return nil
}

// New returns a fresh Builder seeded with a deep copy of the template, so
// repeated pod creation never mutates shared state.
func (t *Template) New() *Builder {
	return &Builder{pod: t.root.DeepCopy()}
}
