package podspec

import (
	corev1 "k8s.io/api/core/v1"
	resourceapi "k8s.io/apimachinery/pkg/api/resource"
)

// Builder mutates a single copy of the pod template into a concrete fuzzer
// pod spec. Every setter returns the Builder to allow chaining, mirroring
// the fluent style of the source template's per-field setters.
type Builder struct {
	pod *corev1.Pod
}

// Pod returns the built pod. Callers must not mutate the template again
// through the same Builder afterward.
func (b *Builder) Pod() *corev1.Pod {
	return b.pod
}

// SetLabel sets a label on the pod's metadata, keyed by podspec.Key(name).
func (b *Builder) SetLabel(name, value string) *Builder {
	b.pod.Labels[Key(name)] = value
	return b
}

// SetNodeSelector constrains scheduling to nodes carrying the given
// bondifuzz label.
func (b *Builder) SetNodeSelector(name, value string) *Builder {
	b.pod.Spec.NodeSelector[Key(name)] = value
	return b
}

// SetToleration adds or replaces a toleration matching the given key.
func (b *Builder) SetToleration(name, value string, operator corev1.TolerationOperator, effect corev1.TaintEffect) *Builder {
	key := Key(name)
	for i := range b.pod.Spec.Tolerations {
		if b.pod.Spec.Tolerations[i].Key == key {
			b.pod.Spec.Tolerations[i] = corev1.Toleration{Key: key, Value: value, Operator: operator, Effect: effect}
			return b
		}
	}
	b.pod.Spec.Tolerations = append(b.pod.Spec.Tolerations, corev1.Toleration{
		Key: key, Value: value, Operator: operator, Effect: effect,
	})
	return b
}

// SetTmpfsSize sets the size limit of the pod's tmpfs emptyDir volume.
func (b *Builder) SetTmpfsSize(quantity string) *Builder {
	vol := findVolume(b.pod, tmpfsVolumeName)
	q := resourceapi.MustParse(quantity)
	vol.EmptyDir.SizeLimit = &q
	return b
}

// SetAgentImage sets the agent container's image.
func (b *Builder) SetAgentImage(image string) *Builder {
	findContainer(b.pod, agentContainerName).Image = image
	return b
}

// SetAgentEnv upserts an environment variable on the agent container.
func (b *Builder) SetAgentEnv(name, value string) *Builder {
	setEnv(findContainer(b.pod, agentContainerName), name, value)
	return b
}

// SetAgentResources sets both requests and limits on the agent container to
// the same cpu/memory quantities.
func (b *Builder) SetAgentResources(cpu, memory string) *Builder {
	setResources(findContainer(b.pod, agentContainerName), cpu, memory)
	return b
}

// SetSandboxImage sets the sandbox container's image.
func (b *Builder) SetSandboxImage(image string) *Builder {
	findContainer(b.pod, sandboxContainerName).Image = image
	return b
}

// SetSandboxResources sets both requests and limits on the sandbox
// container to the same cpu/memory quantities.
func (b *Builder) SetSandboxResources(cpu, memory string) *Builder {
	setResources(findContainer(b.pod, sandboxContainerName), cpu, memory)
	return b
}

func setEnv(c *corev1.Container, name, value string) {
	for i := range c.Env {
		if c.Env[i].Name == name {
			c.Env[i].Value = value
			return
		}
	}
	c.Env = append(c.Env, corev1.EnvVar{Name: name, Value: value})
}

func setResources(c *corev1.Container, cpu, memory string) {
	list := corev1.ResourceList{
		corev1.ResourceCPU:    resourceapi.MustParse(cpu),
		corev1.ResourceMemory: resourceapi.MustParse(memory),
	}
	c.Resources.Requests = list.DeepCopy()
	c.Resources.Limits = list.DeepCopy()
}
