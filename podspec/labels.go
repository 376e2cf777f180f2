// Package podspec builds corev1.Pod objects for fuzzer workloads from a
// YAML template, using a typed builder instead of string-keyed map
// manipulation.
package podspec

import "strings"

const labelPrefix = "bondifuzz"

// Key returns the fully qualified bondifuzz/<name> label key, with
// underscores rewritten to hyphens as Kubernetes label keys forbid them.
func Key(name string) string {
	return labelPrefix + "/" + strings.ReplaceAll(name, "_", "-")
}

// ParseLabels extracts bondifuzz/* labels from a pod's label map, reversing
// Key's hyphenation back to underscores.
func ParseLabels(raw map[string]string) map[string]string {
	out := make(map[string]string)
	prefix := labelPrefix + "/"
	for k, v := range raw {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.ReplaceAll(strings.TrimPrefix(k, prefix), "-", "_")
		out[name] = v
	}
	return out
}
