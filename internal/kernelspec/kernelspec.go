// Package kernelspec parses YAML manifests describing how to launch a
// kernel adapter process for a guest language.
package kernelspec

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk description of a kernel command.
type Manifest struct {
	Name     string            `yaml:"name"`
	Language string            `yaml:"language"`
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("kernelspec: parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads a manifest file. The raw bytes are returned alongside the
// parsed manifest so callers can persist the original document.
func Load(path string) (Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("kernelspec: read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, nil, err
	}
	return m, data, nil
}

// Validate checks the required fields.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("kernelspec: manifest missing name")
	}
	if strings.TrimSpace(m.Language) == "" {
		return fmt.Errorf("kernelspec: manifest %q missing language", m.Name)
	}
	if strings.TrimSpace(m.Command) == "" {
		return fmt.Errorf("kernelspec: manifest %q missing command", m.Name)
	}
	return nil
}

// EnvSlice renders Env as KEY=VALUE pairs in sorted order suitable for
// exec.Cmd.
func (m Manifest) EnvSlice() []string {
	if len(m.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.Env))
	for k := range m.Env {
		keys = append(keys, k)
	}
	// Deterministic ordering keeps spawn environments reproducible.
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m.Env[k])
	}
	return out
}
