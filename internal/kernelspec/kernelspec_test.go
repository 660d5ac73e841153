package kernelspec

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleManifest = `
name: js
language: javascript
command: /usr/local/bin/kernos
args:
  - kernel
env:
  KERNOS_LOG: debug
  AAA: first
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Name != "js" || m.Language != "javascript" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(m.Args) != 1 || m.Args[0] != "kernel" {
		t.Fatalf("unexpected args: %+v", m.Args)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"no name", "language: js\ncommand: run\n", "missing name"},
		{"no language", "name: js\ncommand: run\n", "missing language"},
		{"no command", "name: js\nlanguage: js\n", "missing command"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("name: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadReturnsRawBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "js.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, raw, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Name != "js" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if string(raw) != sampleManifest {
		t.Fatal("raw bytes should match the file contents")
	}
}

func TestEnvSliceSortedDeterministic(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"AAA=first", "KERNOS_LOG=debug"}
	if got := m.EnvSlice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
