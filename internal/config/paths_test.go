package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetKernosHome(t *testing.T) {
	home := GetKernosHome()

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".kernos")

	if home != expected {
		t.Errorf("GetKernosHome() = %s; want %s", home, expected)
	}
}

func TestGetInstancePaths(t *testing.T) {
	paths := GetInstancePaths("")

	if !strings.Contains(paths.ConfigDB, "instances/default/kernos.db") {
		t.Errorf("ConfigDB path incorrect: %s", paths.ConfigDB)
	}
	if !strings.Contains(paths.RunDir, "instances/default/run") {
		t.Errorf("RunDir path incorrect: %s", paths.RunDir)
	}
	if !strings.Contains(paths.Home, "instances/default") {
		t.Errorf("Home path incorrect: %s", paths.Home)
	}
}

func TestGetInstancePathsDefaultsEmptyName(t *testing.T) {
	paths1 := GetInstancePaths("")
	paths2 := GetInstancePaths("default")
	paths3 := GetInstancePaths("custom")

	if paths1.ConfigDB != paths2.ConfigDB {
		t.Error("Empty string and 'default' should give same paths")
	}
	if paths1.ConfigDB == paths3.ConfigDB {
		t.Error("Distinct instance names should give distinct paths")
	}
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		input    string
		contains string
	}{
		{"~/test", "/test"},
		{"~", ""},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := ExpandPath(tt.input)
		if tt.input == "~" {
			home, _ := os.UserHomeDir()
			if result != home {
				t.Errorf("ExpandPath(%q) = %q; want home directory", tt.input, result)
			}
		} else if tt.input != "" && !strings.Contains(result, tt.contains) {
			t.Errorf("ExpandPath(%q) = %q; should contain %q", tt.input, result, tt.contains)
		}
	}
}
