package main

import "testing"

func TestParseKeyValuePairs(t *testing.T) {
	pairs, err := parseKeyValuePairs([]string{"FOO=bar", "EMPTY=", "PATH=/a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pairs["FOO"] != "bar" {
		t.Errorf("FOO = %q, want bar", pairs["FOO"])
	}
	if v, ok := pairs["EMPTY"]; !ok || v != "" {
		t.Errorf("EMPTY = %q (present=%v), want empty string", v, ok)
	}
	if pairs["PATH"] != "/a=b" {
		t.Errorf("PATH = %q, want /a=b", pairs["PATH"])
	}
}

func TestParseKeyValuePairsRejectsMalformed(t *testing.T) {
	for _, pair := range []string{"NOEQUALS", "=value", "  =x"} {
		if _, err := parseKeyValuePairs([]string{pair}); err == nil {
			t.Errorf("expected error for %q", pair)
		}
	}
}

func TestParseKeyValuePairsEmptyInput(t *testing.T) {
	pairs, err := parseKeyValuePairs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pairs != nil {
		t.Fatalf("expected nil map, got %v", pairs)
	}
}
