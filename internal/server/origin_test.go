package server

import "testing"

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"http://localhost", true},
		{"http://127.0.0.1:8080", true},
		{"https://localhost:8443", true},
		{"https://127.0.0.1", true},
		{"http://example.com", false},
		{"https://evil.localhost.example.com", false},
		{"ftp://localhost", false},
		{"http://bad host", false},
	}

	for _, tc := range cases {
		if got := originAllowed(tc.origin); got != tc.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
