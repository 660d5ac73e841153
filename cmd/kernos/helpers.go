package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// parseKeyValuePairs turns repeated KEY=VALUE flags into a map.
func parseKeyValuePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid KEY=VALUE pair %q", pair)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

// readSource returns the code to run: the single positional argument, or
// stdin when no argument is given.
func readSource(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
