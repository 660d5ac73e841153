package kernel

import (
	"os"
	"regexp"
	"strings"
)

// secretEnvPattern matches environment variable names that plausibly hold
// secret material. Matched variables are removed when a kernel is boxed.
var secretEnvPattern = regexp.MustCompile(`(?i)(secret|token|key|passwd|password|credential|auth)`)

// ScrubSecretEnv removes secret-looking environment variables from the
// process environment and returns the names that were removed.
func ScrubSecretEnv() []string {
	var removed []string
	for _, entry := range os.Environ() {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if secretEnvPattern.MatchString(name) {
			os.Unsetenv(name)
			removed = append(removed, name)
		}
	}
	return removed
}
