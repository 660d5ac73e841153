package jskernel

import (
	"regexp"
	"strings"
)

// REPL auto-print suppression: the value of an Exec task is only
// reported when its trailing line is an expression someone would expect
// echoed. Blank lines, comment-only lines and assignment-like lines are
// suppressed.
var (
	declarationRe = regexp.MustCompile(`^\s*(var|let|const|function|class)\b`)

	// Matches "target = ..." / compound assignments / increments on an
	// identifier or member path, without matching ==, ===, => or
	// comparison operators.
	assignmentRe = regexp.MustCompile(`^\s*[A-Za-z_$][\w$]*(\s*(\.[A-Za-z_$][\w$]*|\[[^\]]*\]))*\s*((=([^=>]|$))|([-+*/%&|^]|\*\*|<<|>>>?|&&|\|\||\?\?)=|\+\+|--)`)
)

// lastLineVisible reports whether the trailing line of an Exec task
// should have its value echoed.
func lastLineVisible(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	last := lines[len(lines)-1]
	trimmed := strings.TrimSpace(last)

	switch {
	case trimmed == "":
		return false
	case strings.HasPrefix(trimmed, "//"), strings.HasPrefix(trimmed, "/*"):
		return false
	case declarationRe.MatchString(trimmed):
		return false
	case assignmentRe.MatchString(trimmed):
		return false
	}
	return true
}
