package pycode

import (
	"regexp"
	"strings"
)

// Direct file reads cannot work inside the sandbox: there is no mounted
// filesystem beyond the script itself, and any dataset arrives through
// the injected df variable instead.
var (
	fileReadRe   = regexp.MustCompile(`\b(?:pd|pandas)\s*\.\s*read_(?:csv|excel|json|table|parquet|html)\s*\(\s*['"]|\bopen\s*\(`)
	assignmentRe = regexp.MustCompile(`^(\s*)([A-Za-z_]\w*)\s*=`)
)

const rewriteComment = "# file access disabled in sandbox; use the preloaded df variable"

// RewriteFileReads replaces lines performing direct file reads with no-op
// placeholders that preserve block structure. Assignments keep their
// target bound (to None) so later references fail with a clear error
// rather than a NameError about a missing statement.
func RewriteFileReads(code string) string {
	if !fileReadRe.MatchString(code) {
		return code
	}

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if !fileReadRe.MatchString(line) {
			continue
		}

		if m := assignmentRe.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + m[2] + " = None  " + rewriteComment
			continue
		}

		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = indent + "pass  " + rewriteComment
	}

	return strings.Join(lines, "\n")
}
