package validate

import "strings"

// Repair attempts to fix a script that failed to parse. Each heuristic
// pass is tried independently against the original source and the first
// pass whose output re-parses is accepted. Only whitespace and string
// delimiters are ever touched; no pass may add or remove statements.
// Returns the original code and false when no pass produces parseable
// output.
func Repair(code string) (string, bool) {
	passes := []func(string) string{
		repairIndentation,
		repairUnterminatedString,
		repairFlatBlocks,
	}

	for _, pass := range passes {
		fixed := pass(code)
		if _, err := parseScript(fixed); err == nil {
			return fixed, true
		}
	}
	return code, false
}

// repairIndentation rewrites each line's leading whitespace to the depth
// implied by block-opening colons and dedent keywords. Lines inside
// multi-line string literals are never touched.
func repairIndentation(code string) string {
	lines, _ := scanLines(code)
	raw := strings.Split(code, "\n")

	// Each open block remembers the original indent of its first body
	// line; a later line original-indented shallower than that closes it.
	type block struct {
		bodyIndent int
		known      bool
	}

	var out []string
	var stack []block

	for n, li := range lines {
		line := raw[n]

		if li.startInString || li.startDepth > 0 || li.continuation {
			out = append(out, line)
			continue
		}

		trimmed := strings.TrimLeft(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			out = append(out, "")
			continue
		}

		orig := indentWidth(line)

		for len(stack) > 0 && stack[len(stack)-1].known && orig < stack[len(stack)-1].bodyIndent {
			stack = stack[:len(stack)-1]
		}

		if dedentRe.MatchString(trimmed) && len(stack) > 0 {
			// else/elif/except/finally terminate the current suite and
			// open their own at the same level.
			stack = stack[:len(stack)-1]
		} else if len(stack) > 0 && !stack[len(stack)-1].known {
			stack[len(stack)-1].bodyIndent = orig
			stack[len(stack)-1].known = true
		}

		out = append(out, strings.Repeat("    ", len(stack))+trimmed)

		if opensBlock(li.text) {
			stack = append(stack, block{})
		}
	}

	return strings.Join(out, "\n")
}

// repairUnterminatedString closes string literals left open: single-quote
// delimiters are closed at the end of their own line, and a string still
// open at the end of the scan gets its delimiter appended to the source.
func repairUnterminatedString(code string) string {
	_, st := scanLines(code)

	if len(st.badSingles) > 0 {
		lines := strings.Split(code, "\n")
		for _, bad := range st.badSingles {
			lines[bad.Line-1] += bad.Delim
		}
		code = strings.Join(lines, "\n")
		_, st = scanLines(code)
	}

	if st.inString != "" {
		code += st.inString
	}
	return code
}

// repairFlatBlocks is the fallback pass: any line following a
// block-opening colon that was emitted at the same (or lesser) indent is
// pushed one level deeper.
func repairFlatBlocks(code string) string {
	lines, _ := scanLines(code)
	raw := strings.Split(code, "\n")

	var out []string
	prevIndent := 0
	prevOpened := false

	for n, li := range lines {
		line := raw[n]

		if li.startInString || li.startDepth > 0 || li.continuation {
			out = append(out, line)
			continue
		}

		trimmed := strings.TrimLeft(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			out = append(out, line)
			continue
		}

		indent := indentWidth(line)
		if prevOpened && indent <= prevIndent {
			indent = prevIndent + 4
			line = strings.Repeat(" ", indent) + trimmed
		}

		out = append(out, line)
		prevIndent = indent
		prevOpened = opensBlock(li.text)
	}

	return strings.Join(out, "\n")
}
