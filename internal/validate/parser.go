package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports a structural problem in a script, with the 1-based
// line number where it was detected.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Msg)
}

// importRef is a top-level module imported by the script.
type importRef struct {
	Module string
	Line   int
}

// callRef is a bare (non-attribute) call expression.
type callRef struct {
	Name string
	Line int
}

// scriptInfo is the walkable result of a successful parse.
type scriptInfo struct {
	Imports []importRef
	Calls   []callRef
}

// lineInfo carries the scanner state at the start of a physical line plus
// the line's analysis text (string literals blanked, comments stripped).
type lineInfo struct {
	startDepth    int
	startInString bool
	continuation  bool // previous line ended with a backslash
	text          string
}

// badString is a single-quoted literal left open at the end of its line.
type badString struct {
	Line  int
	Delim string
}

// scanState is the scanner state after consuming the whole source.
type scanState struct {
	inString   string // open delimiter, "" if none
	stringAt   int    // line where the open string started
	depth      int    // bracket nesting depth
	negAt      int    // line of the first unmatched closing bracket, 0 if none
	lastOpen   int    // line of the most recent unclosed opening bracket
	badSingles []badString
}

var (
	importRe     = regexp.MustCompile(`^import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)\s+import\b`)
	callRe       = regexp.MustCompile(`[A-Za-z_]\w*\s*\(`)
	dedentRe     = regexp.MustCompile(`^(else|elif|except|finally)\b`)
)

// scanLines walks the source byte-by-byte, tracking string literals and
// bracket nesting so that later passes never misread quoted text.
func scanLines(code string) ([]lineInfo, scanState) {
	var (
		lines   []lineInfo
		st      scanState
		cur     strings.Builder
		lineNum = 1
		cont    bool
	)

	startLine := func() lineInfo {
		return lineInfo{
			startDepth:    st.depth,
			startInString: st.inString != "",
			continuation:  cont,
		}
	}

	info := startLine()

	flush := func() {
		info.text = cur.String()
		lines = append(lines, info)
		cur.Reset()
	}

	i := 0
	for i < len(code) {
		c := code[i]

		if c == '\n' {
			// Single-quoted strings do not span lines: note the open one
			// as unterminated and close it at the newline, the way the
			// CPython tokenizer does.
			if len(st.inString) == 1 {
				st.badSingles = append(st.badSingles, badString{Line: lineNum, Delim: st.inString})
				st.inString = ""
			}
			cont = st.inString == "" && strings.HasSuffix(strings.TrimRight(cur.String(), " \t"), "\\")
			flush()
			lineNum++
			info = startLine()
			i++
			continue
		}

		if st.inString != "" {
			if c == '\\' && i+1 < len(code) {
				i += 2
				continue
			}
			if strings.HasPrefix(code[i:], st.inString) {
				i += len(st.inString)
				st.inString = ""
				cur.WriteByte('\'')
				continue
			}
			i++
			continue
		}

		switch c {
		case '#':
			// Comment runs to end of line.
			for i < len(code) && code[i] != '\n' {
				i++
			}
			continue
		case '\'', '"':
			delim := string(c)
			if strings.HasPrefix(code[i:], strings.Repeat(delim, 3)) {
				delim = strings.Repeat(delim, 3)
			}
			st.inString = delim
			st.stringAt = lineNum
			// Keep a quote in the analysis text so string-only lines
			// still register as statements for indentation checking.
			cur.WriteByte('\'')
			i += len(delim)
			continue
		case '(', '[', '{':
			st.depth++
			st.lastOpen = lineNum
		case ')', ']', '}':
			st.depth--
			if st.depth < 0 && st.negAt == 0 {
				st.negAt = lineNum
			}
		}

		cur.WriteByte(c)
		i++
	}
	flush()

	return lines, st
}

// parseScript performs the structural parse: string/bracket balance plus
// block indentation, then extracts imports and bare calls for the walker.
func parseScript(code string) (*scriptInfo, error) {
	lines, st := scanLines(code)

	if st.negAt != 0 {
		return nil, &ParseError{Line: st.negAt, Msg: "unmatched closing bracket"}
	}
	if len(st.badSingles) > 0 {
		return nil, &ParseError{Line: st.badSingles[0].Line, Msg: "unterminated string literal"}
	}
	if st.inString != "" {
		return nil, &ParseError{Line: st.stringAt, Msg: "unterminated string literal"}
	}
	if st.depth != 0 {
		return nil, &ParseError{Line: st.lastOpen, Msg: "unclosed bracket"}
	}

	if err := checkIndentation(lines); err != nil {
		return nil, err
	}

	info := &scriptInfo{}
	for n, li := range lines {
		if li.startDepth > 0 || li.startInString || li.continuation {
			continue
		}
		if strings.TrimSpace(li.text) == "" {
			continue
		}

		// Import statements can hide after a compound-statement colon or
		// a semicolon, so each depth-zero segment is matched separately.
		for _, stmt := range splitStatements(li.text) {
			trimmed := strings.TrimSpace(stmt)
			if trimmed == "" {
				continue
			}

			if m := fromImportRe.FindStringSubmatch(trimmed); m != nil {
				info.Imports = append(info.Imports, importRef{Module: rootModule(m[1]), Line: n + 1})
			} else if m := importRe.FindStringSubmatch(trimmed); m != nil {
				for _, part := range strings.Split(m[1], ",") {
					name := strings.TrimSpace(part)
					if idx := strings.Index(name, " as "); idx >= 0 {
						name = name[:idx]
					}
					if name != "" {
						info.Imports = append(info.Imports, importRef{Module: rootModule(name), Line: n + 1})
					}
				}
			}
		}

		for _, loc := range callRe.FindAllStringIndex(li.text, -1) {
			// Attribute calls (obj.name(...)) are not bare builtins.
			if loc[0] > 0 {
				prev := li.text[loc[0]-1]
				if prev == '.' || isWordByte(prev) {
					continue
				}
			}
			name := strings.TrimRight(li.text[loc[0]:loc[1]-1], " \t")
			info.Calls = append(info.Calls, callRef{Name: name, Line: n + 1})
		}
	}

	return info, nil
}

// checkIndentation enforces Python block structure: a trailing colon at
// bracket depth zero opens a block that must be indented, and every dedent
// must land on an enclosing indentation level.
func checkIndentation(lines []lineInfo) error {
	stack := []int{0}
	expectIndent := false

	for n, li := range lines {
		if li.startDepth > 0 || li.startInString || li.continuation {
			continue
		}
		trimmed := strings.TrimSpace(li.text)
		if trimmed == "" {
			continue
		}

		indent := indentWidth(li.text)
		top := stack[len(stack)-1]

		switch {
		case expectIndent:
			if indent <= top {
				return &ParseError{Line: n + 1, Msg: "expected an indented block"}
			}
			stack = append(stack, indent)
		case indent > top:
			return &ParseError{Line: n + 1, Msg: "unexpected indent"}
		case indent < top:
			for len(stack) > 1 && stack[len(stack)-1] > indent {
				stack = stack[:len(stack)-1]
			}
			if stack[len(stack)-1] != indent {
				return &ParseError{Line: n + 1, Msg: "unindent does not match any outer indentation level"}
			}
		}

		expectIndent = opensBlock(li.text)
	}

	if expectIndent {
		return &ParseError{Line: len(lines), Msg: "expected an indented block at end of file"}
	}
	return nil
}

// opensBlock reports whether an analysis line ends with a block-opening
// colon at bracket depth zero.
func opensBlock(text string) bool {
	return strings.HasSuffix(strings.TrimRight(text, " \t"), ":")
}

// indentWidth measures leading whitespace, expanding tabs to the next
// multiple of 8 the way CPython's tokenizer does.
func indentWidth(line string) int {
	w := 0
	for _, c := range line {
		switch c {
		case ' ':
			w++
		case '\t':
			w = (w/8 + 1) * 8
		default:
			return w
		}
	}
	return w
}

// splitStatements cuts an analysis line into statement segments at colons
// and semicolons outside brackets. Colons inside dict literals and slices
// sit at bracket depth > 0 and are left alone; annotation segments are
// harmless to the import matcher.
func splitStatements(text string) []string {
	var (
		segs  []string
		depth int
		start int
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':', ';':
			if depth == 0 {
				segs = append(segs, text[start:i])
				start = i + 1
			}
		}
	}
	return append(segs, text[start:])
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// rootModule reduces a dotted module path to its top-level package.
func rootModule(name string) string {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx]
	}
	return name
}
