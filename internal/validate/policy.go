package validate

import "regexp"

// Policy is the immutable security configuration for script validation.
// It is constructed once at startup and passed explicitly into the
// validator, so alternate policies are trivial to test.
type Policy struct {
	allowedModules    map[string]struct{}
	forbiddenBuiltins map[string]struct{}
	denyPatterns      []DenyPattern
}

// DenyPattern is a raw-source regex checked beneath the structural walk.
// It catches string-based evasion the walker does not special-case.
type DenyPattern struct {
	Name   string
	Detail string
	Regex  *regexp.Regexp
}

// DefaultPolicy returns the production allow/deny configuration:
// data-frame, numeric, plotting, statistics and general-purpose standard
// library modules are allowed; OS, networking, process and arbitrary
// object serialization modules are implicitly forbidden.
func DefaultPolicy() Policy {
	allowed := []string{
		// Data analysis stack
		"pandas", "numpy", "scipy", "sklearn", "statsmodels",
		// Plotting
		"matplotlib", "seaborn",
		// General-purpose standard library
		"math", "statistics", "random", "datetime", "time", "calendar",
		"json", "csv", "re", "string", "textwrap", "collections",
		"itertools", "functools", "operator", "decimal", "fractions",
		"heapq", "bisect", "copy", "enum", "dataclasses", "typing",
		"base64", "io", "warnings", "unicodedata",
	}

	forbidden := []string{
		"eval", "exec", "compile", "__import__",
		"open", "input",
		"getattr", "setattr", "delattr", "hasattr",
		"globals", "locals", "vars", "breakpoint",
	}

	p := Policy{
		allowedModules:    make(map[string]struct{}, len(allowed)),
		forbiddenBuiltins: make(map[string]struct{}, len(forbidden)),
		denyPatterns:      defaultDenyPatterns(),
	}
	for _, m := range allowed {
		p.allowedModules[m] = struct{}{}
	}
	for _, b := range forbidden {
		p.forbiddenBuiltins[b] = struct{}{}
	}
	return p
}

// NewPolicy builds a custom policy, mainly for tests.
func NewPolicy(allowedModules, forbiddenBuiltins []string, patterns []DenyPattern) Policy {
	p := Policy{
		allowedModules:    make(map[string]struct{}, len(allowedModules)),
		forbiddenBuiltins: make(map[string]struct{}, len(forbiddenBuiltins)),
		denyPatterns:      patterns,
	}
	for _, m := range allowedModules {
		p.allowedModules[m] = struct{}{}
	}
	for _, b := range forbiddenBuiltins {
		p.forbiddenBuiltins[b] = struct{}{}
	}
	return p
}

// ModuleAllowed reports whether a top-level module is on the allow-list.
func (p Policy) ModuleAllowed(module string) bool {
	_, ok := p.allowedModules[module]
	return ok
}

// BuiltinForbidden reports whether a bare call name is forbidden.
func (p Policy) BuiltinForbidden(name string) bool {
	_, ok := p.forbiddenBuiltins[name]
	return ok
}

func defaultDenyPatterns() []DenyPattern {
	return []DenyPattern{
		{
			Name:   "obfuscated_import",
			Detail: "dynamic import via __import__ or importlib",
			Regex:  regexp.MustCompile(`__import__\s*\(|importlib`),
		},
		{
			Name:   "dunder_access",
			Detail: "reflective access through double-underscore attributes",
			Regex:  regexp.MustCompile(`__(subclasses|bases|globals|builtins|class|mro|dict)__`),
		},
		{
			Name:   "os_system",
			Detail: "shell command execution",
			Regex:  regexp.MustCompile(`\bos\s*\.\s*(system|popen|exec[lv]p?e?|spawn)`),
		},
		{
			Name:   "subprocess",
			Detail: "child process creation",
			Regex:  regexp.MustCompile(`\bsubprocess\s*\.`),
		},
		{
			Name:   "eval_exec_string",
			Detail: "dynamic evaluation of constructed strings",
			Regex:  regexp.MustCompile(`\b(eval|exec|compile)\s*\(`),
		},
		{
			Name:   "file_write",
			Detail: "raw file I/O",
			Regex:  regexp.MustCompile(`\bopen\s*\(`),
		},
		{
			Name:   "pickle_load",
			Detail: "arbitrary object deserialization",
			Regex:  regexp.MustCompile(`\b(pickle|shelve|marshal|dill)\s*\.\s*(load|loads)`),
		},
		{
			Name:   "socket_use",
			Detail: "network socket access",
			Regex:  regexp.MustCompile(`\bsocket\s*\.|\burllib\b|\brequests\s*\.`),
		},
		{
			Name:   "ctypes_ffi",
			Detail: "native code loading via ctypes",
			Regex:  regexp.MustCompile(`\bctypes\b`),
		},
		{
			Name:   "sys_modules",
			Detail: "tampering with the interpreter module table",
			Regex:  regexp.MustCompile(`\bsys\s*\.\s*modules`),
		},
	}
}
