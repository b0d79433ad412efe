package validate

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Kind classifies why validation rejected a script.
type Kind int

const (
	KindNone Kind = iota
	KindSyntax
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax_error"
	case KindSecurity:
		return "security_violation"
	default:
		return "none"
	}
}

// Result is the outcome of validating one script. When repair was applied,
// Code carries the repaired source that must be executed instead of the
// original submission.
type Result struct {
	Valid    bool
	Kind     Kind
	Error    string
	Code     string
	Repaired bool
}

// Validator checks scripts against an immutable security policy.
type Validator struct {
	policy Policy
}

// New creates a validator for the given policy.
func New(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate parses the script, attempting one round of syntax repair on
// parse failure, then walks imports and bare calls against the policy and
// finally scans the raw source against the deny patterns.
func (v *Validator) Validate(code string) Result {
	repaired := false

	info, err := parseScript(code)
	if err != nil {
		fixed, ok := Repair(code)
		if !ok {
			return Result{Kind: KindSyntax, Error: err.Error(), Code: code}
		}
		code = fixed
		repaired = true
		if info, err = parseScript(code); err != nil {
			return Result{Kind: KindSyntax, Error: err.Error(), Code: code}
		}
	}

	for _, imp := range info.Imports {
		if !v.policy.ModuleAllowed(imp.Module) {
			log.Warn().
				Str("module", imp.Module).
				Int("line", imp.Line).
				Msg("forbidden import rejected")
			return Result{
				Kind:  KindSecurity,
				Error: fmt.Sprintf("import of module %q is not allowed (line %d)", imp.Module, imp.Line),
				Code:  code,
			}
		}
	}

	for _, call := range info.Calls {
		if v.policy.BuiltinForbidden(call.Name) {
			log.Warn().
				Str("builtin", call.Name).
				Int("line", call.Line).
				Msg("forbidden builtin call rejected")
			return Result{
				Kind:  KindSecurity,
				Error: fmt.Sprintf("call to forbidden builtin %q is not allowed (line %d)", call.Name, call.Line),
				Code:  code,
			}
		}
	}

	// Defense in depth: the raw text scan catches obfuscated constructs
	// the structural walk does not special-case.
	for _, p := range v.policy.denyPatterns {
		if p.Regex.MatchString(code) {
			log.Warn().
				Str("pattern", p.Name).
				Msg("dangerous pattern rejected")
			return Result{
				Kind:  KindSecurity,
				Error: fmt.Sprintf("dangerous pattern %q detected: %s", p.Name, p.Detail),
				Code:  code,
			}
		}
	}

	return Result{Valid: true, Code: code, Repaired: repaired}
}
