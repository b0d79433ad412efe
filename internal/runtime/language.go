package runtime

import "fmt"

// Language identifies a scripting language a caller may request.
// Only Python is executable; the others are accepted at the type level
// and produce a not-implemented outcome rather than an error.
type Language int

const (
	LanguageUnknown Language = iota
	LanguagePython
	LanguageNode
	LanguageBash
)

func (l Language) String() string {
	switch l {
	case LanguagePython:
		return "python"
	case LanguageNode:
		return "node"
	case LanguageBash:
		return "bash"
	default:
		return "unknown"
	}
}

// ParseLanguage maps a request string onto the Language enum.
func ParseLanguage(s string) (Language, error) {
	switch s {
	case "python", "python3", "":
		return LanguagePython, nil
	case "node", "javascript":
		return LanguageNode, nil
	case "bash", "sh":
		return LanguageBash, nil
	default:
		return LanguageUnknown, fmt.Errorf("unknown language: %q (supported: python)", s)
	}
}

// Supported reports whether execution is implemented for the language.
func (l Language) Supported() bool {
	return l == LanguagePython
}

// FileExtension returns the script file extension for the language.
func (l Language) FileExtension() string {
	switch l {
	case LanguagePython:
		return ".py"
	case LanguageNode:
		return ".js"
	case LanguageBash:
		return ".sh"
	default:
		return ""
	}
}
