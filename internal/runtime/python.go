package runtime

import "fmt"

// DefaultPythonBinary is used when the config does not name an interpreter.
const DefaultPythonBinary = "python3"

// MaxCodeBytes bounds the size of a submitted script.
const MaxCodeBytes = 1 << 20

// PythonCommand returns the interpreter invocation for a script file.
func PythonCommand(binary, codePath string) []string {
	if binary == "" {
		binary = DefaultPythonBinary
	}
	return []string{
		binary, "-u", // Unbuffered output
		"-B", // Don't write .pyc files
		codePath,
	}
}

// CheckCodeSize rejects empty or oversized scripts before any work is done.
func CheckCodeSize(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("empty code")
	}
	if len(code) > MaxCodeBytes {
		return fmt.Errorf("code too large: %d bytes (max 1MB)", len(code))
	}
	return nil
}
