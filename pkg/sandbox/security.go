package sandbox

import (
	"fmt"
	"path"
	"strings"
)

// dangerousPatterns are rejected outright before any command reaches a
// shell inside the sandbox.
var dangerousPatterns = []string{
	";rm -rf",
	"&&rm -rf",
	"|rm -rf",
	"$(rm -rf",
	"`rm -rf",
}

// SanitizeCommand rejects commands containing known destructive
// injection patterns.
func SanitizeCommand(command string) (string, error) {
	lower := strings.ToLower(command)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return "", fmt.Errorf("potentially dangerous command pattern: %s", p)
		}
	}
	return command, nil
}

// ValidateWritablePath checks that a tool-supplied path falls under the
// writable prefix and contains no parent-traversal segments.
func ValidateWritablePath(p string) error {
	return validateUnder(p, WritablePrefix)
}

// ValidateWorkspacePath checks that a path falls anywhere under the
// workspace root (including the read-only shared prefix). Used by
// read-only tools.
func ValidateWorkspacePath(p string) error {
	return validateUnder(p, WorkspaceRoot)
}

func validateUnder(p, base string) error {
	if strings.Contains(p, "..") {
		return fmt.Errorf("path %q contains parent traversal", p)
	}
	// Container paths are POSIX regardless of host platform.
	normalized := path.Clean(p)
	if normalized != base && !strings.HasPrefix(normalized, base+"/") {
		return fmt.Errorf("path %q is outside %s", p, base)
	}
	return nil
}
