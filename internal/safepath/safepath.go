// Package safepath enforces the filesystem hygiene rules for per-session
// agent artifacts: artifacts live under a fixed directory skeleton and
// filenames within it are restricted to single, plain path components.
package safepath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureAgentDir creates and returns "<cwd>/.code/agents/<sanitized agentID>".
func EnsureAgentDir(cwd, agentID string) (string, error) {
	component, err := safeComponent(agentID, "agent")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(cwd, ".code", "agents", component)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create agent dir: %w", err)
	}
	return dir, nil
}

// EnsureUserDir creates and returns "<cwd>/.code/users".
func EnsureUserDir(cwd string) (string, error) {
	dir := filepath.Join(cwd, ".code", "users")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	return dir, nil
}

// WriteAgentFile writes content to filename inside dir, rejecting any
// filename that is not a single plain path component.
func WriteAgentFile(dir, filename string, content []byte) error {
	name, err := safeComponent(filename, "file")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), content, 0o644)
}

// safeComponent validates that raw is usable as a single path component:
// no path separators, no NUL bytes, not empty, and not "." or "..".
func safeComponent(raw, kind string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%s name must not be empty", kind)
	}
	if strings.ContainsAny(raw, "/\\\x00") {
		return "", fmt.Errorf("%s name %q must not contain path separators or NUL", kind, raw)
	}
	if filepath.IsAbs(raw) {
		return "", fmt.Errorf("%s name %q must not be an absolute path", kind, raw)
	}
	clean := filepath.Clean(raw)
	if clean != raw {
		return "", fmt.Errorf("%s name %q must be a single plain path component", kind, raw)
	}
	if strings.Count(clean, string(filepath.Separator)) != 0 {
		return "", fmt.Errorf("%s name %q must be a single path component", kind, raw)
	}
	switch clean {
	case ".", "..":
		return "", fmt.Errorf("%s name %q is not allowed", kind, raw)
	}
	return clean, nil
}
