// Package inventory rewrites the host entry of an INI-style configuration
// inventory so the pivot host's current address is used.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SetHost points the first host line of section at address. The rest of that
// line (inline host variables) is preserved. When the section has no host
// line the address is inserted after the header; when the section does not
// exist it is appended. The result always ends with a single newline.
// It reports whether the file content changed.
func SetHost(path, section, address string) (bool, error) {
	if section == "" || address == "" {
		return false, fmt.Errorf("inventory section and address must be set")
	}

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}

	updated := Rewrite(string(raw), section, address)
	if updated == string(raw) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create inventory directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return false, fmt.Errorf("failed to write inventory %s: %w", path, err)
	}
	return true, nil
}

// Rewrite applies SetHost to content in memory.
func Rewrite(content, section, address string) string {
	lines := splitLines(content)
	header := "[" + section + "]"

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			start = i
			break
		}
	}

	if start < 0 {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, header, address)
		return joinLines(lines)
	}

	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if isSection(trimmed) {
			break
		}
		if trimmed == "" || isComment(trimmed) {
			continue
		}
		lines[i] = replaceHost(trimmed, address)
		return joinLines(lines)
	}

	lines = append(lines[:start+1], append([]string{address}, lines[start+1:]...)...)
	return joinLines(lines)
}

func replaceHost(line, address string) string {
	fields := strings.Fields(line)
	if len(fields) <= 1 {
		return address
	}
	return address + " " + strings.Join(fields[1:], " ")
}

func isSection(line string) bool {
	return strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";")
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func joinLines(lines []string) string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
