package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SetKeyInFile sets key to value within section ("" for global) of the
// config file at path, keeping comments and layout. A missing key is added
// at the end of its section; a missing section is appended.
func SetKeyInFile(path, section, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	}
	entry := strings.TrimSpace(key + " " + value)

	inSection, seen, found := section == "", section == "", false
	insertAt := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			if inSection && insertAt < 0 {
				insertAt = i
			}
			inSection = strings.TrimSpace(trimmed[1 : len(trimmed)-1]) == section
			if inSection {
				seen = true
				insertAt = -1
			}
			continue
		}
		if !inSection || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, _, _ := strings.Cut(trimmed, " "); k == key {
			lines[i] = entry
			found = true
			break
		}
	}

	switch {
	case found:
	case seen && insertAt >= 0:
		// keep blank lines separating the section from the next header
		for insertAt > 0 && strings.TrimSpace(lines[insertAt-1]) == "" {
			insertAt--
		}
		lines = slices.Insert(lines, insertAt, entry)
	case seen:
		lines = append(lines, entry)
	default:
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "["+section+"]", entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return writeFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
