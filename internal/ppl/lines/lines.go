// Package lines implements the pipeline file's line reader (component
// A): reading a .ppl file and producing cleaned, comment-stripped,
// blank-free lines ready for the parser. Grounded on the teacher's
// plain os.ReadFile + string-splitting idiom (internal/app reads
// config/VFS content the same direct way) and on original_source's
// file_reader.py, whose blank/comment-stripping rules this mirrors
// exactly, extended with spec.md §4.1's inline-comment rule the
// Python original did not have.
package lines

import (
	"fmt"
	"os"
	"strings"
)

// Read loads path, validates its extension, and returns the cleaned
// command lines: outer whitespace trimmed, blank lines and full-line
// comments dropped, and trailing " #..." inline comments stripped.
func Read(path string) ([]string, error) {
	if !strings.HasSuffix(path, ".ppl") {
		return nil, fmt.Errorf("expected a .ppl file, got: '%s'", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline file not found: '%s'", path)
		}
		return nil, fmt.Errorf("cannot read pipeline file '%s': %w", path, err)
	}

	raw := strings.Split(string(data), "\n")
	out := make([]string, 0, len(raw))
	for _, rawLine := range raw {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = stripInlineComment(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// stripInlineComment removes a trailing " # ..." comment: one or more
// whitespace characters, then '#', then anything to end of line. The
// whitespace requirement means a '#' used as a quoted value, e.g.
// replace col "#" "x", is preserved.
func stripInlineComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] != '#' {
			continue
		}
		if i == 0 || !isSpace(line[i-1]) {
			continue
		}
		return strings.TrimRight(line[:i], " \t")
	}
	return line
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
