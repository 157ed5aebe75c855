package notes

import (
	"strings"
	"unicode/utf8"
)

// ContentPreview returns the first maxLines lines of content, appending
// "..." on a new line if truncated. Shorter content is returned unchanged.
func ContentPreview(content string, maxLines int) string {
	if content == "" || maxLines <= 0 {
		return content
	}

	// Find the position of the Nth newline
	pos := 0
	found := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			found++
			if found == maxLines {
				pos = i
				break
			}
		}
	}

	if found < maxLines {
		return content
	}
	return content[:pos] + "\n..."
}

// Summary returns the first line of content cut to maxRunes runes, for
// one-line list rows and MCP tool output.
func Summary(content string, maxRunes int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if maxRunes <= 0 || utf8.RuneCountInString(line) <= maxRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
