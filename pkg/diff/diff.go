package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	maxLines        = 4000
	truncateMessage = "... (diff truncated) ..."
)

// Unified renders a unified-style diff between the desired and actual
// content of a managed file. Returns the empty string when the content
// is identical. Large diffs are truncated; a preview of what would
// change does not need to be exhaustive.
func Unified(desired, actual []byte, desiredLabel, actualLabel string) string {
	if bytes.Equal(desired, actual) {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(string(desired), string(actual), false))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s\n", desiredLabel)
	fmt.Fprintf(&buf, "+++ %s\n", actualLabel)

	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range splitLines(d.Text) {
			buf.WriteString(prefix)
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}

	result := buf.String()
	lines := strings.Split(result, "\n")
	if len(lines) > maxLines {
		return strings.Join(lines[:maxLines], "\n") + "\n" + truncateMessage + "\n"
	}
	return result
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" && strings.HasSuffix(text, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}
