package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnified_IdenticalContent(t *testing.T) {
	t.Parallel()

	out := Unified([]byte("a\nb\n"), []byte("a\nb\n"), "desired", "actual")
	assert.Empty(t, out)
}

func TestUnified_ShowsChanges(t *testing.T) {
	t.Parallel()

	desired := []byte("net.ipv4.ip_forward = 1\n")
	actual := []byte("net.ipv4.ip_forward = 0\n")

	out := Unified(desired, actual, "desired", "/etc/sysctl.d/99-kubernetes.conf")

	assert.Contains(t, out, "--- desired")
	assert.Contains(t, out, "+++ /etc/sysctl.d/99-kubernetes.conf")
	assert.Contains(t, out, "-")
	assert.Contains(t, out, "+")
}

func TestUnified_TruncatesLargeDiffs(t *testing.T) {
	t.Parallel()

	desired := strings.Repeat("left\n", maxLines)
	actual := strings.Repeat("right\n", maxLines)

	out := Unified([]byte(desired), []byte(actual), "a", "b")
	assert.Contains(t, out, truncateMessage)
}
