package downloadplugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
)

var artifact = []byte("fake containerd tarball contents")

func artifactSum() string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

func artifactServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write(artifact)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func downloadStep(cfg config.DownloadStep) *config.Step {
	return &config.Step{ID: "fetch_containerd", Type: "download", Enabled: true, Download: &cfg}
}

func TestEvaluate_MissingFile(t *testing.T) {
	t.Parallel()

	p := New()
	result, err := p.Evaluate(context.Background(), downloadStep(config.DownloadStep{
		URL:         "https://example.com/containerd.tar.gz",
		Destination: filepath.Join(t.TempDir(), "containerd.tar.gz"),
		SHA256:      artifactSum(),
	}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusMissing, result.CurrentState)
	assert.True(t, result.RequiresAction)
}

func TestEvaluate_ChecksumMatches(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "containerd.tar.gz")
	require.NoError(t, os.WriteFile(dest, artifact, 0o644))

	p := New()
	result, err := p.Evaluate(context.Background(), downloadStep(config.DownloadStep{
		URL:         "https://example.com/containerd.tar.gz",
		Destination: dest,
		SHA256:      artifactSum(),
	}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSatisfied, result.CurrentState)
	assert.False(t, result.RequiresAction)
}

func TestEvaluate_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "containerd.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("corrupted"), 0o644))

	p := New()
	result, err := p.Evaluate(context.Background(), downloadStep(config.DownloadStep{
		URL:         "https://example.com/containerd.tar.gz",
		Destination: dest,
		SHA256:      artifactSum(),
	}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDrifted, result.CurrentState)
	assert.True(t, result.RequiresAction)
}

func TestEvaluate_NoChecksumTrustsExisting(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(dest, []byte("anything"), 0o644))

	p := New()
	result, err := p.Evaluate(context.Background(), downloadStep(config.DownloadStep{
		URL:         "https://example.com/blob",
		Destination: dest,
	}))
	require.NoError(t, err)
	assert.Equal(t, model.StatusSatisfied, result.CurrentState)
}

func TestApply_DownloadsAndVerifies(t *testing.T) {
	t.Parallel()

	srv := artifactServer(t)
	dest := filepath.Join(t.TempDir(), "bin", "containerd.tar.gz")

	p := New()
	step := downloadStep(config.DownloadStep{
		URL:         srv.URL + "/containerd.tar.gz",
		Destination: dest,
		SHA256:      artifactSum(),
		Mode:        "0755",
	})

	result, err := p.Apply(context.Background(), nil, step)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, result.Status)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, artifact, data)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestApply_ChecksumMismatchKeepsOldFile(t *testing.T) {
	t.Parallel()

	srv := artifactServer(t)
	dest := filepath.Join(t.TempDir(), "containerd.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("previous good copy"), 0o644))

	p := New()
	step := downloadStep(config.DownloadStep{
		URL:         srv.URL + "/containerd.tar.gz",
		Destination: dest,
		SHA256:      "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})

	result, err := p.Apply(context.Background(), nil, step)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)

	var execErr *plugin.ExecutionError
	require.ErrorAs(t, err, &execErr)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous good copy", string(data))
}

func TestApply_HTTPError(t *testing.T) {
	t.Parallel()

	srv := artifactServer(t)

	p := New()
	step := downloadStep(config.DownloadStep{
		URL:         srv.URL + "/missing",
		Destination: filepath.Join(t.TempDir(), "out"),
	})

	result, err := p.Apply(context.Background(), nil, step)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "404")
}

func TestApply_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := artifactServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New()
	step := downloadStep(config.DownloadStep{
		URL:         srv.URL + "/containerd.tar.gz",
		Destination: filepath.Join(t.TempDir(), "out"),
	})

	_, err := p.Apply(ctx, nil, step)
	require.Error(t, err)
}
