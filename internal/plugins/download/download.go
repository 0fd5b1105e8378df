// Package downloadplugin fetches release artifacts over HTTP and
// verifies them against a pinned checksum. Binaries a host bootstrap
// needs (containerd, runc, CNI plugins) ship as versioned tarballs, so
// the checksum doubles as the idempotency check.
package downloadplugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/provisio/provisio/internal/config"
	"github.com/provisio/provisio/internal/model"
	"github.com/provisio/provisio/internal/plugin"
)

const defaultMode = os.FileMode(0o644)

type downloadPlugin struct {
	client *http.Client
}

// New creates a new download plugin instance.
func New() plugin.Plugin {
	return &downloadPlugin{
		client: &http.Client{Timeout: 15 * time.Minute},
	}
}

var _ plugin.Plugin = (*downloadPlugin)(nil)

func (p *downloadPlugin) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "download",
		Version:     "1.0.0",
		Description: "Downloads files over HTTP with checksum verification.",
	}
}

func (p *downloadPlugin) Schema() any {
	return config.DownloadStep{}
}

func (p *downloadPlugin) Evaluate(ctx context.Context, step *config.Step) (*model.EvaluationResult, error) {
	cfg := step.Download
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("download configuration missing"))
	}

	info, err := os.Stat(cfg.Destination)
	if os.IsNotExist(err) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s does not exist", cfg.Destination),
			Diff:           fmt.Sprintf("Would download: %s -> %s", cfg.URL, cfg.Destination),
		}, nil
	}
	if err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot stat %s: %w", cfg.Destination, err))
	}
	if info.IsDir() {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("%s is a directory", cfg.Destination))
	}

	if cfg.SHA256 == "" {
		// Without a pinned checksum, an existing file is trusted.
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("%s exists (no checksum declared)", cfg.Destination),
		}, nil
	}

	sum, err := fileSHA256(cfg.Destination)
	if err != nil {
		return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot hash %s: %w", cfg.Destination, err))
	}
	if !strings.EqualFold(sum, cfg.SHA256) {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("%s checksum mismatch: got %s", cfg.Destination, sum),
			Diff:           fmt.Sprintf("Would re-download: %s -> %s", cfg.URL, cfg.Destination),
		}, nil
	}

	return &model.EvaluationResult{
		StepID:       step.ID,
		CurrentState: model.StatusSatisfied,
		Message:      fmt.Sprintf("%s exists with matching checksum", cfg.Destination),
	}, nil
}

func (p *downloadPlugin) Apply(ctx context.Context, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	cfg := step.Download
	if cfg == nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("download configuration missing"))
	}

	mode := defaultMode
	if cfg.Mode != "" {
		parsed, err := strconv.ParseUint(cfg.Mode, 8, 32)
		if err != nil {
			return nil, plugin.NewValidationError(step.ID, fmt.Errorf("invalid mode %q: %w", cfg.Mode, err))
		}
		mode = os.FileMode(parsed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, fmt.Errorf("invalid url %q: %w", cfg.URL, err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return failedResult(step.ID, fmt.Errorf("GET %s: %w", cfg.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failedResult(step.ID, fmt.Errorf("GET %s: unexpected status %s", cfg.URL, resp.Status))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Destination), 0o755); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot create parent directory: %w", err))
	}

	// Download into a sibling temp file and rename only after the
	// checksum verifies, so a failed fetch never clobbers a good copy.
	tmp, err := os.CreateTemp(filepath.Dir(cfg.Destination), ".provisio-download-*")
	if err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return failedResult(step.ID, fmt.Errorf("writing %s: %w", cfg.Destination, err))
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if cfg.SHA256 != "" && !strings.EqualFold(sum, cfg.SHA256) {
		return failedResult(step.ID, fmt.Errorf("checksum mismatch for %s: want %s, got %s", cfg.URL, cfg.SHA256, sum))
	}

	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot chmod download: %w", err))
	}
	if err := os.Rename(tmp.Name(), cfg.Destination); err != nil {
		return failedResult(step.ID, fmt.Errorf("cannot rename into place: %w", err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("downloaded %s (%d bytes, sha256 %s)", cfg.Destination, written, sum[:12]),
	}, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func failedResult(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}
