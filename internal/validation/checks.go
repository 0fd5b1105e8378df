// Package validation runs plan-level post-apply checks: assertions
// about the provisioned host that span multiple steps, such as a
// binary being on PATH at a minimum version.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/provisio/provisio/internal/plugins/internalexec"
)

// CheckCommandExists verifies a command is available on PATH.
func CheckCommandExists(command string) error {
	if command == "" {
		return fmt.Errorf("command name is required")
	}

	if _, err := exec.LookPath(command); err != nil {
		return err
	}
	return nil
}

// CheckFileExists verifies a file or directory exists at the given path.
func CheckFileExists(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("path %s does not exist", path)
		}
		return err
	}

	return nil
}

// CheckPathContains verifies that file contains the provided text or pattern.
func CheckPathContains(path, text string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	if text == "" {
		return fmt.Errorf("text is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	pattern, err := regexp.Compile(text)
	if err != nil {
		return err
	}

	if !pattern.Match(data) {
		return fmt.Errorf("pattern %q not found in %s", text, path)
	}

	return nil
}

// CheckServiceActive verifies a systemd unit reports active.
func CheckServiceActive(ctx context.Context, systemctl, unit string) error {
	if unit == "" {
		return fmt.Errorf("unit name is required")
	}
	if systemctl == "" {
		systemctl = "systemctl"
	}

	res, err := internalexec.RunQuiet(exec.CommandContext(ctx, systemctl, "is-active", unit))
	if err != nil {
		state := internalexec.PrimaryOutput(res)
		if state == "" {
			return fmt.Errorf("unit %s is not active: %w", unit, err)
		}
		return fmt.Errorf("unit %s is %s", unit, state)
	}
	return nil
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)

// CheckMinVersion runs a version command and requires the first semver
// in its output to be at least minVersion. Handles output like
// "containerd github.com/containerd/containerd/v2 v2.0.0".
func CheckMinVersion(ctx context.Context, command, minVersion string) error {
	if command == "" {
		return fmt.Errorf("version command is required")
	}
	if minVersion == "" {
		return fmt.Errorf("minimum version is required")
	}

	res, err := internalexec.RunQuiet(exec.CommandContext(ctx, "sh", "-c", command))
	if err != nil {
		return fmt.Errorf("running %q: %w", command, err)
	}

	actual := ExtractVersion(internalexec.PrimaryOutput(res))
	if actual == "" {
		return fmt.Errorf("no version found in output of %q", command)
	}

	want := canonical(minVersion)
	got := canonical(actual)
	if !semver.IsValid(got) {
		return fmt.Errorf("cannot parse version %q from %q", actual, command)
	}
	if semver.Compare(got, want) < 0 {
		return fmt.Errorf("version %s is below required %s", actual, minVersion)
	}
	return nil
}

// ExtractVersion returns the first semver-looking token in the text,
// without a leading v.
func ExtractVersion(text string) string {
	match := versionPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return match[1]
}

func canonical(version string) string {
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return version
}
