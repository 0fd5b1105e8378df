package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParsePlan loads a plan file from disk, validates it, and returns the
// resulting model. All validation failures surface before any step runs.
func ParsePlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, provisioerrors.NewParseError(path, 0, err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, provisioerrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidatePlan(&plan); err != nil {
		return nil, err
	}

	return &plan, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}

	return line
}
