package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	provisioerrors "github.com/provisio/provisio/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	stepIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("file_mode", func(fl validator.FieldLevel) bool {
			_, err := strconv.ParseUint(fl.Field().String(), 8, 32)
			return err == nil
		})

		validateInst = v
	})

	return validateInst
}

// ValidatePlan performs schema and cross-field validation on the plan.
func ValidatePlan(plan *Plan) error {
	if plan == nil {
		return provisioerrors.NewValidationError("plan", "plan is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(plan); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(plan.Steps))

	for i, step := range plan.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return provisioerrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}

		if err := ValidateStep(step); err != nil {
			return err
		}

		stepIndex[step.ID] = i
	}

	for i, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := stepIndex[dep]; !ok {
				return provisioerrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("references unknown step %q", dep), nil)
			}
		}
	}

	if cycle := detectCycle(plan.Steps); len(cycle) > 0 {
		return provisioerrors.NewValidationError("steps", fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	for i, validation := range plan.Validations {
		if err := validateValidation(validation, i); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStep validates a single step independent of other plan properties.
func ValidateStep(step Step) error {
	v := validatorInstance()
	if err := v.Struct(step); err != nil {
		return convertValidationError(err)
	}

	var body any
	switch step.Type {
	case "command":
		if step.Command == nil {
			return missingBody(step.ID, "command")
		}
		body = step.Command
	case "package":
		if step.Package == nil {
			return missingBody(step.ID, "package")
		}
		body = step.Package
	case "file":
		if step.File == nil {
			return missingBody(step.ID, "file")
		}
		if step.File.Content == "" && step.File.Source == "" {
			return provisioerrors.NewValidationError(step.ID, "file step requires content or source", nil)
		}
		if step.File.Content != "" && step.File.Source != "" {
			return provisioerrors.NewValidationError(step.ID, "file step accepts content or source, not both", nil)
		}
		body = step.File
	case "service":
		if step.Service == nil {
			return missingBody(step.ID, "service")
		}
		if step.Service.State == "" && step.Service.Enabled == nil && !step.Service.DaemonReload {
			return provisioerrors.NewValidationError(step.ID, "service step declares no desired state", nil)
		}
		body = step.Service
	case "download":
		if step.Download == nil {
			return missingBody(step.ID, "download")
		}
		body = step.Download
	case "sysctl":
		if step.Sysctl == nil {
			return missingBody(step.ID, "sysctl")
		}
		body = step.Sysctl
	case "kernel_module":
		if step.KernelModule == nil {
			return missingBody(step.ID, "kernel_module")
		}
		body = step.KernelModule
	case "repo":
		if step.Repo == nil {
			return missingBody(step.ID, "repo")
		}
		body = step.Repo
	default:
		return provisioerrors.NewValidationError(step.ID, fmt.Sprintf("unknown step type %q", step.Type), nil)
	}

	if err := v.Struct(body); err != nil {
		return convertValidationError(err)
	}

	return nil
}

func missingBody(stepID, kind string) error {
	return provisioerrors.NewValidationError(stepID, fmt.Sprintf("%s configuration is required", kind), nil)
}

func validateValidation(val Validation, index int) error {
	v := validatorInstance()
	if err := v.Struct(val); err != nil {
		return convertValidationError(err)
	}

	switch val.Type {
	case "command_exists":
		if val.CommandExists == nil {
			return provisioerrors.NewValidationError(fieldForValidation(index, "command"), "command is required", nil)
		}
		return convertValidationError(v.Struct(val.CommandExists))
	case "file_exists":
		if val.FileExists == nil {
			return provisioerrors.NewValidationError(fieldForValidation(index, "path"), "path is required", nil)
		}
		return convertValidationError(v.Struct(val.FileExists))
	case "path_contains":
		if val.PathContains == nil {
			return provisioerrors.NewValidationError(fieldForValidation(index, "file"), "file and text are required", nil)
		}
		return convertValidationError(v.Struct(val.PathContains))
	case "service_active":
		if val.ServiceActive == nil {
			return provisioerrors.NewValidationError(fieldForValidation(index, "unit"), "unit is required", nil)
		}
		return convertValidationError(v.Struct(val.ServiceActive))
	case "min_version":
		if val.MinVersion == nil {
			return provisioerrors.NewValidationError(fieldForValidation(index, "command"), "command and min_version are required", nil)
		}
		return convertValidationError(v.Struct(val.MinVersion))
	default:
		return provisioerrors.NewValidationError(fieldForValidation(index, "type"), fmt.Sprintf("unknown validation type %q", val.Type), nil)
	}
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return provisioerrors.NewValidationError(field, msg, err)
	}

	return provisioerrors.NewValidationError("plan", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	lowered := make([]string, 0, len(parts))
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForStep(index int, field string) string {
	return fmt.Sprintf("steps[%d].%s", index, field)
}

func fieldForValidation(index int, field string) string {
	return fmt.Sprintf("validations[%d].%s", index, field)
}
