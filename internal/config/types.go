package config

import (
	"gopkg.in/yaml.v3"
)

// Plan represents a full provisioning plan document.
type Plan struct {
	Version     string       `yaml:"version" validate:"required,semver"`
	Name        string       `yaml:"name" validate:"required,min=1,max=100"`
	Description string       `yaml:"description,omitempty"`
	Settings    Settings     `yaml:"settings,omitempty"`
	Steps       []Step       `yaml:"steps" validate:"required,min=1,dive"`
	Validations []Validation `yaml:"validations,omitempty" validate:"omitempty,dive"`
}

// Settings holds global execution parameters.
//
// Parallel defaults to 1: package databases and the service manager are
// not safe to mutate concurrently, so steps run sequentially unless the
// plan author raises the limit for disjoint workloads.
type Settings struct {
	Parallel        int  `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=32"`
	Timeout         int  `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=86400"`
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	DryRun          bool `yaml:"dry_run,omitempty"`
	Verbose         bool `yaml:"verbose,omitempty"`
}

// Step describes an individual unit of work in the DAG.
type Step struct {
	ID              string   `yaml:"id" validate:"required,step_id"`
	Name            string   `yaml:"name,omitempty"`
	Type            string   `yaml:"type" validate:"required,oneof=command package file service download sysctl kernel_module repo"`
	DependsOn       []string `yaml:"depends_on,omitempty"`
	Enabled         bool     `yaml:"enabled,omitempty"`
	ContinueOnError bool     `yaml:"continue_on_error,omitempty"`
	Timeout         int      `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=86400"`

	Command      *CommandStep      `yaml:",inline,omitempty"`
	Package      *PackageStep      `yaml:",inline,omitempty"`
	File         *FileStep         `yaml:",inline,omitempty"`
	Service      *ServiceStep      `yaml:",inline,omitempty"`
	Download     *DownloadStep     `yaml:",inline,omitempty"`
	Sysctl       *SysctlStep       `yaml:",inline,omitempty"`
	KernelModule *KernelModuleStep `yaml:",inline,omitempty"`
	Repo         *RepoStep         `yaml:",inline,omitempty"`
}

// UnmarshalYAML customises step decoding to populate the kind-specific
// structure matching the declared type.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type baseStep struct {
		ID              string   `yaml:"id"`
		Name            string   `yaml:"name"`
		Type            string   `yaml:"type"`
		DependsOn       []string `yaml:"depends_on"`
		Enabled         *bool    `yaml:"enabled"`
		ContinueOnError bool     `yaml:"continue_on_error"`
		Timeout         int      `yaml:"timeout"`
	}

	var base baseStep
	if err := value.Decode(&base); err != nil {
		return err
	}

	s.ID = base.ID
	s.Name = base.Name
	s.Type = base.Type
	s.DependsOn = append([]string(nil), base.DependsOn...)
	s.ContinueOnError = base.ContinueOnError
	s.Timeout = base.Timeout
	if base.Enabled != nil {
		s.Enabled = *base.Enabled
	} else {
		s.Enabled = true
	}

	s.Command = nil
	s.Package = nil
	s.File = nil
	s.Service = nil
	s.Download = nil
	s.Sysctl = nil
	s.KernelModule = nil
	s.Repo = nil

	switch base.Type {
	case "command":
		var cmd CommandStep
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		s.Command = &cmd
	case "package":
		var pkg PackageStep
		if err := value.Decode(&pkg); err != nil {
			return err
		}
		s.Package = &pkg
	case "file":
		var file FileStep
		if err := value.Decode(&file); err != nil {
			return err
		}
		s.File = &file
	case "service":
		var svc ServiceStep
		if err := value.Decode(&svc); err != nil {
			return err
		}
		s.Service = &svc
	case "download":
		var dl DownloadStep
		if err := value.Decode(&dl); err != nil {
			return err
		}
		s.Download = &dl
	case "sysctl":
		var sc SysctlStep
		if err := value.Decode(&sc); err != nil {
			return err
		}
		s.Sysctl = &sc
	case "kernel_module":
		var km KernelModuleStep
		if err := value.Decode(&km); err != nil {
			return err
		}
		s.KernelModule = &km
	case "repo":
		var repo RepoStep
		if err := value.Decode(&repo); err != nil {
			return err
		}
		s.Repo = &repo
	}

	return nil
}

// CommandStep executes an arbitrary shell command. Check is the
// idempotency predicate: exit 0 means the desired state already holds.
type CommandStep struct {
	Command string            `yaml:"command" validate:"required,min=1"`
	Check   string            `yaml:"check,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// PackageStep installs one or more system packages. Entries may pin a
// version using the manager's name=version syntax.
type PackageStep struct {
	Packages []string `yaml:"packages" validate:"required,min=1,dive,min=1,max=120"`
	Manager  string   `yaml:"manager,omitempty" validate:"omitempty,oneof=apt"`
	Update   bool     `yaml:"update,omitempty"`
}

// FileStep writes a file with the given content or copies it from a
// local source path.
type FileStep struct {
	Destination string `yaml:"destination" validate:"required"`
	Content     string `yaml:"content,omitempty"`
	Source      string `yaml:"source,omitempty"`
	Mode        string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
}

// ServiceStep drives a systemd unit to a desired activation state.
type ServiceStep struct {
	Unit         string `yaml:"unit" validate:"required"`
	State        string `yaml:"state,omitempty" validate:"omitempty,oneof=started stopped restarted reloaded"`
	Enabled      *bool  `yaml:"service_enabled,omitempty"`
	DaemonReload bool   `yaml:"daemon_reload,omitempty"`
}

// DownloadStep fetches a URL to a local path, verified by checksum.
type DownloadStep struct {
	URL         string `yaml:"url" validate:"required,url"`
	Destination string `yaml:"destination" validate:"required"`
	SHA256      string `yaml:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Mode        string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
}

// SysctlStep sets kernel parameters and persists them to a sysctl.d file.
type SysctlStep struct {
	Keys        map[string]string `yaml:"keys" validate:"required,min=1"`
	PersistPath string            `yaml:"persist_path,omitempty"`
}

// KernelModuleStep loads kernel modules and persists them to a
// modules-load.d file.
type KernelModuleStep struct {
	Modules     []string `yaml:"modules" validate:"required,min=1,dive,min=1"`
	PersistPath string   `yaml:"persist_path,omitempty"`
}

// RepoStep clones a git repository.
type RepoStep struct {
	URL         string `yaml:"url" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	Branch      string `yaml:"branch,omitempty"`
	Depth       int    `yaml:"depth,omitempty" validate:"omitempty,min=0"`
}

// Validation represents a post-execution validation.
type Validation struct {
	Type string `yaml:"type" validate:"required,oneof=command_exists file_exists path_contains service_active min_version"`

	CommandExists *CommandExistsValidation `yaml:",inline,omitempty"`
	FileExists    *FileExistsValidation    `yaml:",inline,omitempty"`
	PathContains  *PathContainsValidation  `yaml:",inline,omitempty"`
	ServiceActive *ServiceActiveValidation `yaml:",inline,omitempty"`
	MinVersion    *MinVersionValidation    `yaml:",inline,omitempty"`
}

// CommandExistsValidation ensures a command exists on PATH.
type CommandExistsValidation struct {
	Command string `yaml:"command" validate:"required"`
}

// FileExistsValidation ensures a file or directory exists.
type FileExistsValidation struct {
	Path string `yaml:"path" validate:"required"`
}

// PathContainsValidation ensures a file contains specific text.
type PathContainsValidation struct {
	File string `yaml:"file" validate:"required"`
	Text string `yaml:"text" validate:"required"`
}

// ServiceActiveValidation ensures a systemd unit reports active.
type ServiceActiveValidation struct {
	Unit string `yaml:"unit" validate:"required"`
}

// MinVersionValidation runs a version command and requires the first
// semver in its output to be at least the given version.
type MinVersionValidation struct {
	Command string `yaml:"command" validate:"required"`
	Version string `yaml:"min_version" validate:"required,semver"`
}

// StepMap builds a lookup table for steps by ID.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}

// UnmarshalYAML populates the type-specific validation structure.
func (v *Validation) UnmarshalYAML(value *yaml.Node) error {
	type baseValidation struct {
		Type string `yaml:"type"`
	}

	var base baseValidation
	if err := value.Decode(&base); err != nil {
		return err
	}

	v.Type = base.Type
	v.CommandExists = nil
	v.FileExists = nil
	v.PathContains = nil
	v.ServiceActive = nil
	v.MinVersion = nil

	switch base.Type {
	case "command_exists":
		var ce CommandExistsValidation
		if err := value.Decode(&ce); err != nil {
			return err
		}
		v.CommandExists = &ce
	case "file_exists":
		var fe FileExistsValidation
		if err := value.Decode(&fe); err != nil {
			return err
		}
		v.FileExists = &fe
	case "path_contains":
		var pc PathContainsValidation
		if err := value.Decode(&pc); err != nil {
			return err
		}
		v.PathContains = &pc
	case "service_active":
		var sa ServiceActiveValidation
		if err := value.Decode(&sa); err != nil {
			return err
		}
		v.ServiceActive = &sa
	case "min_version":
		var mv MinVersionValidation
		if err := value.Decode(&mv); err != nil {
			return err
		}
		v.MinVersion = &mv
	}

	return nil
}
