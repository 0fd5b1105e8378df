package main

import (
	"github.com/provisio/provisio/internal/plugin"
	commandplugin "github.com/provisio/provisio/internal/plugins/command"
	downloadplugin "github.com/provisio/provisio/internal/plugins/download"
	fileplugin "github.com/provisio/provisio/internal/plugins/file"
	kernelmoduleplugin "github.com/provisio/provisio/internal/plugins/kernelmodule"
	packageplugin "github.com/provisio/provisio/internal/plugins/package"
	repoplugin "github.com/provisio/provisio/internal/plugins/repo"
	serviceplugin "github.com/provisio/provisio/internal/plugins/service"
	sysctlplugin "github.com/provisio/provisio/internal/plugins/sysctl"
)

// newRegistry wires up every built-in step kind.
func newRegistry() (*plugin.Registry, error) {
	registry := plugin.NewRegistry()

	plugins := []plugin.Plugin{
		commandplugin.New(),
		packageplugin.New(),
		fileplugin.New(),
		serviceplugin.New(),
		downloadplugin.New(),
		sysctlplugin.New(),
		kernelmoduleplugin.New(),
		repoplugin.New(),
	}

	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
