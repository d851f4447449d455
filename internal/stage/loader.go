package stage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition binds one stage kind to an external command in executors.yaml
type Definition struct {
	Kind    string            `yaml:"kind"`
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
}

type definitionsFile struct {
	Executors []Definition `yaml:"executors"`
}

// LoadDefinitions reads executor definitions from a YAML file. A missing
// file is not an error; the orchestrator falls back to no-op executors.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, def := range file.Executors {
		if def.Kind == "" {
			return nil, fmt.Errorf("%s: executor %d has no kind", path, i)
		}
		if def.Command == "" {
			return nil, fmt.Errorf("%s: executor %q has no command", path, def.Kind)
		}
	}
	return file.Executors, nil
}

// RegisterCommands compiles definitions into command executors and binds
// them in the registry
func RegisterCommands(reg *Registry, defs []Definition) error {
	for _, def := range defs {
		ex, err := NewCommandExecutor(Kind(def.Kind), def.Command, def.Env, def.Dir)
		if err != nil {
			return err
		}
		reg.Register(Kind(def.Kind), ex)
	}
	return nil
}
