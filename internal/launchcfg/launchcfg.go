// Package launchcfg loads launch grids: HCL files describing the set of
// executables a driver process should spawn. Used by the mpxrun command.
package launchcfg

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Config is a fully decoded launch grid.
type Config struct {
	// UniverseSize caps the total process slots; zero means the runtime
	// default.
	UniverseSize int
	Tasks        []Task
}

// Task describes one executable of the grid.
type Task struct {
	Command  string
	MaxProcs int
	Argv     []string
	Wdir     string
	Info     map[string]string
}

// hclConfig is the decode target for the top level of a grid file.
type hclConfig struct {
	UniverseSize *int       `hcl:"universe_size,optional"`
	Tasks        []*hclTask `hcl:"task,block"`
}

type hclTask struct {
	Command  string            `hcl:"command,label"`
	MaxProcs int               `hcl:"maxprocs"`
	Argv     []string          `hcl:"argv,optional"`
	Wdir     string            `hcl:"wdir,optional"`
	Info     map[string]string `hcl:"info,optional"`
}

// Load reads and decodes a grid file.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("launchcfg: parse %s: %w", path, diags)
	}
	return decode(file, path)
}

// Parse decodes grid source held in memory. filename is used in
// diagnostics only.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("launchcfg: parse %s: %w", filename, diags)
	}
	return decode(file, filename)
}

func decode(file *hcl.File, name string) (*Config, error) {
	var parsed hclConfig
	diags := gohcl.DecodeBody(file.Body, evalContext(), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("launchcfg: decode %s: %w", name, diags)
	}
	cfg := &Config{}
	if parsed.UniverseSize != nil {
		if *parsed.UniverseSize < 1 {
			return nil, fmt.Errorf("launchcfg: %s: universe_size must be positive, got %d", name, *parsed.UniverseSize)
		}
		cfg.UniverseSize = *parsed.UniverseSize
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("launchcfg: %s: a grid needs at least one task block", name)
	}
	for _, t := range parsed.Tasks {
		if t.Command == "" {
			return nil, fmt.Errorf("launchcfg: %s: task with empty command label", name)
		}
		if t.MaxProcs < 1 {
			return nil, fmt.Errorf("launchcfg: %s: task %q: maxprocs must be positive, got %d", name, t.Command, t.MaxProcs)
		}
		cfg.Tasks = append(cfg.Tasks, Task{
			Command:  t.Command,
			MaxProcs: t.MaxProcs,
			Argv:     t.Argv,
			Wdir:     t.Wdir,
			Info:     t.Info,
		})
	}
	return cfg, nil
}

// evalContext exposes the process environment to grid expressions as the
// `env` object, e.g. argv = [env.HOME].
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}
