package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/roach88/depflow/internal/ir"
)

// ErrNoDeclarations is returned when a source holds no dependency list.
var ErrNoDeclarations = errors.New("no dependencies found")

// config is the backend config shape: the dependency list lives under
// "dependencies" next to other keys this package ignores.
type config struct {
	Dependencies []ir.Declaration `json:"dependencies" yaml:"dependencies"`
}

// Load reads declarations from path. Directories and .cue files go
// through CUE; .json and .yaml/.yml files are decoded directly.
func Load(path string) ([]ir.Declaration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadCUE(path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUE(path)
	case ".json":
		return LoadJSON(path)
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("load %s: unsupported file type", path)
	}
}

// LoadJSON reads declarations from a JSON file.
func LoadJSON(path string) ([]ir.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	decls, err := ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// ParseJSON accepts either a bare declaration array or a config object
// with a "dependencies" key.
func ParseJSON(data []byte) ([]ir.Declaration, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrNoDeclarations
	}

	if trimmed[0] == '[' {
		var decls []ir.Declaration
		if err := json.Unmarshal(trimmed, &decls); err != nil {
			return nil, fmt.Errorf("parse declarations: %w", err)
		}
		return decls, nil
	}

	var cfg config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Dependencies == nil {
		return nil, ErrNoDeclarations
	}
	return cfg.Dependencies, nil
}

// LoadYAML reads declarations from a YAML file with the same shapes
// ParseJSON accepts.
func LoadYAML(path string) ([]ir.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%s: parse yaml: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDeclarations)
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var decls []ir.Declaration
		if err := node.Content[0].Decode(&decls); err != nil {
			return nil, fmt.Errorf("%s: parse declarations: %w", path, err)
		}
		return decls, nil
	}

	var cfg config
	if err := node.Content[0].Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: parse config: %w", path, err)
	}
	if cfg.Dependencies == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDeclarations)
	}
	return cfg.Dependencies, nil
}

// LoadCUE reads declarations from a .cue file or a directory holding one
// CUE package.
func LoadCUE(path string) ([]ir.Declaration, error) {
	ctx := cuecontext.New()

	var value cue.Value
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no CUE files found in %s", path)
		}

		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("load %s: no CUE instances loaded", path)
		}
		inst := instances[0]
		if inst.Err != nil {
			return nil, fmt.Errorf("load %s: %w", path, inst.Err)
		}
		value = ctx.BuildInstance(inst)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		value = ctx.CompileBytes(data, cue.Filename(path))
	}

	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	decls, err := CompileDeclarations(value)
	if err != nil {
		return nil, err
	}
	if decls == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDeclarations)
	}
	return decls, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
