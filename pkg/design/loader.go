package design

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/fault"
)

// LoadExperiment reads an experiment file. Template variables like
// {{date}} and {{param_name}} are interpolated using params (or the
// defaults declared in the file). Relative paths resolve against the
// file's directory.
func LoadExperiment(path string, params map[string]string) (Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Experiment{}, fmt.Errorf("read experiment %s: %w", path, err)
	}
	return ParseExperiment(data, params, filepath.Dir(path))
}

// ParseExperiment parses YAML data into an Experiment. The config block
// is layered over config_file, which is layered over config.Default.
func ParseExperiment(data []byte, params map[string]string, dir string) (Experiment, error) {
	// First pass: param defaults.
	var head struct {
		Params []ParamDef `yaml:"params"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Experiment{}, fmt.Errorf("%w: parse experiment: %w", fault.ErrConfig, err)
	}

	interpolated := []byte(interpolateVars(string(data), buildVarMap(head.Params, params)))

	// Second pass: locate the base config.
	var ref struct {
		ConfigFile string `yaml:"config_file"`
	}
	if err := yaml.Unmarshal(interpolated, &ref); err != nil {
		return Experiment{}, fmt.Errorf("%w: parse experiment: %w", fault.ErrConfig, err)
	}

	exp := Experiment{Dir: dir, Config: config.Default()}
	if ref.ConfigFile != "" {
		base, err := config.Load(exp.Path(ref.ConfigFile))
		if err != nil {
			return Experiment{}, fmt.Errorf("%w: %w", fault.ErrConfig, err)
		}
		exp.Config = base
	}

	// Final pass: the inline config block overrides the base.
	if err := yaml.Unmarshal(interpolated, &exp); err != nil {
		return Experiment{}, fmt.Errorf("%w: parse interpolated experiment: %w", fault.ErrConfig, err)
	}

	if exp.InstructionsFile != "" {
		text, err := os.ReadFile(exp.Path(exp.InstructionsFile))
		if err != nil {
			return Experiment{}, fmt.Errorf("%w: read instructions: %w", fault.ErrConfig, err)
		}
		exp.Instructions = strings.TrimRight(string(text), "\n")
	}

	return exp, nil
}

// buildVarMap creates a variable map from param defaults and runtime overrides.
// Built-in variables like {{date}} are always available.
func buildVarMap(paramDefs []ParamDef, overrides map[string]string) map[string]string {
	vars := make(map[string]string)

	now := time.Now()
	vars["date"] = now.Format("2006-01-02")
	vars["datetime"] = now.Format("2006-01-02T15:04:05")
	vars["year"] = now.Format("2006")
	vars["month"] = now.Format("01")
	vars["day"] = now.Format("02")

	for _, p := range paramDefs {
		if p.Default != nil {
			vars[p.Name] = fmt.Sprintf("%v", p.Default)
		}
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

// templatePattern matches {{var_name}} patterns.
var templatePattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

func interpolateVars(s string, vars map[string]string) string {
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(strings.TrimSuffix(match, "}}"), "{{")
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}
