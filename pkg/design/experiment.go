package design

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cgast/vxcore/internal/config"
)

// Experiment is the parsed form of an experiment file. It names the
// factorial design, the experiment options and where results go.
type Experiment struct {
	APIVersion       string        `yaml:"apiVersion" json:"apiVersion"`
	Kind             string        `yaml:"kind" json:"kind"`
	Meta             Meta          `yaml:"meta" json:"meta"`
	Params           []ParamDef    `yaml:"params" json:"params,omitempty"`
	Design           Spec          `yaml:"design" json:"design"`
	Config           config.Config `yaml:"config" json:"config"`
	ConfigFile       string        `yaml:"config_file" json:"config_file,omitempty"`
	Instructions     string        `yaml:"instructions" json:"instructions,omitempty"`
	InstructionsFile string        `yaml:"instructions_file" json:"instructions_file,omitempty"`
	Output           OutputSpec    `yaml:"output" json:"output"`

	// Dir is the directory relative paths in the file resolve against.
	Dir string `yaml:"-" json:"-"`
}

// Meta contains descriptive metadata about the experiment.
type Meta struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Author      string   `yaml:"author" json:"author,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
}

// ParamDef defines a template variable usable as {{name}} in the file.
type ParamDef struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Default     any    `yaml:"default" json:"default"`
	Description string `yaml:"description" json:"description"`
}

// Spec describes how the trial list is generated. Exactly one of Factors
// and Table is set. A zero Repeat falls back to config.repetitions.
type Spec struct {
	Factors Factors  `yaml:"factors" json:"factors,omitempty"`
	Table   string   `yaml:"table" json:"table,omitempty"`
	Repeat  int      `yaml:"repeat" json:"repeat,omitempty"`
	Seed    *int64   `yaml:"seed" json:"seed,omitempty"`
	Exclude []string `yaml:"exclude" json:"exclude,omitempty"`
}

// OutputSpec says where and in which formats session data is written.
type OutputSpec struct {
	Dir      string   `yaml:"dir" json:"dir,omitempty"`
	Formats  []string `yaml:"formats" json:"formats,omitempty"`
	MySQLDSN string   `yaml:"mysql_dsn" json:"-"`
}

// Path resolves p against the experiment directory.
func (e Experiment) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || e.Dir == "" {
		return p
	}
	return filepath.Join(e.Dir, p)
}

// Repeat returns the effective repetition count.
func (e Experiment) Repeat() int {
	if e.Design.Repeat > 0 {
		return e.Design.Repeat
	}
	return e.Config.Repetitions
}

// Factors keeps declaration order. In YAML it is either a mapping
// (name: [levels...]) or a sequence of {name, levels}.
type Factors []Factor

func (f *Factors) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		out := make(Factors, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var levels []any
			if err := n.Content[i+1].Decode(&levels); err != nil {
				return fmt.Errorf("factor %q: %w", n.Content[i].Value, err)
			}
			out = append(out, Factor{Name: n.Content[i].Value, Levels: levels})
		}
		*f = out
		return nil
	case yaml.SequenceNode:
		var list []Factor
		if err := n.Decode(&list); err != nil {
			return err
		}
		*f = list
		return nil
	default:
		return fmt.Errorf("line %d: factors must be a mapping or a list", n.Line)
	}
}
