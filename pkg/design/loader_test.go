package design

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cgast/vxcore/pkg/fault"
)

const reachExperiment = `
apiVersion: vx/v1
kind: Experiment
meta:
  name: "pro-anti-reach"
  author: "lab"
  description: "{{reps}} blocks"
params:
  - name: reps
    type: integer
    default: 3
design:
  factors:
    target: [left, right]
    pro: [0, 1]
    feedback: [0, 1]
  repeat: 3
  seed: 11
config:
  fix_delay: 0.5
  use_eyetracker: true
instructions: |
  Reach towards blue targets.
output:
  dir: "data/{{date}}"
  formats: [csv, json]
`

func TestLoadExperiment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reach.vx.yaml")
	if err := os.WriteFile(path, []byte(reachExperiment), 0644); err != nil {
		t.Fatal(err)
	}

	exp, err := LoadExperiment(path, nil)
	if err != nil {
		t.Fatalf("LoadExperiment: %v", err)
	}

	if exp.Meta.Name != "pro-anti-reach" {
		t.Errorf("Meta.Name = %q", exp.Meta.Name)
	}
	if exp.Dir != dir {
		t.Errorf("Dir = %q, want %q", exp.Dir, dir)
	}
	if exp.Meta.Description != "3 blocks" {
		t.Errorf("Meta.Description = %q, want param default interpolated", exp.Meta.Description)
	}
	if exp.Design.Seed == nil || *exp.Design.Seed != 11 {
		t.Errorf("Design.Seed = %v, want 11", exp.Design.Seed)
	}

	var names []string
	for _, f := range exp.Design.Factors {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "target,pro,feedback" {
		t.Errorf("factor order = %v, want declaration order", names)
	}

	if exp.Config.FixDelay != 0.5 || !exp.Config.UseEyetracker {
		t.Errorf("config block not applied: %+v", exp.Config)
	}
	if exp.Config.GoDelay != 1 {
		t.Errorf("GoDelay = %v, want default 1", exp.Config.GoDelay)
	}

	today := time.Now().Format("2006-01-02")
	if exp.Output.Dir != "data/"+today {
		t.Errorf("Output.Dir = %q, want data/%s", exp.Output.Dir, today)
	}
	if !strings.HasPrefix(exp.Instructions, "Reach towards") {
		t.Errorf("Instructions = %q", exp.Instructions)
	}
}

func TestParseExperimentOverrides(t *testing.T) {
	exp, err := ParseExperiment([]byte(reachExperiment), map[string]string{"reps": "5"}, "")
	if err != nil {
		t.Fatalf("ParseExperiment: %v", err)
	}
	if exp.Meta.Description != "5 blocks" {
		t.Errorf("Meta.Description = %q, want %q", exp.Meta.Description, "5 blocks")
	}
}

func TestParseExperimentFactorList(t *testing.T) {
	data := `
apiVersion: vx/v1
kind: Experiment
meta: {name: list}
design:
  factors:
    - name: pro
      levels: [1, 0]
    - name: target
      levels: [right, left]
`
	exp, err := ParseExperiment([]byte(data), nil, "")
	if err != nil {
		t.Fatalf("ParseExperiment: %v", err)
	}
	if len(exp.Design.Factors) != 2 || exp.Design.Factors[0].Name != "pro" {
		t.Fatalf("Factors = %+v", exp.Design.Factors)
	}
	if exp.Design.Factors[1].Levels[0] != "right" {
		t.Errorf("level order not preserved: %v", exp.Design.Factors[1].Levels)
	}
}

func TestParseExperimentConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lab.toml"), []byte("go_delay = 2.0\nfix_delay = 3.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "intro.txt"), []byte("Welcome!\n"), 0644); err != nil {
		t.Fatal(err)
	}

	data := `
apiVersion: vx/v1
kind: Experiment
meta: {name: layered}
design:
  factors: {target: [left, right], pro: [0, 1]}
config_file: lab.toml
config:
  fix_delay: 0.75
instructions_file: intro.txt
`
	exp, err := ParseExperiment([]byte(data), nil, dir)
	if err != nil {
		t.Fatalf("ParseExperiment: %v", err)
	}
	if exp.Config.GoDelay != 2.0 {
		t.Errorf("GoDelay = %v, want 2.0 from config_file", exp.Config.GoDelay)
	}
	if exp.Config.FixDelay != 0.75 {
		t.Errorf("FixDelay = %v, want inline 0.75", exp.Config.FixDelay)
	}
	if exp.Instructions != "Welcome!" {
		t.Errorf("Instructions = %q", exp.Instructions)
	}
}

func TestParseExperimentErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "design: [unclosed"},
		{"missing config file", "config_file: nope.yaml\n"},
		{"missing instructions", "instructions_file: nope.txt\n"},
		{"scalar factors", "design:\n  factors: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseExperiment([]byte(tt.data), nil, t.TempDir())
			if !errors.Is(err, fault.ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestInterpolateVars(t *testing.T) {
	vars := map[string]string{"name": "reach", "n": "4"}
	tests := []struct {
		input string
		want  string
	}{
		{"{{name}}", "reach"},
		{"run-{{name}}-{{n}}", "run-reach-4"},
		{"{{unknown}}", "{{unknown}}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := interpolateVars(tt.input, vars); got != tt.want {
			t.Errorf("interpolateVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
