package design

import (
	"errors"
	"strings"
	"testing"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/fault"
)

func validExperiment() Experiment {
	return Experiment{
		APIVersion: "vx/v1",
		Kind:       "Experiment",
		Meta:       Meta{Name: "reach"},
		Design:     Spec{Factors: Factors(reachFactors())},
		Config:     config.Default(),
	}
}

func TestValidateExperimentValid(t *testing.T) {
	vr := ValidateExperiment(validExperiment())
	if !vr.Valid() {
		t.Errorf("expected valid, got: %s", vr.Error())
	}
	if vr.Err() != nil {
		t.Errorf("Err() = %v, want nil", vr.Err())
	}
}

func TestValidateExperimentErrors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Experiment)
		field string
	}{
		{"missing apiVersion", func(e *Experiment) { e.APIVersion = "" }, "apiVersion"},
		{"wrong apiVersion", func(e *Experiment) { e.APIVersion = "vx/v2" }, "apiVersion"},
		{"wrong kind", func(e *Experiment) { e.Kind = "Survey" }, "kind"},
		{"missing name", func(e *Experiment) { e.Meta.Name = "" }, "meta.name"},
		{"no design", func(e *Experiment) { e.Design.Factors = nil }, "design"},
		{"factors and table", func(e *Experiment) { e.Design.Table = "trials.csv" }, "design"},
		{"duplicate factor", func(e *Experiment) {
			e.Design.Factors = append(e.Design.Factors, Factor{Name: "pro", Levels: []any{2}})
		}, "design.factors[3].name"},
		{"empty levels", func(e *Experiment) { e.Design.Factors[0].Levels = nil }, "design.factors[0].levels"},
		{"no repetitions", func(e *Experiment) { e.Config.Repetitions = 0 }, "config.repetitions"},
		{"bad exclude", func(e *Experiment) { e.Design.Exclude = []string{"pro ==="} }, "design.exclude[0]"},
		{"bad config", func(e *Experiment) { e.Config.TarDist = 0 }, "config.tar_dist"},
		{"unknown format", func(e *Experiment) { e.Output.Formats = []string{"xlsx"} }, "output.formats[0]"},
		{"mysql without dsn", func(e *Experiment) { e.Output.Formats = []string{"mysql"} }, "output.mysql_dsn"},
		{"duplicate param", func(e *Experiment) {
			e.Params = []ParamDef{{Name: "a"}, {Name: "a"}}
		}, "params[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := validExperiment()
			tt.edit(&exp)
			vr := ValidateExperiment(exp)
			if vr.Valid() {
				t.Fatal("expected invalid")
			}
			found := false
			for _, e := range vr.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %q, got: %s", tt.field, vr.Error())
			}
			if !errors.Is(vr.Err(), fault.ErrConfig) {
				t.Errorf("Err() = %v, want ErrConfig", vr.Err())
			}
		})
	}
}

func TestValidateExperimentAggregates(t *testing.T) {
	vr := ValidateExperiment(Experiment{})
	if len(vr.Errors) < 4 {
		t.Errorf("expected several errors, got %d: %s", len(vr.Errors), vr.Error())
	}
	if !strings.HasPrefix(vr.Error(), "validation failed: ") {
		t.Errorf("Error() = %q", vr.Error())
	}
}

func TestValidateDesignRepeatOverridesConfig(t *testing.T) {
	exp := validExperiment()
	exp.Config.Repetitions = 0
	exp.Design.Repeat = 2
	if vr := ValidateExperiment(exp); !vr.Valid() {
		t.Errorf("design.repeat should satisfy repetitions: %s", vr.Error())
	}
}
