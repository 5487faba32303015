package design

import (
	"fmt"
	"strings"

	"github.com/cgast/vxcore/pkg/fault"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult holds all validation errors for an experiment.
type ValidationResult struct {
	Errors []ValidationError
}

// Valid returns true if no validation errors were found.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Error returns a combined error message from all validation errors.
func (r ValidationResult) Error() string {
	if r.Valid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// Err returns the result as an ErrConfig error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s", fault.ErrConfig, r.Error())
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// validFormats lists the recognized output formats.
var validFormats = map[string]bool{
	"csv":    true,
	"json":   true,
	"sqlite": true,
	"mysql":  true,
}

// ValidateExperiment checks an Experiment for required fields and
// structural correctness. All problems are reported together.
func ValidateExperiment(exp Experiment) ValidationResult {
	var result ValidationResult

	if exp.APIVersion == "" {
		result.add("apiVersion", "required")
	} else if exp.APIVersion != "vx/v1" {
		result.add("apiVersion", "unsupported version %q (expected vx/v1)", exp.APIVersion)
	}

	if exp.Kind == "" {
		result.add("kind", "required")
	} else if exp.Kind != "Experiment" {
		result.add("kind", "unsupported kind %q (expected Experiment)", exp.Kind)
	}

	if exp.Meta.Name == "" {
		result.add("meta.name", "required")
	}

	validateDesign(exp, &result)

	for _, fe := range exp.Config.Validate() {
		result.add("config."+fe.Field, "%s", fe.Message)
	}

	for i, f := range exp.Output.Formats {
		if !validFormats[f] {
			result.add(fmt.Sprintf("output.formats[%d]", i), "unknown format %q", f)
		}
		if f == "mysql" && exp.Output.MySQLDSN == "" {
			result.add("output.mysql_dsn", "required when the mysql format is enabled")
		}
	}

	names := make(map[string]bool)
	for i, p := range exp.Params {
		field := fmt.Sprintf("params[%d].name", i)
		switch {
		case p.Name == "":
			result.add(field, "required")
		case names[p.Name]:
			result.add(field, "duplicate param name %q", p.Name)
		default:
			names[p.Name] = true
		}
	}

	return result
}

func validateDesign(exp Experiment, result *ValidationResult) {
	d := exp.Design

	switch {
	case len(d.Factors) == 0 && d.Table == "":
		result.add("design", "either factors or table is required")
	case len(d.Factors) > 0 && d.Table != "":
		result.add("design", "factors and table are mutually exclusive")
	}

	seen := make(map[string]bool)
	for i, f := range d.Factors {
		field := fmt.Sprintf("design.factors[%d]", i)
		if f.Name == "" {
			result.add(field+".name", "required")
			continue
		}
		if seen[f.Name] {
			result.add(field+".name", "duplicate factor %q", f.Name)
		}
		seen[f.Name] = true
		if len(f.Levels) == 0 {
			result.add(field+".levels", "at least one level required")
		} else if err := checkLevels(f); err != nil {
			result.add(field+".levels", "%s", strings.TrimPrefix(err.Error(), fault.ErrConfig.Error()+": "))
		}
	}

	if d.Repeat < 0 {
		result.add("design.repeat", "must be >= 0")
	} else if exp.Repeat() < 1 {
		result.add("config.repetitions", "must be >= 1 when design.repeat is unset")
	}

	for i, rule := range d.Exclude {
		if _, err := CompileRule(rule); err != nil {
			result.add(fmt.Sprintf("design.exclude[%d]", i), "%v", err)
		}
	}
}
