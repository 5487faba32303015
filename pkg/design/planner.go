package design

import (
	"fmt"
)

// Plan is the concrete, randomized trial list generated from an
// Experiment, suitable for review before a session starts.
type Plan struct {
	Experiment string    `json:"experiment"`
	Source     string    `json:"source"` // "factorial" or the table path
	Repeat     int       `json:"repeat"`
	Seed       int64     `json:"seed"`
	Excluded   int       `json:"excluded"`
	Trials     TrialList `json:"trials"`
}

// BuildTrials validates exp and produces its randomized trial list. A
// non-nil seed overrides design.seed.
func BuildTrials(exp Experiment, seed *int64) (Plan, error) {
	if err := ValidateExperiment(exp).Err(); err != nil {
		return Plan{}, fmt.Errorf("invalid experiment: %w", err)
	}

	repeat := exp.Repeat()
	plan := Plan{Experiment: exp.Meta.Name, Repeat: repeat}

	var (
		list TrialList
		err  error
	)
	if exp.Design.Table != "" {
		plan.Source = exp.Design.Table
		list, err = LoadCSV(exp.Path(exp.Design.Table), repeat)
	} else {
		plan.Source = "factorial"
		list, err = FullFactorial(exp.Design.Factors, repeat)
	}
	if err != nil {
		return Plan{}, err
	}

	before := list.Len()
	if list, err = Filter(list, exp.Design.Exclude); err != nil {
		return Plan{}, err
	}
	plan.Excluded = before - list.Len()

	if seed == nil {
		seed = exp.Design.Seed
	}
	plan.Trials, plan.Seed = Randomize(list, seed)
	return plan, nil
}
