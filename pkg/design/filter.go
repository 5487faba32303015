package design

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/cgast/vxcore/pkg/fault"
)

// CompileRule compiles a boolean exclusion rule over factor names,
// e.g. `pro == 0 && feedback == 0`.
func CompileRule(rule string) (*vm.Program, error) {
	prog, err := expr.Compile(rule, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: exclusion rule %q: %v", fault.ErrConfig, rule, err)
	}
	return prog, nil
}

// Filter removes every trial for which any rule evaluates to true. Order
// of the remaining trials is preserved.
func Filter(list TrialList, rules []string) (TrialList, error) {
	if len(rules) == 0 {
		return list, nil
	}

	progs := make([]*vm.Program, len(rules))
	for i, r := range rules {
		p, err := CompileRule(r)
		if err != nil {
			return TrialList{}, err
		}
		progs[i] = p
	}

	kept := make([]TrialSpec, 0, len(list.Trials))
	for _, t := range list.Trials {
		env := t.Params()
		excluded := false
		for i, p := range progs {
			out, err := expr.Run(p, env)
			if err != nil {
				return TrialList{}, fmt.Errorf("%w: exclusion rule %q: %v", fault.ErrConfig, rules[i], err)
			}
			if b, _ := out.(bool); b {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		return TrialList{}, fmt.Errorf("%w: exclusion rules remove every trial", fault.ErrConfig)
	}
	return TrialList{Factors: list.Factors, Trials: kept}, nil
}
