package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cgast/vxcore/internal/console"
	"github.com/cgast/vxcore/pkg/design"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <experiment.yaml>",
		Short: "Check an experiment file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			vr := design.ValidateExperiment(exp)
			if vr.Valid() {
				fmt.Fprintf(out, "Experiment %q is valid.\n", exp.Meta.Name)
				return nil
			}

			fmt.Fprintf(out, "Experiment %q has %d error(s):\n", filepath.Base(args[0]), len(vr.Errors))
			for _, e := range vr.Errors {
				fmt.Fprintf(out, "  - %s: %s\n", e.Field, e.Message)
			}
			return fmt.Errorf("validation failed")
		},
	}
	cmd.Flags().StringArray("param", nil, "Experiment parameter as name=value (repeatable)")
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <experiment.yaml>",
		Short: "Print the randomized trial list",
		Long: `plan generates the trial list a run would use and prints it.

Pass the same --seed to run to reproduce the order shown here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd, args[0])
			if err != nil {
				return err
			}
			plan, err := design.BuildTrials(exp, seedFlag(cmd))
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			fmt.Fprint(cmd.OutOrStdout(), console.Plan(plan))
			return nil
		},
	}
	cmd.Flags().StringArray("param", nil, "Experiment parameter as name=value (repeatable)")
	cmd.Flags().Int64("seed", 0, "Randomization seed (overrides design.seed)")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func loadExperiment(cmd *cobra.Command, path string) (design.Experiment, error) {
	kvs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(kvs)
	if err != nil {
		return design.Experiment{}, err
	}
	exp, err := design.LoadExperiment(path, params)
	if err != nil {
		return design.Experiment{}, fmt.Errorf("load experiment: %w", err)
	}
	return exp, nil
}
