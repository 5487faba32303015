package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vx",
		Short: "Run pro/anti reach experiments in VR",
		Long: `vx runs factorial reach experiments against a VR runtime.

It generates randomized trial lists from an experiment file, drives the
participant through calibration and trials, journals every trial as it
completes and exports the session when it ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("settings", filepath.Join(".vx", "settings.yaml"), "Runtime settings file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newValidateCmd(),
		newPlanCmd(),
		newRunCmd(),
		// Journal commands
		newSessionsCmd(),
		newRecoverCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vx version %s\n", version)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

// loadSettings reads the file named by --settings. A --log-level flag
// wins over the file and the environment. The logger writes to the
// command's stderr so stdout stays free for the runtime link.
func loadSettings(cmd *cobra.Command) (config.Settings, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("settings")
	settings, err := config.LoadSettings(path)
	if err != nil {
		return settings, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		settings.LogLevel = lvl
	}
	return settings, logging.NewLogger(settings.LogLevel, cmd.ErrOrStderr()), nil
}

// parseParams turns repeated k=v flags into experiment parameters.
func parseParams(kvs []string) (map[string]string, error) {
	params := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q (want name=value)", kv)
		}
		params[k] = v
	}
	return params, nil
}

// seedFlag returns the --seed value when it was given.
func seedFlag(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("seed") {
		return nil
	}
	seed, _ := cmd.Flags().GetInt64("seed")
	return &seed
}
