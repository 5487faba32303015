package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cgast/vxcore/internal/console"
	"github.com/cgast/vxcore/pkg/export"
	"github.com/cgast/vxcore/pkg/store"
)

// openJournal opens the journal at path, creating its directory.
func openJournal(path string) (*store.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return j, nil
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			j, err := openJournal(settings.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			list, err := j.Sessions()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Fprint(out, console.Sessions(list))
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <session-id>",
		Short: "Export the journaled trials of a session",
		Long: `recover rebuilds a session record from the journal and exports it.

Use it for sessions that were aborted before their data was saved, or to
export a finished session again in another format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			j, err := openJournal(settings.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			rec, err := j.Record(args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %q is not in the journal at %s", args[0], settings.Journal.Path)
			}
			if err != nil {
				return err
			}

			dir, _ := cmd.Flags().GetString("out")
			if dir == "" {
				dir = settings.Output.Dir
			}
			formats, _ := cmd.Flags().GetStringSlice("format")
			dsn, _ := cmd.Flags().GetString("mysql-dsn")

			sink, err := export.Open(export.Options{Dir: dir, Formats: formats, MySQLDSN: dsn, Logger: logger})
			if err != nil {
				return err
			}
			defer sink.Close()

			if err := sink.Save(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d trial(s) of session %s (%s) to %s\n",
				len(rec.Results), rec.Meta.ID, rec.Meta.Status, dir)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output directory (default from settings)")
	cmd.Flags().StringSlice("format", nil, "Output formats (csv, json, sqlite, mysql)")
	cmd.Flags().String("mysql-dsn", "", "MySQL DSN for the mysql format")
	return cmd
}
