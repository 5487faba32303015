package main

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed templates/*.yaml
var templates embed.FS

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold an experiment file from a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list, _ := cmd.Flags().GetBool("list"); list {
				return listTemplates(out)
			}
			name, _ := cmd.Flags().GetString("template")
			output, _ := cmd.Flags().GetString("output")
			return scaffoldFromTemplate(out, name, output)
		},
	}
	cmd.Flags().String("template", "reach", "Template name")
	cmd.Flags().StringP("output", "o", "experiment.vx.yaml", "Path of the new experiment file")
	cmd.Flags().Bool("list", false, "List available templates")
	return cmd
}

// findTemplates returns the embedded template names.
func findTemplates() ([]string, error) {
	entries, err := fs.ReadDir(templates, "templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func listTemplates(w io.Writer) error {
	names, err := findTemplates()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Available templates:")
	for _, n := range names {
		fmt.Fprintf(w, "  - %s\n", n)
	}
	return nil
}

// scaffoldFromTemplate writes a template to outputPath. Existing files
// are never overwritten.
func scaffoldFromTemplate(w io.Writer, name, outputPath string) error {
	data, err := templates.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		names, _ := findTemplates()
		return fmt.Errorf("template %q not found (available: %s)", name, strings.Join(names, ", "))
	}

	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("file %q already exists (use --output to specify a different path)", outputPath)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("write experiment: %w", err)
	}

	fmt.Fprintf(w, "Created %s from template %q\n", outputPath, name)
	fmt.Fprintln(w, "Edit the file to set up your experiment, then run:")
	fmt.Fprintf(w, "  vx plan %s\n", outputPath)
	fmt.Fprintf(w, "  vx run %s\n", outputPath)
	return nil
}
