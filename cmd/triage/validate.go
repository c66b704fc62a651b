package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/bugtriage/internal/assessment"
	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/definition"
)

func validateCmd(configPath *string) *cobra.Command {
	var canonical bool

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Check workflow schema files",
		Long: `validate parses and checks every schema file under the given files or
directories. Without arguments it checks the configured definition
directories. Warnings are printed but only errors fail the command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if len(targets) == 0 {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				targets = cfg.Definitions.Directories
			}

			docs, failed, err := validateTargets(cmd.OutOrStdout(), targets)
			if err != nil {
				return err
			}
			if canonical {
				doc, err := assessment.CanonicalDocument()
				if err != nil {
					return err
				}
				docs++
				if !reportDocument(cmd.OutOrStdout(), doc) {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d schema files invalid", failed, docs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d schema files valid\n", docs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "also check the built-in bug_assessment schema")
	return cmd
}

// validateTargets checks every schema file under targets and returns how
// many were seen and how many failed.
func validateTargets(out io.Writer, targets []string) (int, int, error) {
	var files []string
	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return 0, 0, err
		}
		if !info.IsDir() {
			files = append(files, target)
			continue
		}
		found, err := definition.SchemaFiles([]string{target})
		if err != nil {
			return 0, 0, err
		}
		files = append(files, found...)
	}

	loader := definition.NewLoader()
	failed := 0
	for _, path := range files {
		doc, err := loader.LoadFile(path)
		if err != nil {
			fmt.Fprintf(out, "invalid %s\n  error   %v\n", path, err)
			failed++
			continue
		}
		if !reportDocument(out, doc) {
			failed++
		}
	}
	return len(files), failed, nil
}

func reportDocument(out io.Writer, doc definition.Document) bool {
	report := definition.Validate(doc.Schema)
	if report.Valid() {
		fmt.Fprintf(out, "ok      %s (%s)\n", doc.SourceFile, doc.Schema.Name)
	} else {
		fmt.Fprintf(out, "invalid %s (%s)\n", doc.SourceFile, doc.Schema.Name)
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "  error   %s [%s] %s\n", e.Path, e.Code, e.Message)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(out, "  warning %s [%s] %s\n", w.Path, w.Code, w.Message)
	}
	return report.Valid()
}
