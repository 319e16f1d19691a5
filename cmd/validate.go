// Package cmd provides command-line interface commands for Argus.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"argus/core"
	"argus/policy"
	"argus/storage"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

// NewValidateCmd builds the `validate` command: it loads a policy bundle
// directory into throwaway in-memory storage and reports what passed
// validation, without touching the real database.
func NewValidateCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate <bundle-dir>",
		Short: "Validate policy, response plan and escalation rule bundles",
		Long: "Validate parses every YAML bundle in the directory, checks rule kinds,\n" +
			"action specs and required fields, and reports per-file results. Nothing\n" +
			"is written to the database.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Clean(args[0])
			if strings.Contains(dir, "..") {
				return fmt.Errorf("bundle directory must not contain '..'")
			}

			mem := storage.NewMemory()
			loader := policy.NewLoader(mem, mem, mem, core.SystemClock{}, zap.NewNop().Sugar())

			loaded, err := loader.LoadDir(dir)
			if err != nil {
				errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
				return fmt.Errorf("validation failed")
			}

			if !quiet {
				policies, _ := mem.GetActivePolicies()
				plans, _ := mem.GetActivePlans()
				rules, _ := mem.GetActiveEscalationRules()
				infoColor.Printf("policies: %d  plans: %d  escalation rules: %d\n",
					len(policies), len(plans), len(rules))
			}
			successColor.Printf("✓ %d entities validated\n", loaded)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the final result")
	return cmd
}
