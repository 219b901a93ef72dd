package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		properties  []string
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Validate a package definition",
		Long: `Validate a package definition and check its resolved states against the
install policies.

The definition is loaded and schema-checked, costing runs as in 'plan', and
every enabled policy is evaluated against the result. Blocking violations
make the command fail.`,
		Example: `  froyo-install validate widget.cue
  froyo-install validate widget.yaml --policy ./policies`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			overrides, err := parseProperties(properties)
			if err != nil {
				return err
			}

			def, err := definition.Load(args[0])
			if err != nil {
				var loadErr *definition.LoadError
				if errors.As(err, &loadErr) {
					for _, ve := range loadErr.Errors {
						fmt.Fprintf(out, "error: %s\n", ve)
					}
					return fmt.Errorf("%d definition errors", len(loadErr.Errors))
				}
				return err
			}

			plan, err := dryResolve(ctx, def, overrides, log.Logger)
			if err != nil {
				return err
			}

			pe, err := newPolicyEngine(ctx, policyPaths, log.Logger)
			if err != nil {
				return err
			}
			result, err := pe.Check(ctx, policy.NewInput(plan.pkg))
			if err != nil {
				return fmt.Errorf("policy check failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printPolicyResult(out, def, result)
			}

			if !result.Allowed {
				return fmt.Errorf("%d blocking policy violations", len(result.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "set a property (NAME=VALUE, repeatable)")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")

	return cmd
}

func printPolicyResult(out io.Writer, def *definition.Definition, result *policy.Result) {
	for _, v := range result.Violations {
		fmt.Fprintf(out, "%s: %s\n", v.Severity, formatViolation(v))
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "%s: %s\n", w.Severity, formatViolation(w))
	}
	if result.Allowed {
		fmt.Fprintf(out, "%s %s is valid (%d policies evaluated)\n",
			def.Product.Name, def.Product.Version, len(result.EvaluatedPolicies))
	}
}

func formatViolation(v policy.Violation) string {
	if v.Subject == "" {
		return fmt.Sprintf("[%s] %s", v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Policy, v.Subject, v.Message)
}
