package cmd

import (
	"fmt"

	"github.com/justakazh/ewe/internal/status"
	"github.com/justakazh/ewe/internal/types"
	"github.com/justakazh/ewe/internal/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow>",
	Short: "Validate a workflow file",
	Long: `Validate a workflow without running it.

Checks:
- JSON or YAML syntax
- Every task has a name and a command
- Sibling names are unique and contain no '/'

Warnings, such as wait_all on a root task, are printed but do not fail
validation.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var validateTree bool

func init() {
	validateCmd.Flags().BoolVar(&validateTree, "tree", false, "print the task tree")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	wf, warnings, err := workflow.LoadFile(args[0])
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w.Error())
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Workflow %q is valid (%d tasks)\n", wf.Name, types.Count(wf.Tasks).Total)
	if validateTree {
		fmt.Fprintln(out)
		fmt.Fprint(out, status.FormatTree(wf.Tasks, status.FormatOptions{NoColor: true}))
	}
	return nil
}
