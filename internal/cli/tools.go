package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/minicode/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var toolsRole string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a role can see",
	Long: `List the tools visible to a role, in the order the model receives them.
No model API key is needed.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsRole, "role", string(toolexecutor.RoleMain), "role to list tools for (main, explore, code, plan)")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	role, err := toolexecutor.ParseRole(toolsRole)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), appOptions{Config: cfg, Offline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	printTools(cmd.OutOrStdout(), a.registry.View(role))
	return nil
}

func printTools(out io.Writer, view *toolexecutor.View) {
	fmt.Fprintf(out, "Tools for role %s:\n", view.Role())
	for _, spec := range view.Specs() {
		summary, _, _ := strings.Cut(strings.TrimSpace(spec.Description), "\n")
		fmt.Fprintf(out, "  %-14s %-10s %s\n", spec.Name, spec.Category, summary)
	}
}
