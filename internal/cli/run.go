package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/harun/minicode/internal/config"
	"github.com/spf13/cobra"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run <prompt>...",
	Short: "Run one prompt to completion",
	Long: `Run one prompt through the agent loop and print the final answer.
Tool calls and subagent progress are printed as they happen unless --quiet is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "print only the final answer")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	opts := appOptions{Config: cfg}
	if !runQuiet {
		p := newPrinter(out, colorEnabled(out))
		opts.OnEvent = p.Event
		opts.OnSubagent = p.Subagent
	}

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := runPrompt(ctx, a, strings.Join(args, " "))
	if err != nil {
		return err
	}
	// without the printer the final text has not been shown yet
	if runQuiet {
		fmt.Fprintln(out, text)
	}
	return nil
}

// runPrompt runs one prompt in a fresh conversation
func runPrompt(ctx context.Context, a *app, prompt string) (string, error) {
	return newSession(a.loop).Send(ctx, strings.TrimSpace(prompt))
}

// loadConfig reads the config with the root flags applied
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).WithWorkspace(workspace).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func colorEnabled(w io.Writer) bool {
	return w == io.Writer(os.Stdout) && !color.NoColor
}
