package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session. The conversation is kept across turns.
Type exit or quit to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	p := newPrinter(out, colorEnabled(out))
	a, err := newApp(ctx, appOptions{Config: cfg, OnEvent: p.Event, OnSubagent: p.Subagent})
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner(out, a)
	return chatLoop(ctx, newSession(a.loop), cmd.InOrStdin(), out, p)
}

// chatLoop reads one turn per line until exit, EOF or cancellation.
// A failed turn is reported and the loop continues. An interrupt while a
// turn runs cancels only that turn.
func chatLoop(ctx context.Context, s *session, in io.Reader, out io.Writer, p *printer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nExiting...")
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Exiting...")
			return nil
		}

		turnCtx, stopTurn := signal.NotifyContext(ctx, os.Interrupt)
		_, err := s.Send(turnCtx, line)
		stopTurn()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Error(err)
		}
		fmt.Fprintln(out)
	}
}

func printBanner(out io.Writer, a *app) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "minicode %s\n", version)
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "Model: %s\n", a.cfg.Provider.Model)
	fmt.Fprintf(out, "Workdir: %s\n", a.cfg.WorkspacePath)

	names := a.skills.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "Skills: none (create skills/ folder with SKILL.md files)")
	} else {
		fmt.Fprintf(out, "Skills: %d skills loaded\n", len(names))
		for _, name := range names {
			fmt.Fprintf(out, "  - %s\n", name)
		}
	}
	for _, b := range a.bridges {
		fmt.Fprintf(out, "Bridge: %s (%s)\n", b.Name(), b.State())
	}
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out)
}
