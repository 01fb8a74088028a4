package historycmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chatstream/pkg/history"
)

const historyLongDesc string = `Show conversations recorded in a chatstream SQLite archive.

Without a session, lists every session with its number of turns and
latest prompt. With --session, prints that session's transcript.

Examples:
  chatstream history --db ~/.chatstream/history.db
  chatstream history --db history.db --session default
  chatstream history --db history.db --session work --last 5 --json`

const historyShortDesc string = "Show recorded conversations"

const defaultWidth = 80

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	hashStyle   = lipgloss.NewStyle().Faint(true)
)

type historyCommander struct {
	dbPath  string
	session string
	last    int
	json    bool
	plain   bool
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.dbPath, "db", "", "Path to the SQLite history archive")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Print the transcript of this session")
	cmd.Flags().IntVar(&cmder.last, "last", 0, "Only show the most recent turns (0 shows all)")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Write JSON instead of text")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Do not render markdown")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(c.dbPath); err != nil {
		return fmt.Errorf("could not open history archive %s: %w", c.dbPath, err)
	}

	store, err := history.NewSQLiteStore(c.dbPath)
	if err != nil {
		return fmt.Errorf("could not open history archive %s: %w", c.dbPath, err)
	}
	defer store.Close()

	if c.session == "" {
		return c.listSessions(ctx, cmd.OutOrStdout(), store)
	}
	return c.printTranscript(ctx, cmd.OutOrStdout(), store)
}

type sessionSummary struct {
	Session    string `json:"session"`
	Turns      int    `json:"turns"`
	LastPrompt string `json:"last_prompt"`
}

func (c *historyCommander) listSessions(ctx context.Context, out io.Writer, store history.Store) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("could not list sessions: %w", err)
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		turns, err := store.Turns(ctx, s, 0)
		if err != nil {
			return fmt.Errorf("could not list turns of %s: %w", s, err)
		}
		summary := sessionSummary{Session: s, Turns: len(turns)}
		if len(turns) > 0 {
			summary.LastPrompt = turns[len(turns)-1].Prompt
		}
		summaries = append(summaries, summary)
	}

	if c.json {
		return writeJSON(out, summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No recorded sessions.")
		return nil
	}

	width := terminalWidth(out)
	for _, s := range summaries {
		line := fmt.Sprintf("%s  %d turns  %s",
			headerStyle.Render(s.Session),
			s.Turns,
			strings.ReplaceAll(s.LastPrompt, "\n", " "),
		)
		fmt.Fprintln(out, ansi.Truncate(line, width, "..."))
	}

	return nil
}

func (c *historyCommander) printTranscript(ctx context.Context, out io.Writer, store history.Store) error {
	turns, err := store.Turns(ctx, c.session, c.last)
	if err != nil {
		return fmt.Errorf("could not list turns of %s: %w", c.session, err)
	}

	if c.json {
		if turns == nil {
			turns = []*history.Turn{}
		}
		return writeJSON(out, turns)
	}

	if len(turns) == 0 {
		fmt.Fprintf(out, "No turns recorded for session %s.\n", c.session)
		return nil
	}

	var renderer *glamour.TermRenderer
	if !c.plain && isTerminal(out) {
		renderer, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(terminalWidth(out)),
		)
		if err != nil {
			return fmt.Errorf("could not create markdown renderer: %w", err)
		}
	}

	for i, t := range turns {
		if i > 0 {
			fmt.Fprintln(out)
		}

		fmt.Fprintln(out, hashStyle.Render(fmt.Sprintf("%s  %s  %s",
			shortHash(t.Hash), t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Model)))

		text := t.Text
		if renderer != nil {
			if rendered, err := renderer.Render(text); err == nil {
				text = strings.TrimSpace(rendered)
			}
		}
		fmt.Fprintln(out, text)
	}

	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return defaultWidth
}
