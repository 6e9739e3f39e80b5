package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/theirongolddev/cbench/internal/cli"
	"github.com/theirongolddev/cbench/internal/model"

	"github.com/spf13/cobra"
)

var (
	flagSessionTitle string
	flagSessionLimit int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session rooted at --dir",
	Args:  cobra.NoArgs,
	RunE:  runSessionNew,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List top-level sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its benchmark children",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	sessionNewCmd.Flags().StringVarP(&flagSessionTitle, "title", "t", "", "Session title")
	sessionListCmd.Flags().IntVarP(&flagSessionLimit, "limit", "l", 20, "Number of sessions to show")

	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionNew(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	title := flagSessionTitle
	if title == "" {
		title = "session"
	}
	sess, err := st.Create(context.Background(), model.Session{Title: title, Directory: flagDir})
	if err != nil {
		return err
	}
	return printResult(sess, sess.ID+"\n")
}

func runSessionList(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.List(context.Background())
	if err != nil {
		return err
	}
	if flagSessionLimit > 0 && len(sessions) > flagSessionLimit {
		sessions = sessions[:flagSessionLimit]
	}
	if flagOutput != "text" {
		return printResult(sessions, "")
	}
	if len(sessions) == 0 {
		fmt.Println("\n  No sessions found. Create one with `cbench session new`.")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		state := ""
		if s.Benchmark != nil {
			state = "stopped"
			if s.Benchmark.Enabled {
				state = "running"
			}
			state = fmt.Sprintf("%s (%d)", cli.RenderStatus(state), len(s.Benchmark.Children))
		}
		rows = append(rows, []string{
			s.ID,
			truncate(s.Title, 24),
			s.CreatedAt.Local().Format("Jan 02 15:04"),
			state,
		})
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("SESSIONS  (showing %d)", len(sessions))))
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"ID", "Title", "Created", "Benchmark"},
		Rows:    rows,
	}))
	return nil
}

func runSessionDelete(_ *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Deleted %s\n", args[0])
	}
	return nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen-1]) + "…"
}
