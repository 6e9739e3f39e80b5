package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/cli"
	"github.com/theirongolddev/cbench/internal/model"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	flagAllowDirty      bool
	flagAllowDuplicates bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run one session against several models and adopt a winner",
}

var benchStartCmd = &cobra.Command{
	Use:   "start <session-id> <provider/model>...",
	Short: "Start a benchmark with one child session per model",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runBenchStart,
}

var benchStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop fanning prompts out to the children",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchStop,
}

var benchNextCmd = &cobra.Command{
	Use:   "next <session-id>",
	Short: "Print the next child session id (wraps around)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(_ *cobra.Command, args []string) error { return runBenchCycle(args[0], 1) },
}

var benchPrevCmd = &cobra.Command{
	Use:   "prev <session-id>",
	Short: "Print the previous child session id (wraps around)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(_ *cobra.Command, args []string) error { return runBenchCycle(args[0], -1) },
}

var benchApplyCmd = &cobra.Command{
	Use:   "apply <child-session-id>",
	Short: "Apply a child's changes to the working tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchApply,
}

var benchUndoCmd = &cobra.Command{
	Use:   "undo <session-id>",
	Short: "Revert the applied child's changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchUndo,
}

var benchStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a benchmark's children and applied state",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchStatus,
}

var benchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every benchmark",
	Args:  cobra.NoArgs,
	RunE:  runBenchList,
}

var benchDiffCmd = &cobra.Command{
	Use:   "diff <child-session-id>",
	Short: "Print a child's changes as a patch",
	Args:  cobra.ExactArgs(1),
	RunE:  runBenchDiff,
}

var benchFanoutCmd = &cobra.Command{
	Use:   "fanout <session-id> <prompt>...",
	Short: "Queue a prompt on every child of a running benchmark",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runBenchFanout,
}

func init() {
	benchStartCmd.Flags().BoolVar(&flagAllowDuplicates, "allow-duplicates", false, "Allow the same model in more than one slot")
	for _, c := range []*cobra.Command{benchApplyCmd, benchUndoCmd} {
		c.Flags().BoolVar(&flagAllowDirty, "allow-dirty", false, "Proceed even if the working tree has uncommitted changes")
	}

	benchCmd.AddCommand(
		benchStartCmd, benchStopCmd, benchNextCmd, benchPrevCmd,
		benchApplyCmd, benchUndoCmd, benchStatusCmd, benchListCmd,
		benchDiffCmd, benchFanoutCmd,
	)
	rootCmd.AddCommand(benchCmd)
}

func runBenchStart(_ *cobra.Command, args []string) error {
	models := make([]model.ModelRef, 0, len(args)-1)
	for _, a := range args[1:] {
		m, err := model.ParseModelRef(a)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	if _, err := env.orch.Start(ctx, args[0], models, flagAllowDuplicates || appCfg.Bench.AllowDuplicates); err != nil {
		return err
	}
	return printStatus(ctx, env, args[0])
}

func runBenchStop(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.orch.Stop(context.Background(), args[0]); err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Benchmark stopped\n")
	}
	return nil
}

func runBenchCycle(sessionID string, step int) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	var id string
	if step > 0 {
		id, err = env.orch.Next(ctx, sessionID)
	} else {
		id, err = env.orch.Prev(ctx, sessionID)
	}
	if err != nil {
		return err
	}
	return printResult(map[string]string{"session_id": id}, id+"\n")
}

func runBenchApply(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	err = withDirtyConfirm("Apply anyway?", func(allowDirty bool) error {
		return env.orch.Apply(ctx, args[0], allowDirty)
	})
	if err != nil {
		return err
	}

	if !flagQuiet {
		if child, err := env.store.Get(ctx, args[0]); err == nil && child.BenchmarkChild != nil {
			if stats, err := env.git.Stats(ctx, child.BenchmarkChild.SnapshotRef); err == nil {
				fmt.Fprintf(os.Stderr, "  Applied %s (%s)\n", child.BenchmarkChild.Model, stats)
			}
		}
	}
	return nil
}

func runBenchUndo(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	err = withDirtyConfirm("Revert anyway?", func(allowDirty bool) error {
		return env.orch.Undo(context.Background(), args[0], allowDirty)
	})
	if err != nil {
		return err
	}
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  Reverted applied changes\n")
	}
	return nil
}

// withDirtyConfirm runs fn, and on a dirty or conflicting working tree asks
// once on an interactive terminal before retrying with allowDirty set.
func withDirtyConfirm(prompt string, fn func(allowDirty bool) error) error {
	err := fn(flagAllowDirty)
	if flagAllowDirty || !isTTY(os.Stdin) {
		return err
	}

	var title string
	switch {
	case errors.Is(err, bench.ErrWorkingTreeDirty):
		title = "Working tree has uncommitted changes"
	case errors.Is(err, bench.ErrConflict):
		title = "Patch conflicts with the working tree"
		prompt += " Conflicting hunks are left with markers."
	default:
		return err
	}

	var proceed bool
	confirm := huh.NewConfirm().
		Title(title).
		Description(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&proceed)
	if ferr := huh.NewForm(huh.NewGroup(confirm)).Run(); ferr != nil || !proceed {
		return err
	}
	return fn(true)
}

func runBenchStatus(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	return printStatus(context.Background(), env, args[0])
}

func printStatus(ctx context.Context, env *benchEnv, sessionID string) error {
	st, err := env.orch.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	return printResult(st, renderBenchStatus(st))
}

func renderBenchStatus(st bench.Status) string {
	rows := make([][]string, 0, len(st.Children))
	for _, c := range st.Children {
		state := ""
		switch {
		case c.Error != "":
			state = cli.RenderStatus("error") + " " + c.Error
		case c.Applied:
			state = cli.RenderStatus("applied")
		case !c.HasSnapshot:
			state = "no snapshot"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", c.Slot+1),
			c.Model.String(),
			c.SessionID,
			state,
		})
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(cli.RenderTitle(fmt.Sprintf("BENCHMARK  %s  %s", truncate(st.Title, 24), strings.ToUpper(st.State))))
	b.WriteString("\n\n")
	b.WriteString(cli.RenderTable(cli.Table{
		Headers: []string{"#", "Model", "Session", "State"},
		Rows:    rows,
	}))
	if st.TreeDirty {
		b.WriteString(cli.RenderStatus("warning") + " working tree has uncommitted changes\n")
	}
	return b.String()
}

// benchStatuses lists every top-level session that carries a benchmark.
func benchStatuses(ctx context.Context, env *benchEnv) ([]bench.Status, error) {
	sessions, err := env.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []bench.Status
	for _, s := range sessions {
		if s.Benchmark == nil {
			continue
		}
		st, err := env.orch.Status(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func runBenchList(_ *cobra.Command, _ []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	list, err := benchStatuses(context.Background(), env)
	if err != nil {
		return err
	}
	if flagOutput != "text" {
		return printResult(list, "")
	}
	if len(list) == 0 {
		fmt.Println("\n  No benchmarks.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, st := range list {
		applied := ""
		for _, c := range st.Children {
			if c.Applied {
				applied = c.Model.String()
			}
		}
		rows = append(rows, []string{
			st.ParentID,
			truncate(st.Title, 24),
			cli.RenderStatus(st.State),
			fmt.Sprintf("%d", len(st.Children)),
			applied,
		})
	}
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "BENCHMARKS",
		Headers: []string{"Session", "Title", "State", "Models", "Applied"},
		Rows:    rows,
	}))
	return nil
}

func runBenchDiff(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	child, err := env.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if child.BenchmarkChild == nil {
		return fmt.Errorf("%s: %w", args[0], bench.ErrNotChild)
	}
	if child.BenchmarkChild.SnapshotRef == "" {
		return fmt.Errorf("%s: %w", args[0], bench.ErrSnapshotUnavailable)
	}

	patch, err := env.git.Diff(ctx, child.BenchmarkChild.SnapshotRef)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(patch); err != nil {
		return err
	}
	if !flagQuiet {
		if stats, err := env.git.Stats(ctx, child.BenchmarkChild.SnapshotRef); err == nil {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", child.BenchmarkChild.Model, stats)
		}
	}
	return nil
}

func runBenchFanout(_ *cobra.Command, args []string) error {
	env, err := openBench()
	if err != nil {
		return err
	}
	defer env.Close()

	var limiter *rate.Limiter
	if r := appCfg.Bench.RatePerSecond; r > 0 {
		burst := appCfg.Bench.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(r), burst)
	}

	results, err := env.orch.Fanout(context.Background(), args[0], []string{strings.Join(args[1:], " ")}, env.store, limiter)
	if err != nil {
		return err
	}

	type row struct {
		SessionID string         `json:"session_id" yaml:"session_id"`
		Model     model.ModelRef `json:"model" yaml:"model"`
		Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	}
	out := make([]row, 0, len(results))
	var b strings.Builder
	failed := 0
	for _, r := range results {
		rr := row{SessionID: r.SessionID, Model: r.Model}
		status := cli.RenderStatus("pending")
		if r.Err != nil {
			rr.Error = r.Err.Error()
			status = cli.RenderStatus("error") + " " + rr.Error
			failed++
		}
		out = append(out, rr)
		fmt.Fprintf(&b, "  %-36s %s\n", r.Model, status)
	}
	if err := printResult(out, b.String()); err != nil {
		return err
	}
	if failed == len(results) && failed > 0 {
		return fmt.Errorf("fanout: all %d children failed", failed)
	}
	return nil
}
