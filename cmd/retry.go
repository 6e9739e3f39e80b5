package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/retry"

	"github.com/spf13/cobra"
)

var (
	flagRetryStatus    int
	flagRetryHeaders   []string
	flagRetryBody      string
	flagRetryMessage   string
	flagRetryRetryable bool
	flagRetryAttempts  int
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Inspect the retry policy",
}

var retryExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the retry decision for a described provider failure",
	Example: `  cbench retry explain --status 429 --header retry-after=30
  cbench retry explain --status 400 --body '{"error":{"code":"rate_limit_exceeded"}}' --attempts 4`,
	Args: cobra.NoArgs,
	RunE: runRetryExplain,
}

func init() {
	f := retryExplainCmd.Flags()
	f.IntVar(&flagRetryStatus, "status", 0, "HTTP status code")
	f.StringArrayVar(&flagRetryHeaders, "header", nil, "Response header as name=value (repeatable)")
	f.StringVar(&flagRetryBody, "body", "", "Response body")
	f.StringVar(&flagRetryMessage, "message", "", "Error message")
	f.BoolVar(&flagRetryRetryable, "retryable", false, "Provider marked the error retryable")
	f.IntVar(&flagRetryAttempts, "attempts", 1, "Show decisions for attempts 1..N")

	retryCmd.AddCommand(retryExplainCmd)
	rootCmd.AddCommand(retryCmd)
}

type retryStep struct {
	Attempt     int    `json:"attempt" yaml:"attempt"`
	ShouldRetry bool   `json:"should_retry" yaml:"should_retry"`
	DelayMs     int64  `json:"delay_ms" yaml:"delay_ms"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func runRetryExplain(_ *cobra.Command, _ []string) error {
	rc := retry.Context{
		StatusCode: flagRetryStatus,
		Body:       flagRetryBody,
		Message:    flagRetryMessage,
		Retryable:  flagRetryRetryable,
	}
	if len(flagRetryHeaders) > 0 {
		rc.Headers = make(map[string]string, len(flagRetryHeaders))
		for _, h := range flagRetryHeaders {
			name, value, ok := strings.Cut(h, "=")
			if !ok {
				return fmt.Errorf("invalid header %q (expected name=value)", h)
			}
			rc.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}
	}

	policy := retryPolicy()
	attempts := flagRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	steps := make([]retryStep, 0, attempts)
	var b strings.Builder
	b.WriteString("\n")
	for i := 1; i <= attempts; i++ {
		d := policy.Decide(i, rc)
		steps = append(steps, retryStep{
			Attempt:     i,
			ShouldRetry: d.ShouldRetry,
			DelayMs:     d.Delay.Milliseconds(),
			Reason:      d.Reason,
		})
		if !d.ShouldRetry {
			fmt.Fprintf(&b, "  attempt %d: not retryable\n", i)
			break
		}
		fmt.Fprintf(&b, "  attempt %d: retry in %s (%s)\n", i, d.Delay.Round(time.Millisecond), d.Reason)
	}

	return printResult(steps, b.String())
}

func retryPolicy() *retry.Policy {
	return &retry.Policy{
		InitialDelay:  time.Duration(appCfg.Retry.InitialDelayMs) * time.Millisecond,
		BackoffFactor: appCfg.Retry.BackoffFactor,
		MaxDelay:      time.Duration(appCfg.Retry.MaxDelayMs) * time.Millisecond,
	}
}
