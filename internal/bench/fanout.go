package bench

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/cbench/internal/model"
)

// PromptRequest is one model turn to enqueue.
type PromptRequest struct {
	SessionID string
	Model     model.ModelRef
	Parts     []string
}

// PromptExecutor enqueues a model turn. It does not wait for the response.
type PromptExecutor interface {
	Execute(ctx context.Context, req PromptRequest) error
}

// FanoutResult is the enqueue outcome for one child, in slot order.
type FanoutResult struct {
	SessionID string
	Model     model.ModelRef
	Err       error
}

// Fanout sends parts to every child of a running benchmark in parallel.
// limiter, when non-nil, throttles enqueue calls. A failed enqueue is
// recorded on the child's Error and does not stop the others.
func (o *Orchestrator) Fanout(ctx context.Context, sessionID string, parts []string, exec PromptExecutor, limiter *rate.Limiter) ([]FanoutResult, error) {
	const op = "fanout"
	parentID, err := o.parentID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	parent, err := o.sessions.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	bp := parent.Benchmark
	switch {
	case bp == nil:
		return nil, stateErr(op, parentID, ErrNoBenchmark)
	case !bp.Enabled:
		return nil, stateErr(op, parentID, ErrNotEnabled)
	case len(bp.Children) == 0:
		return nil, stateErr(op, parentID, ErrNoChildren)
	}

	results := make([]FanoutResult, len(bp.Children))
	var g errgroup.Group
	for i, ref := range bp.Children {
		g.Go(func() error {
			results[i] = FanoutResult{SessionID: ref.SessionID, Model: ref.Model}
			err := o.enqueue(ctx, ref, parts, exec, limiter)
			if err == nil {
				return nil
			}
			results[i].Err = err
			o.logger.Warn("benchmark prompt failed",
				slog.String("child", ref.SessionID),
				slog.String("model", ref.Model.String()),
				slog.String("error", err.Error()))
			if _, uerr := o.sessions.Update(ctx, ref.SessionID, func(s *model.Session) error {
				if s.BenchmarkChild != nil {
					s.BenchmarkChild.Error = err.Error()
				}
				return nil
			}); uerr != nil {
				o.logger.Warn("recording child error failed",
					slog.String("child", ref.SessionID),
					slog.String("error", uerr.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, ref model.BenchmarkChildRef, parts []string, exec PromptExecutor, limiter *rate.Limiter) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	return exec.Execute(ctx, PromptRequest{
		SessionID: ref.SessionID,
		Model:     ref.Model,
		Parts:     parts,
	})
}
