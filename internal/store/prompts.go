package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/model"
)

// Prompt is a queued model turn.
type Prompt struct {
	ID         string         `json:"id" yaml:"id"`
	SessionID  string         `json:"session_id" yaml:"session_id"`
	Model      model.ModelRef `json:"model" yaml:"model"`
	Parts      []string       `json:"parts" yaml:"parts"`
	Status     string         `json:"status" yaml:"status"`
	EnqueuedAt time.Time      `json:"enqueued_at" yaml:"enqueued_at"`
}

// Execute implements bench.PromptExecutor by appending to the prompt queue.
// A runner outside this process drains the queue.
func (s *Store) Execute(ctx context.Context, req bench.PromptRequest) error {
	parts, err := json.Marshal(req.Parts)
	if err != nil {
		return fmt.Errorf("encoding prompt parts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO prompts
		(prompt_id, session_id, provider_id, model_id, parts, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), req.SessionID, req.Model.ProviderID, req.Model.ModelID, string(parts),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("enqueueing prompt for %s: %w", req.SessionID, err)
	}
	return nil
}

// Prompts returns the queued prompts for a session, oldest first.
func (s *Store) Prompts(ctx context.Context, sessionID string) ([]Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT prompt_id, session_id, provider_id, model_id, parts, status, enqueued_at
		FROM prompts WHERE session_id = ? ORDER BY enqueued_at, rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Prompt
	for rows.Next() {
		var (
			p          Prompt
			parts, enq string
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Model.ProviderID, &p.Model.ModelID, &parts, &p.Status, &enq); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &p.Parts); err != nil {
			return nil, fmt.Errorf("decoding prompt %s: %w", p.ID, err)
		}
		enqueuedAt, err := time.Parse(time.RFC3339Nano, enq)
		if err != nil {
			return nil, fmt.Errorf("decoding enqueued_at for prompt %s: %w", p.ID, err)
		}
		p.EnqueuedAt = enqueuedAt
		out = append(out, p)
	}
	return out, rows.Err()
}
