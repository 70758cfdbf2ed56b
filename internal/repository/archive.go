package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/set-night/dermassist/internal/domain"
)

// ConsultationArchive keeps a write-only record of consultations in Postgres.
// Nothing here is read back into the session store.
type ConsultationArchive struct {
	pool *pgxpool.Pool
}

func NewConsultationArchive(pool *pgxpool.Pool) *ConsultationArchive {
	return &ConsultationArchive{pool: pool}
}

const insertConsultation = `
INSERT INTO consultations (
	id, detail_level, image_mime, image_bytes, initial_analysis,
	prompt_tokens, completion_tokens, cost, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET initial_analysis = EXCLUDED.initial_analysis`

func (a *ConsultationArchive) RecordAnalysis(ctx context.Context, sess *domain.Session) error {
	_, err := a.pool.Exec(ctx, insertConsultation,
		string(sess.ID),
		sess.DetailLevel,
		sess.Image.MIME,
		sess.Image.Size,
		sess.InitialAnalysis,
		sess.Usage.PromptTokens,
		sess.Usage.CompletionTokens,
		sess.Usage.Cost,
		sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

// RecordTurn stores one follow-up exchange and rolls its usage into the consultation totals.
func (a *ConsultationArchive) RecordTurn(ctx context.Context, id domain.SessionID, index int, turn domain.Turn) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO consultation_turns (
			consultation_id, turn_index, user_message, bot_answer, final,
			prompt_tokens, completion_tokens, cost, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(id), index, turn.UserMessage, turn.BotAnswer, turn.Final,
		turn.Usage.PromptTokens, turn.Usage.CompletionTokens, turn.Usage.Cost, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE consultations
		SET prompt_tokens = prompt_tokens + $2,
		    completion_tokens = completion_tokens + $3,
		    cost = cost + $4
		WHERE id = $1`,
		string(id), turn.Usage.PromptTokens, turn.Usage.CompletionTokens, turn.Usage.Cost,
	)
	if err != nil {
		return fmt.Errorf("update consultation usage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (a *ConsultationArchive) RecordClosed(ctx context.Context, id domain.SessionID, at time.Time) error {
	_, err := a.pool.Exec(ctx, `UPDATE consultations SET closed_at = $2 WHERE id = $1`, string(id), at)
	if err != nil {
		return fmt.Errorf("close consultation: %w", err)
	}
	return nil
}
