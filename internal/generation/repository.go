package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

var ErrNotFound = errors.New("generation not found")

// ErrInvalidTransition means the row was not in the status the caller
// expected; the guarded UPDATE matched nothing.
var ErrInvalidTransition = errors.New("invalid generation status transition")

const generationColumns = `id, owner_id, cost_credits, status, questionnaire, plan, failure_reason, charged_at, created_at, updated_at`

const (
	queryInsertGeneration = `INSERT INTO generations (id, owner_id, cost_credits, status, questionnaire)
		 VALUES ($1, $2, $3, 'pending', $4)
		 RETURNING ` + generationColumns

	queryMarkCharged = `UPDATE generations SET status = 'charged', charged_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'pending'`

	queryMarkCompleted = `UPDATE generations SET status = 'completed', plan = $2, updated_at = NOW() WHERE id = $1 AND status = 'charged'`

	queryMarkRefunded = `UPDATE generations SET status = 'refunded', failure_reason = $2, updated_at = NOW() WHERE id = $1 AND status = 'charged'`

	queryMarkFailed = `UPDATE generations SET status = 'failed', failure_reason = $2, updated_at = NOW() WHERE id = $1 AND status = 'pending'`

	queryGenerationByID = `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`

	queryGenerationsByOwner = `SELECT ` + generationColumns + `
		 FROM generations
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`

	queryStuckCharged = `SELECT ` + generationColumns + `
		 FROM generations
		 WHERE status = 'charged' AND charged_at < $1
		 ORDER BY charged_at ASC`

	queryStuckPending = `SELECT ` + generationColumns + `
		 FROM generations
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at ASC`
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, id string, ownerID int, costCredits int64, questionnaire types.JSONText) (*Generation, error) {
	gen := &Generation{}
	err := r.db.QueryRowxContext(ctx, queryInsertGeneration, id, ownerID, costCredits, questionnaire).StructScan(gen)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// The status UPDATEs are guarded by the expected current status, so a
// lost race shows up as zero rows affected instead of a silent
// overwrite. Each Mark declares its (from, to) pair, checked against
// the transition table so the queries and the table cannot drift apart.
func (r *repository) transition(ctx context.Context, query, id, from, to string, args ...interface{}) error {
	if !canTransitionTo(from, to) {
		return fmt.Errorf("%w: generation %s: %s -> %s", ErrInvalidTransition, id, from, to)
	}
	res, err := r.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: generation %s", ErrInvalidTransition, id)
	}
	return nil
}

func (r *repository) MarkCharged(ctx context.Context, id string) error {
	return r.transition(ctx, queryMarkCharged, id, StatusPending, StatusCharged)
}

func (r *repository) MarkCompleted(ctx context.Context, id string, plan string) error {
	return r.transition(ctx, queryMarkCompleted, id, StatusCharged, StatusCompleted, plan)
}

func (r *repository) MarkRefunded(ctx context.Context, id string, reason string) error {
	return r.transition(ctx, queryMarkRefunded, id, StatusCharged, StatusRefunded, reason)
}

func (r *repository) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.transition(ctx, queryMarkFailed, id, StatusPending, StatusFailed, reason)
}

func (r *repository) GetByID(ctx context.Context, id string) (*Generation, error) {
	gen := &Generation{}
	err := r.db.GetContext(ctx, gen, queryGenerationByID, id)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID int, limit, offset int) ([]Generation, error) {
	if limit <= 0 {
		limit = 20
	}

	var gens []Generation
	err := r.db.SelectContext(ctx, &gens, queryGenerationsByOwner, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return gens, nil
}

func (r *repository) ListStuckCharged(ctx context.Context, chargedBefore time.Time) ([]Generation, error) {
	var gens []Generation
	err := r.db.SelectContext(ctx, &gens, queryStuckCharged, chargedBefore)
	if err != nil {
		return nil, err
	}
	return gens, nil
}

// ListStuckPending returns generations abandoned before reaching charged.
// A crash between the deduction commit and the charged mark leaves the
// row pending while its charge rows already exist.
func (r *repository) ListStuckPending(ctx context.Context, createdBefore time.Time) ([]Generation, error) {
	var gens []Generation
	err := r.db.SelectContext(ctx, &gens, queryStuckPending, createdBefore)
	if err != nil {
		return nil, err
	}
	return gens, nil
}
