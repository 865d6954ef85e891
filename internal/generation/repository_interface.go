package generation

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Repository interface {
	Create(ctx context.Context, id string, ownerID int, costCredits int64, questionnaire types.JSONText) (*Generation, error)
	MarkCharged(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, plan string) error
	MarkRefunded(ctx context.Context, id string, reason string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	ListByOwner(ctx context.Context, ownerID int, limit, offset int) ([]Generation, error)
	ListStuckCharged(ctx context.Context, chargedBefore time.Time) ([]Generation, error)
	ListStuckPending(ctx context.Context, createdBefore time.Time) ([]Generation, error)
}
