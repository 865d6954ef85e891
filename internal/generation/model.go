package generation

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	StatusPending   = "pending"
	StatusCharged   = "charged"
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
	StatusFailed    = "failed" // never charged (e.g. insufficient credits)
)

// A generation never re-enters pending once charged; a retry is a new
// generation with a new id.
var validStatusTransitions = map[string][]string{
	StatusPending: {StatusCharged, StatusFailed},
	StatusCharged: {StatusCompleted, StatusRefunded},
}

func canTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range validStatusTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Generation is one unit of paid plan-generation work. The ledger owns
// the money; this row owns the lifecycle and the produced plan.
type Generation struct {
	ID            string         `db:"id" json:"id"`
	OwnerID       int            `db:"owner_id" json:"owner_id"`
	CostCredits   int64          `db:"cost_credits" json:"cost_credits"`
	Status        string         `db:"status" json:"status"`
	Questionnaire types.JSONText `db:"questionnaire" json:"questionnaire"`
	Plan          *string        `db:"plan" json:"plan,omitempty"`
	FailureReason *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	ChargedAt     *time.Time     `db:"charged_at" json:"charged_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// PlanRequest is the business questionnaire a marketing plan is
// generated from.
type PlanRequest struct {
	BusinessName   string `json:"business_name" binding:"required"`
	Industry       string `json:"industry" binding:"required"`
	TargetAudience string `json:"target_audience" binding:"required"`
	MonthlyBudget  string `json:"monthly_budget"`
	Goals          string `json:"goals" binding:"required"`
	Channels       string `json:"channels"`
	Competitors    string `json:"competitors"`
}
