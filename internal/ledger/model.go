package ledger

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	LotStatusActive   = "active"
	LotStatusExpired  = "expired"
	LotStatusRefunded = "refunded"
)

const (
	TxTypePurchaseGrant    = "purchase_grant"
	TxTypeGenerationCharge = "generation_charge"
	TxTypeRefund           = "refund"
	TxTypeManualAdjustment = "manual_adjustment"
)

// CreditLot is one purchased or granted batch of credits. A lot counts
// toward the balance iff status is active and expires_at has not passed.
// credits_remaining is written only by the ledger repository.
type CreditLot struct {
	ID               int       `db:"id" json:"id"`
	OwnerID          int       `db:"owner_id" json:"owner_id"`
	CreditsGranted   int64     `db:"credits_granted" json:"credits_granted"`
	CreditsRemaining int64     `db:"credits_remaining" json:"credits_remaining"`
	AmountPaidCents  int64     `db:"amount_paid_cents" json:"amount_paid_cents"`
	Currency         string    `db:"currency" json:"currency"`
	ExternalRef      *string   `db:"external_ref" json:"external_ref,omitempty"`
	Status           string    `db:"status" json:"status"`
	PurchasedAt      time.Time `db:"purchased_at" json:"purchased_at"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// CreditTransaction is an append-only ledger row. Rows are never updated
// or deleted; corrections happen through refund rows. BalanceBefore and
// BalanceAfter snapshot the owner's total credits_remaining across all
// lots, so replaying amounts in insertion order reconstructs lot state.
type CreditTransaction struct {
	ID            int            `db:"id" json:"id"`
	OwnerID       int            `db:"owner_id" json:"owner_id"`
	LotID         int            `db:"lot_id" json:"lot_id"`
	GenerationID  *string        `db:"generation_id" json:"generation_id,omitempty"`
	Amount        int64          `db:"amount" json:"amount"` // negative = deduction, positive = grant/refund
	Type          string         `db:"type" json:"type"`
	BalanceBefore int64          `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64          `db:"balance_after" json:"balance_after"`
	Description   string         `db:"description" json:"description"`
	Metadata      types.JSONText `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

type LotBalance struct {
	LotID            int       `db:"id" json:"lot_id"`
	CreditsRemaining int64     `db:"credits_remaining" json:"credits_remaining"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
}

// BalanceSnapshot is what the balance endpoint returns. Lots are sorted
// soonest-expiring first, the same order the deduction walk consumes them.
type BalanceSnapshot struct {
	TotalCredits  int64        `json:"total_credits"`
	Lots          []LotBalance `json:"lots"`
	SoonestExpiry *time.Time   `json:"soonest_expiry,omitempty"`
}

// PurchaseConfirmation is the payload delivered by the payment webhook
// after signature verification. ExternalRef is the provider's reference
// and keys idempotent lot creation.
type PurchaseConfirmation struct {
	OwnerID         int    `json:"owner_id" validate:"gt=0"`
	AmountPaidCents int64  `json:"amount_paid_cents" validate:"gte=0"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	CreditsGranted  int64  `json:"credits_granted" validate:"gt=0"`
	ExternalRef     string `json:"external_reference" validate:"required"`
	ExpiresInMonths int    `json:"expires_in_months" validate:"gte=0"`
}
