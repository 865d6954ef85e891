package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// Synthetic lots created by a manual adjustment have no payment behind
// them; give them a year before the expiry sweep picks them up.
const adminGrantValidityMonths = 12

const lotColumns = `id, owner_id, credits_granted, credits_remaining, amount_paid_cents, currency, external_ref, status, purchased_at, expires_at, created_at, updated_at`

const txColumns = `id, owner_id, lot_id, generation_id, amount, type, balance_before, balance_after, description, metadata, created_at`

const (
	queryUsableLots = `SELECT id, credits_remaining, expires_at
		 FROM credit_lots
		 WHERE owner_id = $1 AND status = 'active' AND expires_at >= NOW()
		 ORDER BY expires_at ASC`

	queryLockUsableLots = `SELECT ` + lotColumns + `
		 FROM credit_lots
		 WHERE owner_id = $1 AND status = 'active' AND expires_at >= NOW()
		 ORDER BY expires_at ASC
		 FOR UPDATE`

	queryTotalBalance = `SELECT COALESCE(SUM(credits_remaining), 0) FROM credit_lots WHERE owner_id = $1`

	queryUpdateLotRemaining = `UPDATE credit_lots SET credits_remaining = $1, updated_at = NOW() WHERE id = $2`

	queryInsertTransaction = `INSERT INTO credit_transactions (owner_id, lot_id, generation_id, amount, type, balance_before, balance_after, description, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING ` + txColumns

	queryChargesForGeneration = `SELECT ` + txColumns + `
		 FROM credit_transactions
		 WHERE generation_id = $1 AND type = 'generation_charge'
		 ORDER BY id ASC`

	queryRefundedLotsForGeneration = `SELECT lot_id FROM credit_transactions WHERE generation_id = $1 AND type = 'refund'`

	queryLockLot = `SELECT ` + lotColumns + ` FROM credit_lots WHERE id = $1 FOR UPDATE`

	queryInsertPurchasedLot = `INSERT INTO credit_lots (owner_id, credits_granted, credits_remaining, amount_paid_cents, currency, external_ref, status, purchased_at, expires_at)
		 VALUES ($1, $2, $2, $3, $4, $5, 'active', NOW(), $6)
		 ON CONFLICT (external_ref) WHERE external_ref IS NOT NULL DO NOTHING
		 RETURNING ` + lotColumns

	queryLotByExternalRef = `SELECT ` + lotColumns + ` FROM credit_lots WHERE external_ref = $1`

	queryInsertGrantedLot = `INSERT INTO credit_lots (owner_id, credits_granted, credits_remaining, amount_paid_cents, currency, external_ref, status, purchased_at, expires_at)
		 VALUES ($1, $2, $2, 0, 'USD', NULL, 'active', NOW(), $3)
		 RETURNING ` + lotColumns

	queryTransactionsByOwner = `SELECT ` + txColumns + `
		 FROM credit_transactions
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`

	queryExpireLots = `UPDATE credit_lots SET status = 'expired', updated_at = NOW() WHERE status = 'active' AND expires_at < NOW()`
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// GetBalance is read-only and takes no locks; an unknown owner simply
// has no lots and gets a zero snapshot.
func (r *repository) GetBalance(ctx context.Context, ownerID int) (*BalanceSnapshot, error) {
	var lots []LotBalance
	if err := r.db.SelectContext(ctx, &lots, queryUsableLots, ownerID); err != nil {
		return nil, err
	}

	snapshot := &BalanceSnapshot{Lots: lots}
	for _, lot := range lots {
		snapshot.TotalCredits += lot.CreditsRemaining
	}
	if len(lots) > 0 {
		expiry := lots[0].ExpiresAt
		snapshot.SoonestExpiry = &expiry
	}

	return snapshot, nil
}

func (r *repository) Deduct(ctx context.Context, ownerID int, amount int64, generationID, description string) ([]CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduction amount must be positive, got %d", amount)
	}
	return r.deduct(ctx, ownerID, amount, &generationID, TxTypeGenerationCharge, description, nil)
}

// deduct walks the owner's usable lots soonest-expiring first, taking
// min(lot remaining, amount still owed) from each until the amount is
// covered. The whole walk runs in one transaction with the lot rows
// locked, so two concurrent deductions for one owner serialize here.
func (r *repository) deduct(ctx context.Context, ownerID int, amount int64, generationID *string, txType, description string, metadata types.JSONText) ([]CreditTransaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapPGError(err)
	}
	defer tx.Rollback()

	var lots []CreditLot
	if err := tx.SelectContext(ctx, &lots, queryLockUsableLots, ownerID); err != nil {
		return nil, wrapPGError(err)
	}

	var available int64
	for _, lot := range lots {
		available += lot.CreditsRemaining
	}
	if available < amount {
		return nil, &InsufficientCreditsError{Required: amount, Available: available}
	}

	// Balance snapshots count every lot the owner has, usable or not,
	// so replaying the ledger reconstructs total lot state exactly.
	var runningBalance int64
	if err := tx.GetContext(ctx, &runningBalance, queryTotalBalance, ownerID); err != nil {
		return nil, wrapPGError(err)
	}

	owed := amount
	var entries []CreditTransaction
	for _, lot := range lots {
		if owed == 0 {
			break
		}
		take := lot.CreditsRemaining
		if take > owed {
			take = owed
		}
		if take == 0 {
			continue
		}

		newRemaining := lot.CreditsRemaining - take
		if newRemaining < 0 {
			return nil, ErrLedgerInconsistency
		}
		if _, err := tx.ExecContext(ctx, queryUpdateLotRemaining, newRemaining, lot.ID); err != nil {
			return nil, wrapPGError(err)
		}

		var entry CreditTransaction
		err := tx.QueryRowxContext(ctx, queryInsertTransaction,
			ownerID, lot.ID, generationID, -take, txType,
			runningBalance, runningBalance-take, description, metadata,
		).StructScan(&entry)
		if err != nil {
			return nil, wrapPGError(err)
		}

		runningBalance -= take
		owed -= take
		entries = append(entries, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapPGError(err)
	}
	return entries, nil
}

// Refund reverses every charge recorded for a generation, returning the
// exact amount taken from each lot. Charges that already have a refund
// row for the same lot are skipped, so calling Refund twice is safe.
// Zero matching charges is a no-op, not an error.
func (r *repository) Refund(ctx context.Context, generationID string) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, wrapPGError(err)
	}
	defer tx.Rollback()

	var charges []CreditTransaction
	if err := tx.SelectContext(ctx, &charges, queryChargesForGeneration, generationID); err != nil {
		return 0, wrapPGError(err)
	}
	if len(charges) == 0 {
		return 0, nil
	}

	var refundedLotIDs []int
	if err := tx.SelectContext(ctx, &refundedLotIDs, queryRefundedLotsForGeneration, generationID); err != nil {
		return 0, wrapPGError(err)
	}
	alreadyRefunded := make(map[int]bool, len(refundedLotIDs))
	for _, lotID := range refundedLotIDs {
		alreadyRefunded[lotID] = true
	}

	ownerID := charges[0].OwnerID
	var runningBalance int64
	if err := tx.GetContext(ctx, &runningBalance, queryTotalBalance, ownerID); err != nil {
		return 0, wrapPGError(err)
	}

	var totalRefunded int64
	for _, charge := range charges {
		if alreadyRefunded[charge.LotID] {
			continue
		}

		var lot CreditLot
		if err := tx.QueryRowxContext(ctx, queryLockLot, charge.LotID).StructScan(&lot); err != nil {
			return 0, wrapPGError(err)
		}

		restore := -charge.Amount
		newRemaining := lot.CreditsRemaining + restore
		if restore <= 0 || newRemaining > lot.CreditsGranted {
			return 0, ErrLedgerInconsistency
		}
		if _, err := tx.ExecContext(ctx, queryUpdateLotRemaining, newRemaining, lot.ID); err != nil {
			return 0, wrapPGError(err)
		}

		var entry CreditTransaction
		err := tx.QueryRowxContext(ctx, queryInsertTransaction,
			ownerID, lot.ID, charge.GenerationID, restore, TxTypeRefund,
			runningBalance, runningBalance+restore,
			fmt.Sprintf("refund of charge %d", charge.ID), nil,
		).StructScan(&entry)
		if err != nil {
			return 0, wrapPGError(err)
		}

		runningBalance += restore
		totalRefunded += restore
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapPGError(err)
	}
	return totalRefunded, nil
}

// GrantPurchasedLot creates a lot from a payment confirmation. Creation
// is keyed on the provider's external reference: a duplicate webhook
// finds the insert skipped and returns the existing lot with created
// false, writing nothing.
func (r *repository) GrantPurchasedLot(ctx context.Context, conf PurchaseConfirmation) (*CreditLot, bool, error) {
	if conf.CreditsGranted <= 0 {
		return nil, false, fmt.Errorf("credits granted must be positive, got %d", conf.CreditsGranted)
	}
	if conf.ExternalRef == "" {
		return nil, false, errors.New("external reference is required")
	}
	months := conf.ExpiresInMonths
	if months <= 0 {
		months = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, wrapPGError(err)
	}
	defer tx.Rollback()

	var balanceBefore int64
	if err := tx.GetContext(ctx, &balanceBefore, queryTotalBalance, conf.OwnerID); err != nil {
		return nil, false, wrapPGError(err)
	}

	lot := &CreditLot{}
	err = tx.QueryRowxContext(ctx, queryInsertPurchasedLot,
		conf.OwnerID, conf.CreditsGranted, conf.AmountPaidCents, conf.Currency,
		conf.ExternalRef, time.Now().AddDate(0, months, 0),
	).StructScan(lot)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.GetContext(ctx, lot, queryLotByExternalRef, conf.ExternalRef); err != nil {
			return nil, false, wrapPGError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, wrapPGError(err)
		}
		return lot, false, nil
	}
	if err != nil {
		return nil, false, wrapPGError(err)
	}

	var entry CreditTransaction
	err = tx.QueryRowxContext(ctx, queryInsertTransaction,
		conf.OwnerID, lot.ID, nil, conf.CreditsGranted, TxTypePurchaseGrant,
		balanceBefore, balanceBefore+conf.CreditsGranted,
		fmt.Sprintf("purchase %s", conf.ExternalRef), nil,
	).StructScan(&entry)
	if err != nil {
		return nil, false, wrapPGError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, wrapPGError(err)
	}
	return lot, true, nil
}

// AdminAdjust grants a synthetic lot for positive amounts and runs the
// FIFO walk for negative ones. Either way the rows are typed
// manual_adjustment and carry the acting admin in metadata.
func (r *repository) AdminAdjust(ctx context.Context, ownerID int, amount int64, reason string, adminID int) ([]CreditTransaction, error) {
	if amount == 0 {
		return nil, errors.New("adjustment amount cannot be zero")
	}

	metadata, err := json.Marshal(map[string]interface{}{"admin_id": adminID})
	if err != nil {
		return nil, err
	}

	if amount < 0 {
		return r.deduct(ctx, ownerID, -amount, nil, TxTypeManualAdjustment, reason, types.JSONText(metadata))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapPGError(err)
	}
	defer tx.Rollback()

	var balanceBefore int64
	if err := tx.GetContext(ctx, &balanceBefore, queryTotalBalance, ownerID); err != nil {
		return nil, wrapPGError(err)
	}

	lot := &CreditLot{}
	err = tx.QueryRowxContext(ctx, queryInsertGrantedLot,
		ownerID, amount, time.Now().AddDate(0, adminGrantValidityMonths, 0),
	).StructScan(lot)
	if err != nil {
		return nil, wrapPGError(err)
	}

	var entry CreditTransaction
	err = tx.QueryRowxContext(ctx, queryInsertTransaction,
		ownerID, lot.ID, nil, amount, TxTypeManualAdjustment,
		balanceBefore, balanceBefore+amount, reason, types.JSONText(metadata),
	).StructScan(&entry)
	if err != nil {
		return nil, wrapPGError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapPGError(err)
	}
	return []CreditTransaction{entry}, nil
}

func (r *repository) GetTransactions(ctx context.Context, ownerID int, limit, offset int) ([]CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var txs []CreditTransaction
	err := r.db.SelectContext(ctx, &txs, queryTransactionsByOwner, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// ExpireLots flips active lots past their expiry to expired. Expired
// lots stop counting toward the balance but are never deleted.
func (r *repository) ExpireLots(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, queryExpireLots)
	if err != nil {
		return 0, wrapPGError(err)
	}
	return res.RowsAffected()
}
