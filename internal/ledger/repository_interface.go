package ledger

import "context"

type Repository interface {
	GetBalance(ctx context.Context, ownerID int) (*BalanceSnapshot, error)
	Deduct(ctx context.Context, ownerID int, amount int64, generationID, description string) ([]CreditTransaction, error)
	Refund(ctx context.Context, generationID string) (int64, error)
	GrantPurchasedLot(ctx context.Context, conf PurchaseConfirmation) (*CreditLot, bool, error)
	AdminAdjust(ctx context.Context, ownerID int, amount int64, reason string, adminID int) ([]CreditTransaction, error)
	GetTransactions(ctx context.Context, ownerID int, limit, offset int) ([]CreditTransaction, error)
	ExpireLots(ctx context.Context) (int64, error)
}
