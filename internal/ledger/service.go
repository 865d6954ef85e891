package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/metrics"
)

const (
	maxConflictRetries = 3
	conflictBackoff    = 50 * time.Millisecond
)

type Service interface {
	GetBalance(ctx context.Context, ownerID int) (*BalanceSnapshot, error)
	CheckSufficientCredits(ctx context.Context, ownerID int, amount int64) (bool, int64, error)
	Deduct(ctx context.Context, ownerID int, amount int64, generationID, description string) ([]CreditTransaction, error)
	Refund(ctx context.Context, generationID string) error
	GrantPurchasedLot(ctx context.Context, conf PurchaseConfirmation) (*CreditLot, bool, error)
	AdminAdjust(ctx context.Context, ownerID int, amount int64, reason string, adminID int) ([]CreditTransaction, error)
	GetTransactions(ctx context.Context, ownerID int, limit, offset int) ([]CreditTransaction, error)
	ExpireLots(ctx context.Context) (int64, error)
	StartExpirySweep(ctx context.Context, interval time.Duration)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) GetBalance(ctx context.Context, ownerID int) (*BalanceSnapshot, error) {
	return s.repo.GetBalance(ctx, ownerID)
}

// CheckSufficientCredits is advisory: the deduction re-validates inside
// its own transaction, so a true here can still lose a race.
func (s *service) CheckSufficientCredits(ctx context.Context, ownerID int, amount int64) (bool, int64, error) {
	snapshot, err := s.repo.GetBalance(ctx, ownerID)
	if err != nil {
		return false, 0, err
	}
	return snapshot.TotalCredits >= amount, snapshot.TotalCredits, nil
}

func (s *service) Deduct(ctx context.Context, ownerID int, amount int64, generationID, description string) ([]CreditTransaction, error) {
	var entries []CreditTransaction
	err := s.withConflictRetry(ctx, func() error {
		var err error
		entries, err = s.repo.Deduct(ctx, ownerID, amount, generationID, description)
		return err
	})
	if err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			metrics.InsufficientCreditsTotal.Inc()
		}
		if errors.Is(err, ErrLedgerInconsistency) {
			metrics.LedgerInconsistenciesTotal.Inc()
			logger.Criticalf("ledger inconsistency during deduct: owner=%d generation=%s", ownerID, generationID)
		}
		return nil, err
	}

	metrics.RecordDeduction(amount)
	logger.Infof("Deducted %d credits from owner %d across %d lots (generation %s)", amount, ownerID, len(entries), generationID)
	return entries, nil
}

func (s *service) Refund(ctx context.Context, generationID string) error {
	var refunded int64
	err := s.withConflictRetry(ctx, func() error {
		var err error
		refunded, err = s.repo.Refund(ctx, generationID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLedgerInconsistency) {
			metrics.LedgerInconsistenciesTotal.Inc()
			logger.Criticalf("ledger inconsistency during refund: generation=%s", generationID)
		}
		return err
	}

	if refunded == 0 {
		logger.Debugf("Refund for generation %s: nothing to refund", generationID)
		return nil
	}

	metrics.RecordRefund(refunded)
	logger.Infof("Refunded %d credits for generation %s", refunded, generationID)
	return nil
}

func (s *service) GrantPurchasedLot(ctx context.Context, conf PurchaseConfirmation) (*CreditLot, bool, error) {
	var (
		lot     *CreditLot
		created bool
	)
	err := s.withConflictRetry(ctx, func() error {
		var err error
		lot, created, err = s.repo.GrantPurchasedLot(ctx, conf)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.RecordGrant("purchase", conf.CreditsGranted)
		logger.Infof("Granted lot %d: %d credits to owner %d (ref %s)", lot.ID, conf.CreditsGranted, conf.OwnerID, conf.ExternalRef)
	} else {
		logger.Infof("Duplicate payment confirmation for ref %s, lot %d unchanged", conf.ExternalRef, lot.ID)
	}
	return lot, created, nil
}

func (s *service) AdminAdjust(ctx context.Context, ownerID int, amount int64, reason string, adminID int) ([]CreditTransaction, error) {
	var entries []CreditTransaction
	err := s.withConflictRetry(ctx, func() error {
		var err error
		entries, err = s.repo.AdminAdjust(ctx, ownerID, amount, reason, adminID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if amount > 0 {
		metrics.RecordGrant("manual", amount)
	} else {
		metrics.RecordDeduction(-amount)
	}
	logger.Infof("Admin %d adjusted owner %d by %d credits: %s", adminID, ownerID, amount, reason)
	return entries, nil
}

func (s *service) GetTransactions(ctx context.Context, ownerID int, limit, offset int) ([]CreditTransaction, error) {
	return s.repo.GetTransactions(ctx, ownerID, limit, offset)
}

func (s *service) ExpireLots(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireLots(ctx)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		metrics.LotsExpiredTotal.Add(float64(expired))
		logger.Infof("Expiry sweep: %d lots expired", expired)
	}
	return expired, nil
}

// StartExpirySweep runs the lot expiry sweep until ctx is cancelled.
func (s *service) StartExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Lot expiry sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpireLots(ctx); err != nil {
				logger.Errorf("Lot expiry sweep failed: %v", err)
			}
		}
	}
}

// withConflictRetry re-runs op when the atomic unit aborts on a
// serialization conflict. Anything else surfaces immediately.
func (s *service) withConflictRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			metrics.LedgerConflictRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * conflictBackoff):
			}
		}
		err = op()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
