package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/email"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/ledger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/logger"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/metrics"
	"github.com/BeamX-Solutions/paid-marketing-plan-sub001/internal/user"

	"github.com/google/uuid"
)

// ErrRefundFailed means a generation failed AND the refund of its charge
// failed too. The charge is left in place for the reconciliation sweep
// and the condition is flagged for operators; it must never be swallowed.
var ErrRefundFailed = errors.New("refund failed, manual reconciliation required")

type Service interface {
	GeneratePlan(ctx context.Context, ownerID int, req PlanRequest) (*Generation, error)
	GetPlan(ctx context.Context, ownerID int, id string) (*Generation, error)
	ListPlans(ctx context.Context, ownerID int, limit, offset int) ([]Generation, error)
	ReconcileStuckCharges(ctx context.Context, stuckAfter time.Duration) (int, error)
	StartReconciliationSweep(ctx context.Context, interval, stuckAfter time.Duration)
}

type service struct {
	repo      Repository
	credits   ledger.Service
	generator Generator
	userRepo  user.Repository
	email     *email.Service
	cost      int64
}

func NewService(repo Repository, credits ledger.Service, generator Generator, userRepo user.Repository, emailService *email.Service, costCredits int64) Service {
	return &service{
		repo:      repo,
		credits:   credits,
		generator: generator,
		userRepo:  userRepo,
		email:     emailService,
		cost:      costCredits,
	}
}

// GeneratePlan sequences check -> charge -> generate -> settle. The
// deduction is the only at-most-once point: it runs exactly once per
// generation id, and a failed generation is never reused for a retry.
func (s *service) GeneratePlan(ctx context.Context, ownerID int, req PlanRequest) (*Generation, error) {
	ok, available, err := s.credits.CheckSufficientCredits(ctx, ownerID, s.cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		// No generation row exists yet, so nothing is recorded; the
		// rejection only shows up in the ledger's own counters.
		return nil, &ledger.InsufficientCreditsError{Required: s.cost, Available: available}
	}

	questionnaire, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	gen, err := s.repo.Create(ctx, uuid.NewString(), ownerID, s.cost, questionnaire)
	if err != nil {
		return nil, err
	}

	if _, err := s.credits.Deduct(ctx, ownerID, s.cost, gen.ID, "marketing plan generation"); err != nil {
		// Nothing was charged; the pre-check simply lost a race or the
		// store failed. The generation never reaches charged.
		if markErr := s.repo.MarkFailed(ctx, gen.ID, err.Error()); markErr != nil {
			logger.Errorf("Failed to mark generation %s failed: %v", gen.ID, markErr)
		}
		metrics.RecordGeneration(StatusFailed)
		return nil, err
	}

	if err := s.repo.MarkCharged(ctx, gen.ID); err != nil {
		return nil, s.settleFailure(ctx, gen.ID, err)
	}

	plan, err := s.runGenerator(ctx, req)
	if err != nil {
		return nil, s.settleFailure(ctx, gen.ID, err)
	}

	if err := s.repo.MarkCompleted(ctx, gen.ID, plan); err != nil {
		return nil, s.settleFailure(ctx, gen.ID, err)
	}

	metrics.RecordGeneration(StatusCompleted)
	logger.Infof("Generation %s completed for owner %d (%d credits)", gen.ID, ownerID, s.cost)
	s.notifyPlanReady(ctx, ownerID, req.BusinessName)

	return s.repo.GetByID(ctx, gen.ID)
}

// runGenerator confines the external call so a panic inside it settles
// the charge the same way an error does.
func (s *service) runGenerator(ctx context.Context, req PlanRequest) (plan string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return s.generator.Generate(ctx, req)
}

// settleFailure refunds the generation's charge and records the outcome.
// A refund failure is surfaced as ErrRefundFailed alongside the original
// error; the generation stays charged so the sweep retries the refund.
func (s *service) settleFailure(ctx context.Context, generationID string, genErr error) error {
	if refundErr := s.credits.Refund(ctx, generationID); refundErr != nil {
		metrics.RefundFailuresTotal.Inc()
		logger.Criticalf("Refund failed for generation %s after generation error (%v): %v", generationID, genErr, refundErr)
		return errors.Join(fmt.Errorf("plan generation failed: %w", genErr), ErrRefundFailed)
	}

	if err := s.repo.MarkRefunded(ctx, generationID, genErr.Error()); err != nil {
		logger.Errorf("Failed to mark generation %s refunded: %v", generationID, err)
	}
	metrics.RecordGeneration(StatusRefunded)
	logger.Infof("Generation %s failed and was refunded: %v", generationID, genErr)
	return fmt.Errorf("plan generation failed: %w", genErr)
}

func (s *service) GetPlan(ctx context.Context, ownerID int, id string) (*Generation, error) {
	gen, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if gen.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return gen, nil
}

func (s *service) ListPlans(ctx context.Context, ownerID int, limit, offset int) ([]Generation, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// ReconcileStuckCharges force-refunds generations abandoned mid-request.
// Two shapes exist: rows stuck in charged (the process died between
// charging and settling) and rows still pending whose deduction already
// committed before the charged mark was written. Refund is keyed by
// generation id and is a no-op when no charge rows exist, so it is safe
// to run against both.
func (s *service) ReconcileStuckCharges(ctx context.Context, stuckAfter time.Duration) (int, error) {
	cutoff := time.Now().Add(-stuckAfter)

	stuck, err := s.repo.ListStuckCharged(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, gen := range stuck {
		if err := s.credits.Refund(ctx, gen.ID); err != nil {
			metrics.RefundFailuresTotal.Inc()
			logger.Criticalf("Reconciliation refund failed for generation %s: %v", gen.ID, err)
			continue
		}
		if err := s.repo.MarkRefunded(ctx, gen.ID, "timed out in charged state, force-refunded by reconciliation sweep"); err != nil {
			logger.Errorf("Failed to mark stuck generation %s refunded: %v", gen.ID, err)
			continue
		}
		metrics.StuckChargesReconciledTotal.Inc()
		metrics.RecordGeneration(StatusRefunded)
		logger.Infof("Reconciled stuck generation %s (owner %d, %d credits)", gen.ID, gen.OwnerID, gen.CostCredits)
		reconciled++
	}

	abandoned, err := s.repo.ListStuckPending(ctx, cutoff)
	if err != nil {
		return reconciled, err
	}

	for _, gen := range abandoned {
		if err := s.credits.Refund(ctx, gen.ID); err != nil {
			metrics.RefundFailuresTotal.Inc()
			logger.Criticalf("Reconciliation refund failed for abandoned generation %s: %v", gen.ID, err)
			continue
		}
		if err := s.repo.MarkFailed(ctx, gen.ID, "abandoned in pending state, reconciled by sweep"); err != nil {
			logger.Errorf("Failed to mark abandoned generation %s failed: %v", gen.ID, err)
			continue
		}
		metrics.StuckChargesReconciledTotal.Inc()
		metrics.RecordGeneration(StatusFailed)
		logger.Infof("Reconciled abandoned generation %s (owner %d)", gen.ID, gen.OwnerID)
		reconciled++
	}

	return reconciled, nil
}

func (s *service) StartReconciliationSweep(ctx context.Context, interval, stuckAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Generation reconciliation sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.ReconcileStuckCharges(ctx, stuckAfter); err != nil {
				logger.Errorf("Generation reconciliation sweep failed: %v", err)
			}
		}
	}
}

func (s *service) notifyPlanReady(ctx context.Context, ownerID int, businessName string) {
	if s.email == nil || s.userRepo == nil {
		return
	}
	u, err := s.userRepo.FindByID(ctx, ownerID)
	if err != nil || u == nil {
		return
	}
	s.email.SendPlanReady(ctx, u.Email, u.Name, businessName)
}
