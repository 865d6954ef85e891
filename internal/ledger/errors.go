package ledger

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrConflict means the atomic unit lost a race and aborted. The
	// service retries the whole operation a bounded number of times.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrLedgerInconsistency means a lot would go negative or exceed its
	// original grant. Never retried, never auto-corrected.
	ErrLedgerInconsistency = errors.New("ledger inconsistency detected")
)

type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// wrapPGError maps postgres serialization failures and deadlocks onto
// ErrConflict so the service layer can retry them.
func wrapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}
