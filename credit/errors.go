/*
errors.go - Error types for the credit engine

PURPOSE:
  Sentinel errors for errors.Is checks plus structured errors carrying
  context. Routine outcomes ("still in grace", "already settled") are NOT
  errors here; they are nil results the caller renders as information.

SEE ALSO:
  - accrual.go: returns nil results for ineligible debts
  - store/sqlite: maps unique-constraint violations to DuplicateEntryError
*/
package credit

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a referenced debt, sale or payment does
	// not exist. Surfaced to the caller; no retry.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEntry is returned on a (debt, calculation date) collision
	// in the markup ledger. It indicates the idempotence check was bypassed;
	// the triggering accrual run aborts and rolls back entirely.
	ErrDuplicateEntry = errors.New("duplicate markup entry")

	// ErrInvalidGracePeriod is returned for a negative grace-period edit.
	ErrInvalidGracePeriod = errors.New("grace period months must be >= 0")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// DuplicateEntryError carries the colliding checkpoint.
type DuplicateEntryError struct {
	DebtID int64
	Date   time.Time
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate markup entry: debt %d already has an entry on %s",
		e.DebtID, e.Date.Format("2006-01-02"))
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateEntry }

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicateEntry reports whether err is a markup ledger collision.
func IsDuplicateEntry(err error) bool { return errors.Is(err, ErrDuplicateEntry) }
