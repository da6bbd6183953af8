package v1

import (
	"context"
	"database/sql"
	"sync"
)

// PostgresBilling records billing holds in the billing_holds table. A hold
// row with resumed_at NULL means billing is suspended.
type PostgresBilling struct {
	db *sql.DB
}

func NewPostgresBilling(db *sql.DB) *PostgresBilling {
	return &PostgresBilling{db: db}
}

func (b *PostgresBilling) Suspend(ctx context.Context, enrollmentID string) error {
	query := `
		INSERT INTO billing_holds (enrollment_id, suspended_at, resumed_at)
		VALUES ($1, now(), NULL)
		ON CONFLICT (enrollment_id) DO UPDATE
		SET suspended_at = EXCLUDED.suspended_at, resumed_at = NULL
		WHERE billing_holds.resumed_at IS NOT NULL`
	_, err := b.db.ExecContext(ctx, query, enrollmentID)
	return err
}

func (b *PostgresBilling) Resume(ctx context.Context, enrollmentID string) error {
	query := `UPDATE billing_holds SET resumed_at = now() WHERE enrollment_id = $1 AND resumed_at IS NULL`
	_, err := b.db.ExecContext(ctx, query, enrollmentID)
	return err
}

// MemoryBilling tracks holds in process. Suspends and Resumes count only
// calls that changed anything.
type MemoryBilling struct {
	mu        sync.Mutex
	suspended map[string]bool
	Suspends  int
	Resumes   int
}

func NewMemoryBilling() *MemoryBilling {
	return &MemoryBilling{suspended: map[string]bool{}}
}

func (b *MemoryBilling) Suspend(_ context.Context, enrollmentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.suspended[enrollmentID] {
		b.suspended[enrollmentID] = true
		b.Suspends++
	}
	return nil
}

func (b *MemoryBilling) Resume(_ context.Context, enrollmentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suspended[enrollmentID] {
		delete(b.suspended, enrollmentID)
		b.Resumes++
	}
	return nil
}

func (b *MemoryBilling) IsSuspended(enrollmentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended[enrollmentID]
}

// Counts returns the effective suspend and resume calls so far.
func (b *MemoryBilling) Counts() (suspends, resumes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Suspends, b.Resumes
}
