package domain

import (
	"context"
	"time"
)

// LedgerStore is the persistence collaborator for the request ledger.
// Entries are append-only except for the guarded pending-to-terminal
// transition performed by Resolve.
type LedgerStore interface {
	// Create persists a new entry. The entry ID must already be assigned.
	Create(ctx context.Context, entry *LedgerEntry) error

	// Get returns the entry with the given id.
	Get(ctx context.Context, id string) (*LedgerEntry, error)

	// FindByCorrelation returns the request entry matching both responseID
	// and signature, or ErrEntryNotFound. Matching on responseID alone is
	// insufficient: the provider may reuse identifiers across tenants.
	FindByCorrelation(ctx context.Context, responseID, signature string) (*LedgerEntry, error)

	// Resolve flips a pending request entry to the resolution's terminal
	// status, creates the linked response entry and returns it. If the
	// entry is already terminal no mutation happens and applied is false.
	Resolve(ctx context.Context, entryID string, res Resolution) (responseEntry *LedgerEntry, applied bool, err error)

	// List returns entries for the operator view, newest first.
	List(ctx context.Context, status *EntryStatus, page, perPage int) ([]LedgerEntry, int, error)
}

// StatementBuilder is the external collaborator that turns normalized
// transactions into bank statement lines.
type StatementBuilder interface {
	Build(ctx context.Context, transactions []CanonicalTransaction, dateSince, dateUntil time.Time) error
}
