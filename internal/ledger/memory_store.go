package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

// MemoryStore is the in-memory LedgerStore used in development and tests.
type MemoryStore struct {
	entries map[string]*domain.LedgerEntry
	order   []string
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*domain.LedgerEntry),
	}
}

func (s *MemoryStore) Create(ctx context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	s.entries[entry.ID] = &stored
	s.order = append(s.order, entry.ID)

	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, domain.ErrEntryNotFound
	}

	copied := *entry
	return &copied, nil
}

func (s *MemoryStore) FindByCorrelation(ctx context.Context, responseID, signature string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.Type != domain.EntryTypeRequest {
			continue
		}
		// Both halves of the correlation key must match; the provider may
		// reuse response ids.
		if entry.ResponseID == responseID && entry.Signature == signature {
			copied := *entry
			return &copied, nil
		}
	}

	return nil, domain.ErrEntryNotFound
}

func (s *MemoryStore) Resolve(ctx context.Context, entryID string, res domain.Resolution) (*domain.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[entryID]
	if !exists {
		return nil, false, domain.ErrEntryNotFound
	}

	if entry.Terminal() {
		return nil, false, nil
	}

	now := time.Now().UTC()

	response := &domain.LedgerEntry{
		ID:           uuid.New().String(),
		Type:         domain.EntryTypeResponse,
		ResponseID:   entry.ResponseID,
		Signature:    entry.Signature,
		RelatedID:    entry.ID,
		ResponseData: res.ResponseData,
		Status:       res.Status,
		Notes:        res.Notes,
		CreatedAt:    now,
	}
	s.entries[response.ID] = response
	s.order = append(s.order, response.ID)

	entry.Status = res.Status
	entry.RelatedID = response.ID
	entry.ResolvedAt = &now
	if res.Notes != "" {
		entry.Notes = res.Notes
	}

	copied := *response
	return &copied, true, nil
}

func (s *MemoryStore) List(ctx context.Context, status *domain.EntryStatus, page, perPage int) ([]domain.LedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []domain.LedgerEntry
	for i := len(s.order) - 1; i >= 0; i-- {
		entry := s.entries[s.order[i]]
		if status != nil && entry.Status != *status {
			continue
		}
		filtered = append(filtered, *entry)
	}

	total := len(filtered)

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	start := (page - 1) * perPage
	end := start + perPage

	if start >= total {
		return []domain.LedgerEntry{}, total, nil
	}
	if end > total {
		end = total
	}

	return filtered[start:end], total, nil
}
