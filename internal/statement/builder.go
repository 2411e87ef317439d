package statement

import (
	"context"
	"sync"
	"time"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// Statement is one built batch of statement lines for a date range.
type Statement struct {
	DateSince time.Time                     `json:"date_since"`
	DateUntil time.Time                     `json:"date_until"`
	Lines     []domain.CanonicalTransaction `json:"lines"`
	CreatedAt time.Time                     `json:"created_at"`
}

// MemoryBuilder is the in-process statement-builder collaborator. The host
// accounting platform replaces this with its own implementation of
// domain.StatementBuilder.
type MemoryBuilder struct {
	statements []Statement
	logger     *logger.Logger
	mu         sync.RWMutex
}

func NewMemoryBuilder(log *logger.Logger) *MemoryBuilder {
	return &MemoryBuilder{logger: log}
}

func (b *MemoryBuilder) Build(ctx context.Context, transactions []domain.CanonicalTransaction, dateSince, dateUntil time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.statements = append(b.statements, Statement{
		DateSince: dateSince,
		DateUntil: dateUntil,
		Lines:     transactions,
		CreatedAt: time.Now().UTC(),
	})

	b.logger.Info(ctx, "Statement built",
		"date_since", dateSince.Format("2006-01-02"),
		"date_until", dateUntil.Format("2006-01-02"),
		"lines", len(transactions),
	)
	return nil
}

func (b *MemoryBuilder) Statements() []Statement {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Statement, len(b.statements))
	copy(out, b.statements)
	return out
}
