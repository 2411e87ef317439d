package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS bankinplay_log (
	id UUID PRIMARY KEY,
	operation_type TEXT NOT NULL,
	response_id TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	related_id UUID,
	request_data TEXT NOT NULL DEFAULT '',
	response_data TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	notes TEXT NOT NULL DEFAULT '',
	event_data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_bankinplay_log_correlation
	ON bankinplay_log (response_id, signature) WHERE operation_type = 'request';
CREATE INDEX IF NOT EXISTS idx_bankinplay_log_status ON bankinplay_log (status);
`

// PostgresStore is the durable LedgerStore. The exactly-once resolve
// transition is enforced with a status-guarded UPDATE inside a transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("unable to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bankinplay_log
			(id, operation_type, response_id, signature, related_id, request_data, response_data, status, notes, event_data, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Type, entry.ResponseID, entry.Signature, entry.RelatedID,
		entry.RequestData, entry.ResponseData, entry.Status, entry.Notes,
		entry.EventData, entry.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	return s.scanOne(s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
}

func (s *PostgresStore) FindByCorrelation(ctx context.Context, responseID, signature string) (*domain.LedgerEntry, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		selectColumns+` WHERE operation_type = 'request' AND response_id = $1 AND signature = $2
		ORDER BY created_at DESC LIMIT 1`,
		responseID, signature,
	))
}

func (s *PostgresStore) Resolve(ctx context.Context, entryID string, res domain.Resolution) (*domain.LedgerEntry, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	tag, err := tx.Exec(ctx, `
		UPDATE bankinplay_log
		SET status = $2, notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END, resolved_at = $4
		WHERE id = $1 AND status = 'pending'`,
		entryID, res.Status, res.Notes, now,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		// Already terminal, or unknown. Distinguish so redeliveries are
		// acknowledged while genuinely unknown entries surface an error.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bankinplay_log WHERE id = $1)`, entryID).Scan(&exists); err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, false, domain.ErrEntryNotFound
		}
		return nil, false, tx.Commit(ctx)
	}

	request, err := s.scanOne(tx.QueryRow(ctx, selectColumns+` WHERE id = $1`, entryID))
	if err != nil {
		return nil, false, err
	}

	response := &domain.LedgerEntry{
		ID:           uuid.New().String(),
		Type:         domain.EntryTypeResponse,
		ResponseID:   request.ResponseID,
		Signature:    request.Signature,
		RelatedID:    request.ID,
		ResponseData: res.ResponseData,
		Status:       res.Status,
		Notes:        res.Notes,
		CreatedAt:    now,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bankinplay_log
			(id, operation_type, response_id, signature, related_id, response_data, status, notes, created_at)
		VALUES ($1, 'response', $2, $3, $4, $5, $6, $7, $8)`,
		response.ID, response.ResponseID, response.Signature, response.RelatedID,
		response.ResponseData, response.Status, response.Notes, response.CreatedAt,
	); err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE bankinplay_log SET related_id = $2 WHERE id = $1`, entryID, response.ID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return response, true, nil
}

func (s *PostgresStore) List(ctx context.Context, status *domain.EntryStatus, page, perPage int) ([]domain.LedgerEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	where := ""
	args := []any{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, *status)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM bankinplay_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	args = append(args, perPage, offset)
	query := fmt.Sprintf(selectColumns+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *entry)
	}
	return entries, total, rows.Err()
}

const selectColumns = `
	SELECT id, operation_type, response_id, signature, COALESCE(related_id::text, ''),
		request_data, response_data, status, notes, event_data, created_at, resolved_at
	FROM bankinplay_log`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row pgx.Row) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	return entry, err
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := row.Scan(
		&entry.ID, &entry.Type, &entry.ResponseID, &entry.Signature, &entry.RelatedID,
		&entry.RequestData, &entry.ResponseData, &entry.Status, &entry.Notes,
		&entry.EventData, &entry.CreatedAt, &entry.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
