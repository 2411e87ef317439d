package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alquemyfin/bankinplay-connect/internal/bankinplay"
	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/ingest"
	"github.com/alquemyfin/bankinplay-connect/internal/metrics"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// ErrInvalidCallback rejects webhook bodies missing one of data, signature
// or responseId. This is the only correlator error that reaches the HTTP
// layer; everything else is absorbed so the provider always gets an ack.
var ErrInvalidCallback = errors.New("callback payload must contain data, signature and responseId")

// CallbackPayload is the provider webhook body.
type CallbackPayload struct {
	Data       json.RawMessage `json:"data"`
	Signature  string          `json:"signature"`
	ResponseID string          `json:"responseId"`
}

// Correlator resolves inbound results against the request ledger. Both
// completion paths funnel through ProcessResolved, so classification,
// dispatch and settlement exist exactly once.
type Correlator struct {
	store    domain.LedgerStore
	codec    *bankinplay.Codec
	ingestor *ingest.Ingestor
	builder  domain.StatementBuilder
	logger   *logger.Logger

	mu    sync.Mutex
	locks map[string]*entryLock
}

// entryLock serializes dispatch-and-settle per entry ID, so under
// concurrent redelivery only one caller may run side effects; the others
// wait and then see the terminal status.
type entryLock struct {
	mu   sync.Mutex
	refs int
}

func New(
	store domain.LedgerStore,
	codec *bankinplay.Codec,
	ingestor *ingest.Ingestor,
	builder domain.StatementBuilder,
	log *logger.Logger,
) *Correlator {
	return &Correlator{
		store:    store,
		codec:    codec,
		ingestor: ingestor,
		builder:  builder,
		logger:   log,
		locks:    make(map[string]*entryLock),
	}
}

// HandleCallback runs the webhook state machine: received → correlated →
// decrypted → classified → dispatched → settled. It is idempotent under
// at-least-once delivery: an already-resolved correlation key
// short-circuits to an acknowledgement without re-dispatching. The only
// non-nil return is ErrInvalidCallback.
func (c *Correlator) HandleCallback(ctx context.Context, body []byte) error {
	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ErrInvalidCallback
	}
	if len(payload.Data) == 0 || string(payload.Data) == "null" ||
		payload.Signature == "" || payload.ResponseID == "" {
		return ErrInvalidCallback
	}

	ctx = logger.WithResponseID(ctx, payload.ResponseID)

	entry, err := c.store.FindByCorrelation(ctx, payload.ResponseID, payload.Signature)
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			c.recordOrphan(ctx, payload, body)
			return nil
		}
		c.logger.Error(ctx, "Ledger lookup failed", "error", err)
		return nil
	}

	if entry.Terminal() {
		c.logger.Info(ctx, "Callback for already-resolved entry, acknowledging",
			"entry_id", entry.ID,
			"status", string(entry.Status),
		)
		return nil
	}

	event, err := c.eventData(entry)
	if err != nil {
		c.settleError(ctx, entry, "", fmt.Sprintf("unreadable event data: %v", err))
		return nil
	}

	// The callback payload carries no credentials; decryption uses the
	// ones preserved in the originating entry's event data.
	creds := domain.Credentials{APIKey: event.APIKey, APISecret: event.APISecret}
	decrypted, err := c.codec.Decode(body, creds)
	if err != nil {
		c.logger.Error(ctx, "Callback payload decryption failed", "error", err)
		c.settleError(ctx, entry, "", fmt.Sprintf("decryption failed: %v", err))
		return nil
	}

	if err := c.ProcessResolved(ctx, entry, decrypted); err != nil {
		c.logger.Error(ctx, "Callback processing failed",
			"entry_id", entry.ID,
			"error", err,
		)
	}
	return nil
}

// ProcessResolved classifies a decrypted result, dispatches it to the
// handler for the originating operation and settles the ledger entry. Also
// the funnel for the poll-collect path.
func (c *Correlator) ProcessResolved(ctx context.Context, entry *domain.LedgerEntry, payload json.RawMessage) error {
	unlock := c.lockEntry(entry.ID)
	defer unlock()

	// Re-read under the lock: a concurrent delivery that held the lock
	// first has already settled the entry.
	fresh, err := c.store.Get(ctx, entry.ID)
	if err != nil {
		return err
	}
	if fresh.Terminal() {
		c.logger.Debug(ctx, "Entry already resolved, skipping dispatch", "entry_id", entry.ID)
		return nil
	}

	event, err := c.eventData(fresh)
	if err != nil {
		c.settleError(ctx, fresh, string(payload), fmt.Sprintf("unreadable event data: %v", err))
		return err
	}

	switch event.Operation {
	case domain.OperationIntradayRead, domain.OperationClosingRead, domain.OperationCardRead:
		return c.dispatchTransactions(ctx, fresh, event, payload)
	default:
		c.settle(ctx, fresh, event.Operation, domain.Resolution{
			Status:       domain.EntryStatusSuccess,
			ResponseData: string(payload),
			Notes:        fmt.Sprintf("%s result collected", event.Operation),
		})
		return nil
	}
}

func (c *Correlator) dispatchTransactions(ctx context.Context, entry *domain.LedgerEntry, event domain.EventData, payload json.RawMessage) error {
	transactions, listPresent, err := c.ingestor.Normalize(payload, event.Operation)
	if err != nil {
		c.settleError(ctx, entry, string(payload), fmt.Sprintf("normalization failed: %v", err))
		return err
	}

	// A present-but-empty list is a failed fetch, not a valid empty page.
	// An absent list is a success with zero transactions.
	if listPresent && len(transactions) == 0 {
		c.settleError(ctx, entry, string(payload), "provider returned an empty transaction list")
		return domain.ErrEmptyResult
	}

	if len(transactions) > 0 {
		since, until, err := parseDateRange(event)
		if err != nil {
			c.settleError(ctx, entry, string(payload), fmt.Sprintf("unreadable date range: %v", err))
			return err
		}

		if err := c.builder.Build(ctx, transactions, since, until); err != nil {
			c.settleError(ctx, entry, string(payload), fmt.Sprintf("statement builder failed: %v", err))
			return err
		}
	}

	c.settle(ctx, entry, event.Operation, domain.Resolution{
		Status:       domain.EntryStatusSuccess,
		ResponseData: string(payload),
		Notes:        fmt.Sprintf("%d transactions ingested", len(transactions)),
	})
	return nil
}

// lockEntry claims the per-entry lock, creating it on first use and
// dropping it once the last holder releases.
func (c *Correlator) lockEntry(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &entryLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func (c *Correlator) settle(ctx context.Context, entry *domain.LedgerEntry, operation domain.OperationKind, res domain.Resolution) {
	_, applied, err := c.store.Resolve(ctx, entry.ID, res)
	if err != nil {
		c.logger.Error(ctx, "Failed to resolve ledger entry",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}
	if !applied {
		c.logger.Warn(ctx, "Entry was resolved concurrently, no mutation applied", "entry_id", entry.ID)
		return
	}

	metrics.JobResolutions.WithLabelValues(string(operation), string(res.Status)).Inc()
	c.logger.Info(ctx, "Ledger entry resolved",
		"entry_id", entry.ID,
		"status", string(res.Status),
	)
}

func (c *Correlator) settleError(ctx context.Context, entry *domain.LedgerEntry, responseData, notes string) {
	operation := domain.OperationKind("unknown")
	if event, err := c.eventData(entry); err == nil && event.Operation != "" {
		operation = event.Operation
	}
	c.settle(ctx, entry, operation, domain.Resolution{
		Status:       domain.EntryStatusError,
		ResponseData: responseData,
		Notes:        notes,
	})
}

func parseDateRange(event domain.EventData) (time.Time, time.Time, error) {
	since, err := time.Parse(domain.EventDateLayout, event.DateSince)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	until, err := time.Parse(domain.EventDateLayout, event.DateUntil)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return since, until, nil
}

func (c *Correlator) eventData(entry *domain.LedgerEntry) (domain.EventData, error) {
	var event domain.EventData
	if len(entry.EventData) == 0 {
		return event, errors.New("entry has no event data")
	}
	err := json.Unmarshal(entry.EventData, &event)
	return event, err
}

func (c *Correlator) recordOrphan(ctx context.Context, payload CallbackPayload, body []byte) {
	orphan := &domain.LedgerEntry{
		ID:           uuid.New().String(),
		Type:         domain.EntryTypeResponse,
		ResponseID:   payload.ResponseID,
		Signature:    payload.Signature,
		ResponseData: string(body),
		Status:       domain.EntryStatusError,
		Notes:        "orphan response: no matching request entry",
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.Create(ctx, orphan); err != nil {
		c.logger.Error(ctx, "Failed to record orphan response", "error", err)
		return
	}
	c.logger.Warn(ctx, "Orphan callback recorded",
		"response_id", payload.ResponseID,
		"entry_id", orphan.ID,
	)
}
