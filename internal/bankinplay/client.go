package bankinplay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// ResultProcessor consumes a resolved job result. Both completion paths
// (poll-collect and webhook) funnel through the same implementation so the
// classify/dispatch/settle sequence exists exactly once.
type ResultProcessor interface {
	ProcessResolved(ctx context.Context, entry *domain.LedgerEntry, payload json.RawMessage) error
}

type ClientConfig struct {
	// DisableCallback forces the polling path for every operation,
	// including the ones that default to callback delivery.
	DisableCallback bool
	AccountNumber   string
	CardNumber      string
}

// Client is the high-level provider integration client. It holds no session
// state: an AccessContext is produced by Login and passed explicitly into
// every call.
type Client struct {
	transport *Transport
	poller    *Poller
	store     domain.LedgerStore
	results   ResultProcessor
	cfg       ClientConfig
	logger    *logger.Logger
}

func NewClient(
	transport *Transport,
	poller *Poller,
	store domain.LedgerStore,
	results ResultProcessor,
	cfg ClientConfig,
	log *logger.Logger,
) *Client {
	return &Client{
		transport: transport,
		poller:    poller,
		store:     store,
		results:   results,
		cfg:       cfg,
		logger:    log,
	}
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (*domain.AccessContext, error) {
	return c.transport.Login(ctx, creds)
}

// FetchIntradayTransactions submits an intraday read for the date range.
// Intraday reads default to callback delivery: the call returns once the
// job is accepted and the webhook resolves it later. With callbacks
// disabled the call blocks on the polling path and the result is processed
// before returning.
func (c *Client) FetchIntradayTransactions(ctx context.Context, access *domain.AccessContext, since, until time.Time) (*domain.Submission, error) {
	disableCallback := c.cfg.DisableCallback
	return c.submitStatementRead(ctx, access, statementRead{
		operation:       domain.OperationIntradayRead,
		path:            pathIntradayRead,
		sinceParam:      "fechaDesdeOperacion",
		untilParam:      "fechaHastaOperacion",
		filterParam:     "cuentasBancarias",
		filterValue:     access.AccountID,
		disableCallback: disableCallback,
	}, since, until)
}

// FetchClosingTransactions submits a closing read. Closing reads always use
// the polling path.
func (c *Client) FetchClosingTransactions(ctx context.Context, access *domain.AccessContext, since, until time.Time) (*domain.Submission, error) {
	return c.submitStatementRead(ctx, access, statementRead{
		operation:       domain.OperationClosingRead,
		path:            pathClosingRead,
		sinceParam:      "fechaDesdeOperacion",
		untilParam:      "fechaHastaOperacion",
		filterParam:     "cuentasBancarias",
		filterValue:     access.AccountID,
		disableCallback: true,
	}, since, until)
}

// FetchCardTransactions submits a card movement read scoped to the resolved
// company. Card reads always use the polling path.
func (c *Client) FetchCardTransactions(ctx context.Context, access *domain.AccessContext, since, until time.Time) (*domain.Submission, error) {
	return c.submitStatementRead(ctx, access, statementRead{
		operation:       domain.OperationCardRead,
		path:            pathCardRead,
		sinceParam:      "fechaDesde",
		untilParam:      "fechaHasta",
		filterParam:     "sociedades",
		filterValue:     access.CompanyID,
		disableCallback: true,
	}, since, until)
}

type statementRead struct {
	operation       domain.OperationKind
	path            string
	sinceParam      string
	untilParam      string
	filterParam     string
	filterValue     string
	disableCallback bool
}

func (c *Client) submitStatementRead(ctx context.Context, access *domain.AccessContext, read statementRead, since, until time.Time) (*domain.Submission, error) {
	query := url.Values{}
	query.Set("exportados", "true")
	query.Set("deshabilitar_callback", boolParam(read.disableCallback))
	query.Set(read.sinceParam, since.Format(WireDateLayout))
	query.Set(read.untilParam, until.Format(WireDateLayout))
	if read.filterValue != "" {
		query.Add(read.filterParam, read.filterValue)
	}

	event := domain.EventData{
		Operation:  read.operation,
		DateSince:  since.Format(domain.EventDateLayout),
		DateUntil:  until.Format(domain.EventDateLayout),
		APIKey:     access.Credentials.APIKey,
		APISecret:  access.Credentials.APISecret,
		AccountID:  access.AccountID,
		CardNumber: c.cfg.CardNumber,
	}

	submission, entry, err := c.Submit(ctx, access, read.operation, read.path, query, nil, event)
	if err != nil {
		return nil, err
	}

	if !read.disableCallback {
		// Callback delivery: the webhook will resolve this entry later.
		c.logger.Info(ctx, "Job submitted, awaiting callback",
			"operation", string(read.operation),
			"response_id", submission.ResponseID,
		)
		return submission, nil
	}

	if _, err := c.AwaitAndProcess(ctx, access, submission, entry); err != nil {
		return submission, err
	}
	return submission, nil
}

// Submit posts a job, extracts the (responseId, signature) correlation pair
// and records the pending request ledger entry. A submission the provider
// did not accept is recorded as an errored entry and rejected.
func (c *Client) Submit(
	ctx context.Context,
	access *domain.AccessContext,
	operation domain.OperationKind,
	path string,
	query url.Values,
	body any,
	event domain.EventData,
) (*domain.Submission, *domain.LedgerEntry, error) {
	raw, err := c.transport.Post(ctx, access, path, query, body)
	if err != nil {
		return nil, nil, err
	}

	var accepted struct {
		ResponseID string `json:"responseId"`
		Signature  string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &accepted); err != nil {
		return nil, nil, fmt.Errorf("decode submission response: %w", err)
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("encode event data: %w", err)
	}

	requestData := query.Encode()
	if body != nil {
		if encoded, err := json.Marshal(body); err == nil {
			requestData = string(encoded)
		}
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.New().String(),
		Type:         domain.EntryTypeRequest,
		ResponseID:   accepted.ResponseID,
		Signature:    accepted.Signature,
		RequestData:  requestData,
		ResponseData: string(raw),
		Status:       domain.EntryStatusPending,
		Notes:        fmt.Sprintf("%s request submitted", operation),
		EventData:    eventData,
		CreatedAt:    time.Now().UTC(),
	}

	if accepted.ResponseID == "" {
		entry.Status = domain.EntryStatusError
		entry.Notes = "submission rejected: no response id"
		if err := c.store.Create(ctx, entry); err != nil {
			c.logger.Error(ctx, "Failed to record rejected submission", "error", err)
		}
		return nil, nil, domain.ErrSubmissionRejected
	}

	if err := c.store.Create(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("record ledger entry: %w", err)
	}

	c.logger.Info(ctx, "Job submitted",
		"operation", string(operation),
		"response_id", accepted.ResponseID,
		"entry_id", entry.ID,
	)

	return &domain.Submission{
		Operation:  operation,
		ResponseID: accepted.ResponseID,
		Signature:  accepted.Signature,
		Raw:        raw,
	}, entry, nil
}

// AwaitAndProcess drives the polling path to completion: wait for the
// terminal state, collect the payload and funnel it through the shared
// result processor. Poll-path failures resolve the ledger entry before
// propagating to the caller.
func (c *Client) AwaitAndProcess(ctx context.Context, access *domain.AccessContext, submission *domain.Submission, entry *domain.LedgerEntry) (json.RawMessage, error) {
	payload, err := c.poller.Await(ctx, access, submission.ResponseID)
	if err != nil {
		if _, _, resolveErr := c.store.Resolve(ctx, entry.ID, domain.Resolution{
			Status: domain.EntryStatusError,
			Notes:  err.Error(),
		}); resolveErr != nil {
			c.logger.Error(ctx, "Failed to resolve ledger entry after poll failure",
				"entry_id", entry.ID,
				"error", resolveErr,
			)
		}
		return nil, err
	}

	if err := c.results.ProcessResolved(ctx, entry, payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func boolParam(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// sanitizeAccountNumber strips separators and uppercases so wire and
// configured account numbers compare equal regardless of formatting.
func sanitizeAccountNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
