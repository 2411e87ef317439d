package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials identify one tenant against the provider. The same pair is
// used for login and for deriving the payload decryption key.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// AccessContext is the short-lived session value produced by login. It is
// never persisted and must be passed explicitly through every provider call.
type AccessContext struct {
	Token       string
	Credentials Credentials

	// Resolved provider-side identifiers, filled in by account/card lookup.
	AccountID string
	CompanyID string
}

type OperationKind string

const (
	OperationIntradayRead         OperationKind = "lectura_intradia"
	OperationClosingRead          OperationKind = "lectura_cierre"
	OperationCardRead             OperationKind = "lectura_tarjeta"
	OperationAccountPlanExport    OperationKind = "plan_contable"
	OperationContactExport        OperationKind = "tercero_cliente"
	OperationDocumentExport       OperationKind = "documentos_terceros"
	OperationDocumentCancel       OperationKind = "anular_documento"
	OperationReconciliationImport OperationKind = "conciliacion_terceros"
	OperationJournalImport        OperationKind = "asiento_contable"
	OperationStatementLineExport  OperationKind = "apunte_contable"
)

// EventData carries the semantic parameters a result handler needs but which
// the provider callback payload does not contain. Serialized verbatim into
// the ledger entry at submission time.
type EventData struct {
	Operation  OperationKind `json:"event"`
	DateSince  string        `json:"date_since,omitempty"`
	DateUntil  string        `json:"date_until,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	APISecret  string        `json:"api_secret,omitempty"`
	AccountID  string        `json:"account_id,omitempty"`
	CardNumber string        `json:"card_number,omitempty"`
}

const EventDateLayout = "2006/01/02"

// Submission is one accepted asynchronous provider job. The
// (ResponseID, Signature) pair is the sole correlation key the provider
// echoes back on the callback path.
type Submission struct {
	Operation  OperationKind
	ResponseID string
	Signature  string
	Raw        json.RawMessage
}

type EntryType string

const (
	EntryTypeRequest  EntryType = "request"
	EntryTypeResponse EntryType = "response"
)

type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusError   EntryStatus = "error"
)

// LedgerEntry is the durable record of one outbound request or inbound
// response. Entries are written once at creation; only Resolve mutates a
// request entry, flipping it from pending to a terminal status exactly once.
type LedgerEntry struct {
	ID           string          `json:"id"`
	Type         EntryType       `json:"operation_type"`
	ResponseID   string          `json:"response_id"`
	Signature    string          `json:"signature"`
	RelatedID    string          `json:"related_id,omitempty"`
	RequestData  string          `json:"request_data,omitempty"`
	ResponseData string          `json:"response_data,omitempty"`
	Status       EntryStatus     `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	EventData    json.RawMessage `json:"event_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

func (e *LedgerEntry) Terminal() bool {
	return e.Status == EntryStatusSuccess || e.Status == EntryStatusError
}

// Resolution describes the terminal outcome applied to a pending request
// entry and recorded as its linked response entry.
type Resolution struct {
	Status       EntryStatus
	ResponseData string
	Notes        string
}

// ProviderTransaction is a single bank or card movement as returned by the
// provider. Timestamps are UTC in the provider's fixed textual format.
type ProviderTransaction struct {
	ID            json.Number     `json:"id"`
	Amount        decimal.Decimal `json:"importe"`
	Sign          string          `json:"signo"`
	ExecutionDate string          `json:"fecha_operacion"`
	ValueDate     string          `json:"fecha_valor"`
	Description   string          `json:"concepto"`
	Notes         string          `json:"observaciones"`
	BankAccount   string          `json:"cuenta_bancaria"`
	CardNumber    string          `json:"num_tarjeta"`
}

// CanonicalTransaction is the normalized movement handed to the statement
// builder. Date is a naive local timestamp (zone already applied and
// stripped).
type CanonicalTransaction struct {
	Sequence       int             `json:"sequence"`
	Date           time.Time       `json:"date"`
	PaymentRef     string          `json:"payment_ref"`
	UniqueImportID string          `json:"unique_import_id"`
	Narration      string          `json:"narration"`
	Amount         decimal.Decimal `json:"amount"`
}
