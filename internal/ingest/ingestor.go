package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

type DateField string

const (
	DateFieldExecution DateField = "execution_date"
	DateFieldValue     DateField = "value_date"
)

// providerTimeLayout is the fixed textual format of provider timestamps,
// which are always UTC.
const providerTimeLayout = "2006-01-02 15:04:05"

type Config struct {
	DateField DateField
	// Location is the tenant's local time zone. Dates are converted into
	// it and then stripped of zone info; downstream works with naive
	// local timestamps.
	Location   *time.Location
	CardNumber string
}

// Ingestor normalizes provider movements into canonical transactions for
// the statement builder.
type Ingestor struct {
	cfg Config
}

func New(cfg Config) *Ingestor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DateField == "" {
		cfg.DateField = DateFieldExecution
	}
	return &Ingestor{cfg: cfg}
}

// Normalize extracts the transaction list from the payload and converts it.
// listPresent reports whether a results field existed at all: an empty
// normalized slice is valid output here, and the empty-means-error policy
// is applied by the caller using listPresent.
func (ing *Ingestor) Normalize(payload json.RawMessage, kind domain.OperationKind) (transactions []domain.CanonicalTransaction, listPresent bool, err error) {
	raw, listPresent, err := extractList(payload)
	if err != nil {
		return nil, false, err
	}

	transactions = []domain.CanonicalTransaction{}
	sequence := 0
	for _, tx := range raw {
		if kind == domain.OperationCardRead && !ing.cardMatches(tx) {
			continue
		}

		date, err := ing.localDate(tx)
		if err != nil {
			return nil, listPresent, err
		}

		sequence++
		narration := tx.Notes
		if narration == "" {
			narration = tx.Description
		}

		transactions = append(transactions, domain.CanonicalTransaction{
			Sequence:       sequence,
			Date:           date,
			PaymentRef:     tx.Description,
			UniqueImportID: ing.uniqueImportID(tx),
			Narration:      narration,
			Amount:         signedAmount(tx, kind),
		})
	}

	return transactions, listPresent, nil
}

func extractList(payload json.RawMessage) ([]domain.ProviderTransaction, bool, error) {
	var envelope struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false, fmt.Errorf("decode result payload: %w", err)
	}
	if len(envelope.Results) == 0 || string(envelope.Results) == "null" {
		return nil, false, nil
	}

	var list []domain.ProviderTransaction
	if err := json.Unmarshal(envelope.Results, &list); err == nil {
		return list, true, nil
	}

	// Card reads nest the movement list one level down.
	var nested struct {
		Movimientos []domain.ProviderTransaction `json:"movimientos"`
	}
	if err := json.Unmarshal(envelope.Results, &nested); err != nil {
		return nil, false, fmt.Errorf("decode transaction list: %w", err)
	}
	return nested.Movimientos, true, nil
}

func (ing *Ingestor) cardMatches(tx domain.ProviderTransaction) bool {
	if ing.cfg.CardNumber == "" {
		return true
	}
	return sanitizeNumber(tx.CardNumber) == sanitizeNumber(ing.cfg.CardNumber)
}

func (ing *Ingestor) localDate(tx domain.ProviderTransaction) (time.Time, error) {
	field := tx.ExecutionDate
	if ing.cfg.DateField == DateFieldValue {
		field = tx.ValueDate
	}

	parsed, err := time.ParseInLocation(providerTimeLayout, field, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse transaction date %q: %w", field, err)
	}

	local := parsed.In(ing.cfg.Location)
	// Rebuild with the local wall clock and no zone.
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, time.UTC), nil
}

func (ing *Ingestor) uniqueImportID(tx domain.ProviderTransaction) string {
	account := tx.BankAccount
	if account == "" {
		account = ing.cfg.CardNumber
	}
	return fmt.Sprintf("%s-%s", account, tx.ID.String())
}

// signedAmount negates on the provider's payment indicator. Bank movements
// use "Pago" and card movements lowercase "pago"; the comparison is
// case-sensitive on purpose, matching the provider's two wire formats.
func signedAmount(tx domain.ProviderTransaction, kind domain.OperationKind) decimal.Decimal {
	amount := tx.Amount.Abs()

	indicator := "Pago"
	if kind == domain.OperationCardRead {
		indicator = "pago"
	}
	if tx.Sign == indicator {
		return amount.Neg()
	}
	return amount
}

func sanitizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
