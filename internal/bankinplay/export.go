package bankinplay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

// WireDate marshals as the provider's dd/mm/yyyy format; the zero value
// marshals as null.
type WireDate time.Time

func (d WireDate) MarshalJSON() ([]byte, error) {
	t := time.Time(d)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(WireDateLayout))
}

func (d *WireDate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = WireDate(time.Time{})
		return nil
	}
	t, err := time.Parse(WireDateLayout, s)
	if err != nil {
		return err
	}
	*d = WireDate(t)
	return nil
}

// AccountPlan is a chart of accounts to be exported to the provider.
type AccountPlan struct {
	Code                string
	Name                string
	StartDate           time.Time
	Country             string
	AccountDigits       int
	ManageThirdAccounts bool
	Accounts            []PlanAccount
}

type PlanAccount struct {
	Name        string `json:"nombre"`
	Code        string `json:"codigo"`
	Description string `json:"descripcion"`
}

// Contact is a third party (customer, supplier or employee) exported to the
// provider for reconciliation matching.
type Contact struct {
	NIF        string              `json:"nif"`
	Name       string              `json:"nombre"`
	Alias      string              `json:"alias"`
	Country    string              `json:"pais"`
	Street     string              `json:"domicilio"`
	Province   string              `json:"provincia"`
	City       string              `json:"localidad"`
	Accounting []ContactAccounting `json:"configuracion_contable"`
}

type ContactAccounting struct {
	CompanyNIF string `json:"sociedad_cif"`
	Kind       string `json:"tipo_tercero"` // C customer, P supplier, E employee
	Status     string `json:"estado"`
	Account    string `json:"cuenta_contable"`
	Code       string `json:"codigo_tercero"`
}

// Document is an accounting document (invoice or refund) exported to the
// provider.
type Document struct {
	ERPID            string          `json:"id_documento_erp"`
	CompanyNIF       string          `json:"sociedad_cif"`
	TypeCode         string          `json:"tipo_documento_codigo"` // FV, AC, FC, AP
	IssueDate        WireDate        `json:"fecha_emision"`
	DueDate          WireDate        `json:"fecha_vencimiento"`
	RemittanceDate   WireDate        `json:"fecha_emision_remesa"`
	CollectionDate   WireDate        `json:"fecha_cobro"`
	DocumentNumber   string          `json:"no_documento"`
	RemittanceRef    string          `json:"no_remesa,omitempty"`
	TotalAmount      decimal.Decimal `json:"importe_total"`
	PendingAmount    decimal.Decimal `json:"importe_pendiente"`
	Currency         string          `json:"divisa"`
	StateCode        string          `json:"estado_codigo"` // PDTE, COBRADO, PAGADO, REMESADO
	CounterpartyNIF  string          `json:"nif_tercero"`
	CounterpartyName string          `json:"razon_social_tercero,omitempty"`
	References       []string        `json:"referencias"`
}

type DocumentResult struct {
	ERPID string `json:"id_documento_erp"`
	State string `json:"estado"`
}

// ReconciledDocument is one settled match between a bank movement and a
// ledger document, as reported by the provider.
type ReconciledDocument struct {
	MovementID    json.Number     `json:"id_movimiento"`
	ERPDocumentID string          `json:"id_documento_erp"`
	BankAccount   string          `json:"cuenta_bancaria"`
	AmountMatched decimal.Decimal `json:"importe_conciliado"`
}

// JournalEntry is a provider-built accounting entry for a bank movement.
type JournalEntry struct {
	MovementID  json.Number   `json:"movimiento_id"`
	BankAccount string        `json:"cuenta_bancaria"`
	Description string        `json:"descripcion"`
	Lines       []JournalLine `json:"apuntes"`
}

type JournalLine struct {
	Account     string          `json:"cuenta_contable"`
	Amount      decimal.Decimal `json:"importe"`
	DebitCredit string          `json:"debe_haber"` // D or H
	Analytics   json.RawMessage `json:"analitica,omitempty"`
}

// StatementLine is one reconciled statement line exported back to the
// provider.
type StatementLine struct {
	MovementID  string          `json:"movimiento_id"`
	Account     string          `json:"cuenta_contable"`
	CompanyNIF  string          `json:"sociedad_cif"`
	Date        WireDate        `json:"fecha_contable"`
	Amount      decimal.Decimal `json:"importe"`
	DebitCredit string          `json:"debe_haber"`
	Description string          `json:"descripcion"`
	EntryID     string          `json:"asiento_id"`
	LineID      string          `json:"apunte_id"`
}

type providerErrors struct {
	Errors []struct {
		Description string `json:"description"`
	} `json:"errors"`
}

// ExportAccountPlan exports a chart of accounts, verifies the provider
// created the plan and links it to the company.
func (c *Client) ExportAccountPlan(ctx context.Context, access *domain.AccessContext, companyID string, plan AccountPlan) error {
	body := map[string]any{
		"agrupaciones": []any{},
		"planes": []map[string]any{{
			"codigo":                        plan.Code,
			"nombre":                        plan.Name,
			"fechaInicio":                   plan.StartDate.Format(WireDateLayout),
			"pais":                          plan.Country,
			"numeroDigitosCuentasContables": strconv.Itoa(plan.AccountDigits),
			"gestionarCCTerceros":           yesNo(plan.ManageThirdAccounts),
			"cuentas":                       plan.Accounts,
		}},
	}

	payload, err := c.submitAndAwait(ctx, access, domain.OperationAccountPlanExport, pathAccountPlanExport, nil, body)
	if err != nil {
		return err
	}
	if err := firstProviderError(payload); err != nil {
		return err
	}

	created, err := c.accountPlanByCode(ctx, access, plan.Code)
	if err != nil {
		return err
	}
	return c.linkAccountPlan(ctx, access, companyID, created)
}

// ExportContacts exports third parties. The provider reports per-contact
// states in the returned payload.
func (c *Client) ExportContacts(ctx context.Context, access *domain.AccessContext, contacts []Contact) (json.RawMessage, error) {
	body := map[string]any{"terceros": contacts}
	return c.submitAndAwait(ctx, access, domain.OperationContactExport, pathContactExport, nil, body)
}

// ExportDocuments exports accounting documents and returns the per-document
// acceptance states.
func (c *Client) ExportDocuments(ctx context.Context, access *domain.AccessContext, documents []Document) ([]DocumentResult, error) {
	body := map[string]any{"documentos": documents}
	payload, err := c.submitAndAwait(ctx, access, domain.OperationDocumentExport, pathDocumentExport, nil, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Documents []DocumentResult `json:"documentos"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode document export result: %w", err)
	}
	return result.Documents, nil
}

// CancelDocument voids a previously exported document. The provider-side
// document id is resolved from the ERP id first.
func (c *Client) CancelDocument(ctx context.Context, access *domain.AccessContext, companyNIF, erpDocumentID string) error {
	lookupPath := "/api/v1/sociedades/" + companyNIF + "/documentos-terceros/" + erpDocumentID
	raw, err := c.transport.Get(ctx, access, lookupPath, nil)
	if err != nil {
		return err
	}

	var providerID json.Number
	if err := json.Unmarshal(raw, &providerID); err != nil {
		if err := firstProviderError(raw); err != nil {
			return err
		}
		return fmt.Errorf("document %s is not known to the provider", erpDocumentID)
	}

	result, err := c.transport.Delete(ctx, access, pathDocumentCancel+providerID.String(), nil, nil)
	if err != nil {
		return err
	}

	var status struct {
		ResponseID string `json:"responseId"`
		StatusCode int    `json:"statusCode"`
	}
	if err := json.Unmarshal(result, &status); err != nil {
		return fmt.Errorf("decode cancel response: %w", err)
	}
	if status.ResponseID == "" {
		return domain.ErrSubmissionRejected
	}
	if status.StatusCode != 200 {
		return fmt.Errorf("document %s could not be cancelled (status %d)", erpDocumentID, status.StatusCode)
	}
	return nil
}

// ImportReconciliation fetches settled document matches since the given
// date, grouped by bank movement.
func (c *Client) ImportReconciliation(ctx context.Context, access *domain.AccessContext, companyID string, since time.Time) (map[string][]ReconciledDocument, error) {
	body := map[string]any{
		"sociedades":               []string{companyID},
		"deshabilitar_callback":    true,
		"exportados":               true,
		"fecha_conciliacion_desde": since.Format(WireDateLayout),
	}

	payload, err := c.submitAndAwait(ctx, access, domain.OperationReconciliationImport, pathReconciliation, nil, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Companies []struct {
			Documents []ReconciledDocument `json:"documentos"`
		} `json:"sociedades"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode reconciliation result: %w", err)
	}

	byMovement := make(map[string][]ReconciledDocument)
	for _, company := range result.Companies {
		for _, doc := range company.Documents {
			id := doc.MovementID.String()
			byMovement[id] = append(byMovement[id], doc)
		}
	}
	return byMovement, nil
}

// ImportJournalEntries fetches provider-built journal entries up to the
// given date.
func (c *Client) ImportJournalEntries(ctx context.Context, access *domain.AccessContext, companyID string, until time.Time) ([]JournalEntry, error) {
	body := map[string]any{
		"fechaHasta":            until.Format(WireDateLayout),
		"sociedades":            []string{companyID},
		"deshabilitar_callback": true,
	}

	payload, err := c.submitAndAwait(ctx, access, domain.OperationJournalImport, pathJournalImport, nil, body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results struct {
			Entries []JournalEntry `json:"asientos"`
		} `json:"results"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode journal entries: %w", err)
	}
	return result.Results.Entries, nil
}

// ExportStatementLines sends reconciled statement lines back to the
// provider. This operation is synchronous: the provider answers in-band.
func (c *Client) ExportStatementLines(ctx context.Context, access *domain.AccessContext, lines []StatementLine) error {
	body := map[string]any{"apuntes": lines}
	raw, err := c.transport.Post(ctx, access, pathStatementLineExport, nil, body)
	if err != nil {
		return err
	}
	return firstProviderError(raw)
}

func (c *Client) submitAndAwait(ctx context.Context, access *domain.AccessContext, operation domain.OperationKind, path string, query url.Values, body any) (json.RawMessage, error) {
	event := domain.EventData{
		Operation: operation,
		APIKey:    access.Credentials.APIKey,
		APISecret: access.Credentials.APISecret,
	}

	submission, entry, err := c.Submit(ctx, access, operation, path, query, body, event)
	if err != nil {
		return nil, err
	}
	return c.AwaitAndProcess(ctx, access, submission, entry)
}

func (c *Client) accountPlanByCode(ctx context.Context, access *domain.AccessContext, code string) (json.Number, error) {
	raw, err := c.transport.Get(ctx, access, pathAccountPlans, nil)
	if err != nil {
		return "", err
	}

	var plans []struct {
		ID   json.Number `json:"id"`
		Code string      `json:"codigo"`
	}
	if err := json.Unmarshal(raw, &plans); err != nil {
		return "", fmt.Errorf("decode account plans: %w", err)
	}
	for _, plan := range plans {
		if plan.Code == code {
			return plan.ID, nil
		}
	}
	return "", fmt.Errorf("account plan %s was not created at the provider", code)
}

func (c *Client) linkAccountPlan(ctx context.Context, access *domain.AccessContext, companyID string, planID json.Number) error {
	query := url.Values{}
	query.Set("planContableId", planID.String())

	raw, err := c.transport.Put(ctx, access, pathCompanies+"/"+companyID, query, nil)
	if err != nil {
		return err
	}

	var status struct {
		StatusCode int `json:"statusCode"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return fmt.Errorf("decode plan link response: %w", err)
	}
	if status.StatusCode != 200 {
		return fmt.Errorf("account plan %s could not be linked to company %s", planID.String(), companyID)
	}
	return nil
}

func firstProviderError(raw json.RawMessage) error {
	var pe providerErrors
	if err := json.Unmarshal(raw, &pe); err == nil && len(pe.Errors) > 0 {
		return fmt.Errorf("provider rejected the request: %s", pe.Errors[0].Description)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "S"
	}
	return "N"
}
