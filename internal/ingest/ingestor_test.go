package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

func TestIngestor_Normalize_BankMovements(t *testing.T) {
	ing := New(Config{})

	payload := json.RawMessage(`{"results":[
		{"id":101,"importe":250.75,"signo":"Cobro","fecha_operacion":"2026-03-02 10:30:00","fecha_valor":"2026-03-03 00:00:00","concepto":"TRANSFER IN","cuenta_bancaria":"ES9121000418450200051332"},
		{"id":102,"importe":99.10,"signo":"Pago","fecha_operacion":"2026-03-02 14:00:00","fecha_valor":"2026-03-02 00:00:00","concepto":"SUPPLIER","observaciones":"invoice 42","cuenta_bancaria":"ES9121000418450200051332"}
	]}`)

	transactions, listPresent, err := ing.Normalize(payload, domain.OperationClosingRead)
	require.NoError(t, err)
	assert.True(t, listPresent)
	require.Len(t, transactions, 2)

	first := transactions[0]
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, "TRANSFER IN", first.PaymentRef)
	assert.Equal(t, "TRANSFER IN", first.Narration)
	assert.Equal(t, "ES9121000418450200051332-101", first.UniqueImportID)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("250.75")))

	second := transactions[1]
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, "invoice 42", second.Narration)
	assert.True(t, second.Amount.Equal(decimal.RequireFromString("-99.10")))
}

func TestIngestor_Normalize_SignCaseSensitivity(t *testing.T) {
	tests := []struct {
		name     string
		kind     domain.OperationKind
		sign     string
		negative bool
	}{
		{"bank payment", domain.OperationClosingRead, "Pago", true},
		{"bank lowercase is not payment", domain.OperationClosingRead, "pago", false},
		{"bank credit", domain.OperationClosingRead, "Cobro", false},
		{"card payment", domain.OperationCardRead, "pago", true},
		{"card capitalized is not payment", domain.OperationCardRead, "Pago", false},
		{"unknown sign stays positive", domain.OperationIntradayRead, "abono", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := domain.ProviderTransaction{
				Amount: decimal.RequireFromString("-10.00"),
				Sign:   tt.sign,
			}

			amount := signedAmount(tx, tt.kind)
			if tt.negative {
				assert.True(t, amount.Equal(decimal.RequireFromString("-10.00")))
			} else {
				// The absolute value is taken before the sign is applied.
				assert.True(t, amount.Equal(decimal.RequireFromString("10.00")))
			}
		})
	}
}

func TestIngestor_Normalize_EmptyResults(t *testing.T) {
	ing := New(Config{})

	transactions, listPresent, err := ing.Normalize(json.RawMessage(`{"results":[]}`), domain.OperationIntradayRead)
	require.NoError(t, err)
	assert.True(t, listPresent)
	assert.Empty(t, transactions)
}

func TestIngestor_Normalize_AbsentResults(t *testing.T) {
	ing := New(Config{})

	transactions, listPresent, err := ing.Normalize(json.RawMessage(`{"estado":"procesado"}`), domain.OperationIntradayRead)
	require.NoError(t, err)
	assert.False(t, listPresent)
	assert.Empty(t, transactions)
}

func TestIngestor_Normalize_NestedCardMovements(t *testing.T) {
	ing := New(Config{CardNumber: "1234 5678"})

	payload := json.RawMessage(`{"results":{"movimientos":[
		{"id":1,"importe":20,"signo":"pago","fecha_operacion":"2026-03-02 08:00:00","concepto":"SHOP","num_tarjeta":"12345678"},
		{"id":2,"importe":30,"signo":"pago","fecha_operacion":"2026-03-02 09:00:00","concepto":"OTHER CARD","num_tarjeta":"99999999"}
	]}}`)

	transactions, listPresent, err := ing.Normalize(payload, domain.OperationCardRead)
	require.NoError(t, err)
	assert.True(t, listPresent)
	require.Len(t, transactions, 1)
	assert.Equal(t, "SHOP", transactions[0].PaymentRef)
	assert.Equal(t, 1, transactions[0].Sequence)
	assert.Equal(t, "1234 5678-1", transactions[0].UniqueImportID)
	assert.True(t, transactions[0].Amount.Equal(decimal.NewFromInt(-20)))
}

func TestIngestor_Normalize_ValueDateField(t *testing.T) {
	ing := New(Config{DateField: DateFieldValue})

	payload := json.RawMessage(`{"results":[
		{"id":1,"importe":5,"signo":"Cobro","fecha_operacion":"2026-03-02 10:00:00","fecha_valor":"2026-03-04 00:00:00","concepto":"X","cuenta_bancaria":"ES12"}
	]}`)

	transactions, _, err := ing.Normalize(payload, domain.OperationClosingRead)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), transactions[0].Date)
}

func TestIngestor_Normalize_TimezoneConversion(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	ing := New(Config{Location: madrid})

	// 23:30 UTC on March 1st is 00:30 local on March 2nd in Madrid.
	payload := json.RawMessage(`{"results":[
		{"id":1,"importe":5,"signo":"Cobro","fecha_operacion":"2026-03-01 23:30:00","concepto":"X","cuenta_bancaria":"ES12"}
	]}`)

	transactions, _, err := ing.Normalize(payload, domain.OperationClosingRead)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC), transactions[0].Date)
}

func TestIngestor_Normalize_BadDate(t *testing.T) {
	ing := New(Config{})

	payload := json.RawMessage(`{"results":[
		{"id":1,"importe":5,"signo":"Cobro","fecha_operacion":"02/03/2026","concepto":"X"}
	]}`)

	_, _, err := ing.Normalize(payload, domain.OperationClosingRead)
	assert.Error(t, err)
}
