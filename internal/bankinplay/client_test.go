package bankinplay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/ledger"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// recordingProcessor captures the payloads funnelled out of the polling path.
type recordingProcessor struct {
	entries  []*domain.LedgerEntry
	payloads []json.RawMessage
}

func (p *recordingProcessor) ProcessResolved(ctx context.Context, entry *domain.LedgerEntry, payload json.RawMessage) error {
	p.entries = append(p.entries, entry)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestClient(t *testing.T, handler http.Handler, cfg ClientConfig) (*Client, *ledger.MemoryStore, *recordingProcessor) {
	t.Helper()

	transport, _ := newTestTransport(t, handler)
	poller := NewPoller(transport, 10*time.Millisecond, logger.NewNop())
	store := ledger.NewMemoryStore()
	processor := &recordingProcessor{}

	return NewClient(transport, poller, store, processor, cfg, logger.NewNop()), store, processor
}

func testAccess() *domain.AccessContext {
	return &domain.AccessContext{Token: "token", Credentials: testCreds}
}

func TestClient_FetchIntraday_CallbackMode(t *testing.T) {
	var gotQuery map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statement/lectura_intradia", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"exportados":            r.URL.Query().Get("exportados"),
			"deshabilitar_callback": r.URL.Query().Get("deshabilitar_callback"),
			"fechaDesdeOperacion":   r.URL.Query().Get("fechaDesdeOperacion"),
			"fechaHastaOperacion":   r.URL.Query().Get("fechaHastaOperacion"),
			"cuentasBancarias":      r.URL.Query().Get("cuentasBancarias"),
		}
		w.Write([]byte(`{"responseId":"resp-1","signature":"sig-1"}`))
	})

	client, store, processor := newTestClient(t, mux, ClientConfig{})

	access := testAccess()
	access.AccountID = "42"

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	submission, err := client.FetchIntradayTransactions(context.Background(), access, since, until)
	require.NoError(t, err)
	assert.Equal(t, "resp-1", submission.ResponseID)

	assert.Equal(t, "true", gotQuery["exportados"])
	assert.Equal(t, "false", gotQuery["deshabilitar_callback"])
	assert.Equal(t, "01/03/2026", gotQuery["fechaDesdeOperacion"])
	assert.Equal(t, "07/03/2026", gotQuery["fechaHastaOperacion"])
	assert.Equal(t, "42", gotQuery["cuentasBancarias"])

	// Callback delivery: the entry stays pending and nothing is dispatched.
	entry, err := store.FindByCorrelation(context.Background(), "resp-1", "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, entry.Status)
	assert.Empty(t, processor.payloads)

	var event domain.EventData
	require.NoError(t, json.Unmarshal(entry.EventData, &event))
	assert.Equal(t, domain.OperationIntradayRead, event.Operation)
	assert.Equal(t, "2026/03/01", event.DateSince)
	assert.Equal(t, testCreds.APIKey, event.APIKey)
}

func TestClient_FetchIntraday_DisabledCallbackPolls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statement/lectura_intradia", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("deshabilitar_callback"))
		w.Write([]byte(`{"responseId":"resp-2","signature":"sig-2"}`))
	})
	mux.HandleFunc("/api/v1/statement/status/resp-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estado":"terminado"}`))
	})
	mux.HandleFunc("/api/v1/respuestaAsincronaApi/recogida", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	client, _, processor := newTestClient(t, mux, ClientConfig{DisableCallback: true})

	_, err := client.FetchIntradayTransactions(context.Background(), testAccess(), time.Now(), time.Now())
	require.NoError(t, err)

	require.Len(t, processor.payloads, 1)
	assert.JSONEq(t, `{"results":[]}`, string(processor.payloads[0]))
}

func TestClient_FetchCard_UsesCardParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/movimientoTarjetaApi/lectura_tarjeta", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "01/03/2026", r.URL.Query().Get("fechaDesde"))
		assert.Equal(t, "07/03/2026", r.URL.Query().Get("fechaHasta"))
		assert.Equal(t, "7", r.URL.Query().Get("sociedades"))
		w.Write([]byte(`{"responseId":"resp-3","signature":"sig-3"}`))
	})
	mux.HandleFunc("/api/v1/statement/status/resp-3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estado":"procesado"}`))
	})
	mux.HandleFunc("/api/v1/respuestaAsincronaApi/recogida", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{CardNumber: "12345678"})

	access := testAccess()
	access.CompanyID = "7"

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	_, err := client.FetchCardTransactions(context.Background(), access, since, until)
	require.NoError(t, err)
}

func TestClient_Submit_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statement/lectura_cierre", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"no accounts enabled"}`))
	})

	client, store, _ := newTestClient(t, mux, ClientConfig{})

	_, err := client.FetchClosingTransactions(context.Background(), testAccess(), time.Now(), time.Now())
	assert.ErrorIs(t, err, domain.ErrSubmissionRejected)

	// The rejection is still recorded in the ledger.
	entries, total, err := store.List(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.EntryStatusError, entries[0].Status)
	assert.Contains(t, entries[0].Notes, "submission rejected")
}

func TestClient_AwaitAndProcess_PollFailureResolvesEntry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statement/lectura_cierre", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responseId":"resp-4","signature":"sig-4"}`))
	})
	mux.HandleFunc("/api/v1/statement/status/resp-4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estado":"erroneo","description":"read window closed"}`))
	})

	client, store, processor := newTestClient(t, mux, ClientConfig{})

	_, err := client.FetchClosingTransactions(context.Background(), testAccess(), time.Now(), time.Now())
	require.Error(t, err)

	var jobErr *domain.JobFailedError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "read window closed", jobErr.Description)

	entry, err := store.FindByCorrelation(context.Background(), "resp-4", "sig-4")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusError, entry.Status)
	assert.Empty(t, processor.payloads)
}

func TestClient_ResolveAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/entidad/cuentaBancaria", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":10,"cuentaCompleta":"ES91 2100 0418 4502 0005 1332"},
			{"id":11,"cuentaCompleta":"ES7620770024003102575766"}
		]`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{})

	access := testAccess()
	err := client.ResolveAccount(context.Background(), access, "es9121000418450200051332")
	require.NoError(t, err)
	assert.Equal(t, "10", access.AccountID)
}

func TestClient_ResolveAccount_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/entidad/cuentaBancaria", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{})

	err := client.ResolveAccount(context.Background(), testAccess(), "ES12")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestClient_ResolveCard(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/entidad/tarjeta", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":3,"num_tarjeta":"1234-5678","cif_sociedad":"B12345678"}]`))
	})
	mux.HandleFunc("/api/v2/entidad/sociedades", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":55,"nif":"B12345678","nombre":"ACME SL"}]`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{})

	access := testAccess()
	err := client.ResolveCard(context.Background(), access, "12345678")
	require.NoError(t, err)
	assert.Equal(t, "55", access.CompanyID)
}

func TestClient_ExportDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/documentos-terceros", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Documents []Document `json:"documentos"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Documents, 1)
		assert.Equal(t, "INV-1", body.Documents[0].ERPID)
		w.Write([]byte(`{"responseId":"resp-5","signature":"sig-5"}`))
	})
	mux.HandleFunc("/api/v1/statement/status/resp-5", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estado":"terminado"}`))
	})
	mux.HandleFunc("/api/v1/respuestaAsincronaApi/recogida", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"documentos":[{"id_documento_erp":"INV-1","estado":"CREADO"}]}`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{})

	results, err := client.ExportDocuments(context.Background(), testAccess(), []Document{{
		ERPID:      "INV-1",
		CompanyNIF: "B12345678",
		TypeCode:   "FV",
		IssueDate:  WireDate(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		DueDate:    WireDate(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Currency:   "EUR",
		StateCode:  "PDTE",
		References: []string{"INV-1"},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CREADO", results[0].State)
}

func TestClient_CancelDocument(t *testing.T) {
	var deletedPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sociedades/B12345678/documentos-terceros/INV-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`991`))
	})
	mux.HandleFunc("/api/v1/documentos-terceros/anular/991", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deletedPath = r.URL.Path
		w.Write([]byte(`{"responseId":"resp-6","statusCode":200}`))
	})

	client, _, _ := newTestClient(t, mux, ClientConfig{})

	err := client.CancelDocument(context.Background(), testAccess(), "B12345678", "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/documentos-terceros/anular/991", deletedPath)
}

func TestWireDate_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(WireDate(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"02/03/2026"`, string(out))

	out, err = json.Marshal(WireDate(time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
