package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alquemyfin/bankinplay-connect/internal/bankinplay"
	"github.com/alquemyfin/bankinplay-connect/internal/config"
	"github.com/alquemyfin/bankinplay-connect/internal/correlator"
	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/eventbus"
	"github.com/alquemyfin/bankinplay-connect/internal/handler"
	"github.com/alquemyfin/bankinplay-connect/internal/ingest"
	"github.com/alquemyfin/bankinplay-connect/internal/ledger"
	"github.com/alquemyfin/bankinplay-connect/internal/server"
	"github.com/alquemyfin/bankinplay-connect/internal/service"
	"github.com/alquemyfin/bankinplay-connect/internal/statement"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

var testCreds = domain.Credentials{
	APIKey:    "integration-key",
	APISecret: "integration-secret",
}

type stack struct {
	store       *ledger.MemoryStore
	builder     *statement.MemoryBuilder
	correlator  *correlator.Correlator
	syncService *service.SyncService
}

// fakeProvider simulates the provider API: login, closing-read submission,
// two pending status checks, then a terminated job whose collected payload
// is an encrypted envelope.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()

	var statusCalls int32
	codec := bankinplay.NewCodec()

	mux := http.NewServeMux()
	mux.HandleFunc("/clienteApi/jwt_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != testCreds.APIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"access_token":"integration-token"}`))
	})
	mux.HandleFunc("/api/v1/statement/lectura_cierre", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer integration-token", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("exportados"))
		assert.Equal(t, "true", r.URL.Query().Get("deshabilitar_callback"))
		assert.NotEmpty(t, r.URL.Query().Get("fechaDesdeOperacion"))
		w.Write([]byte(`{"responseId":"resp-int-1","signature":"sig-int-1"}`))
	})
	mux.HandleFunc("/api/v1/statement/status/resp-int-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&statusCalls, 1) < 3 {
			w.Write([]byte(`{"estado":"pendiente"}`))
			return
		}
		w.Write([]byte(`{"estado":"terminado"}`))
	})
	mux.HandleFunc("/api/v1/respuestaAsincronaApi/recogida", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resp-int-1", r.URL.Query().Get("responseId"))

		ciphertext, err := codec.Encrypt([]byte(`{"results":[
			{"id":501,"importe":1200.40,"signo":"Cobro","fecha_operacion":"2026-03-02 10:00:00","concepto":"CLIENT PAYMENT","cuenta_bancaria":"ES9121000418450200051332"},
			{"id":502,"importe":75.00,"signo":"Pago","fecha_operacion":"2026-03-03 11:00:00","concepto":"RENT","cuenta_bancaria":"ES9121000418450200051332"}
		]}`), testCreds)
		require.NoError(t, err)
		fmt.Fprintf(w, `{"data":%q,"signature":"sig-int-1"}`, ciphertext)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupStack(t *testing.T, providerURL string) *stack {
	t.Helper()

	log := logger.NewNop()
	store := ledger.NewMemoryStore()
	builder := statement.NewMemoryBuilder(log)

	codec := bankinplay.NewCodec()
	transport := bankinplay.NewTransport(providerURL, 5*time.Second, codec, log)
	poller := bankinplay.NewPoller(transport, 10*time.Millisecond, log)
	ingestor := ingest.New(ingest.Config{})

	corr := correlator.New(store, codec, ingestor, builder, log)

	client := bankinplay.NewClient(transport, poller, store, corr, bankinplay.ClientConfig{}, log)
	syncService := service.NewSyncService(client, testCreds, service.SyncOptions{
		ImportType: service.ImportTypeClose,
	}, log)

	return &stack{
		store:       store,
		builder:     builder,
		correlator:  corr,
		syncService: syncService,
	}
}

func setupHTTPServer(t *testing.T, s *stack) *httptest.Server {
	t.Helper()

	log := logger.NewNop()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
	}

	bus := eventbus.New(log, nil)

	srv := server.New(
		cfg,
		log,
		handler.NewWebhookHandler(s.correlator, log),
		handler.NewLedgerHandler(s.store, log),
		handler.NewSyncHandler(bus, 7, log),
		handler.NewHealthHandler(),
	)

	testServer := httptest.NewServer(srv.Handler())
	t.Cleanup(testServer.Close)
	return testServer
}

func TestClosingReadPollFlow(t *testing.T) {
	provider := fakeProvider(t)
	s := setupStack(t, provider.URL)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	submission, err := s.syncService.FetchRange(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, "resp-int-1", submission.ResponseID)
	assert.Equal(t, "sig-int-1", submission.Signature)

	// The polling path resolves the ledger before FetchRange returns.
	entries, total, err := s.store.List(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	var request, response *domain.LedgerEntry
	for i := range entries {
		switch entries[i].Type {
		case domain.EntryTypeRequest:
			request = &entries[i]
		case domain.EntryTypeResponse:
			response = &entries[i]
		}
	}
	require.NotNil(t, request)
	require.NotNil(t, response)
	assert.Equal(t, domain.EntryStatusSuccess, request.Status)
	assert.Equal(t, response.ID, request.RelatedID)
	assert.Equal(t, request.ID, response.RelatedID)
	assert.Equal(t, "2 transactions ingested", request.Notes)

	statements := s.builder.Statements()
	require.Len(t, statements, 1)
	require.Len(t, statements[0].Lines, 2)
	assert.Equal(t, since, statements[0].DateSince)
	assert.Equal(t, "ES9121000418450200051332-501", statements[0].Lines[0].UniqueImportID)
	assert.Equal(t, "1200.4", statements[0].Lines[0].Amount.String())
	assert.Equal(t, "-75", statements[0].Lines[1].Amount.String())
}

func TestWebhookCallbackFlow(t *testing.T) {
	provider := fakeProvider(t)
	s := setupStack(t, provider.URL)
	httpServer := setupHTTPServer(t, s)

	event, err := json.Marshal(domain.EventData{
		Operation: domain.OperationIntradayRead,
		DateSince: "2026/03/01",
		DateUntil: "2026/03/07",
		APIKey:    testCreds.APIKey,
		APISecret: testCreds.APISecret,
	})
	require.NoError(t, err)

	require.NoError(t, s.store.Create(context.Background(), &domain.LedgerEntry{
		ID:         "entry-cb-1",
		Type:       domain.EntryTypeRequest,
		ResponseID: "resp-cb-1",
		Signature:  "sig-cb-1",
		Status:     domain.EntryStatusPending,
		EventData:  event,
		CreatedAt:  time.Now().UTC(),
	}))

	ciphertext, err := bankinplay.NewCodec().Encrypt([]byte(`{"results":[
		{"id":9,"importe":33.33,"signo":"Cobro","fecha_operacion":"2026-03-04 12:00:00","concepto":"REFUND","cuenta_bancaria":"ES12"}
	]}`), testCreds)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"data":%q,"signature":"sig-cb-1","responseId":"resp-cb-1"}`, ciphertext)
	resp, err := http.Post(httpServer.URL+"/webhook/lectura_intradia", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	entry, err := s.store.Get(context.Background(), "entry-cb-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusSuccess, entry.Status)
	require.Len(t, s.builder.Statements(), 1)

	// The resolved pair is visible through the ledger endpoint.
	listResp, err := http.Get(httpServer.URL + "/ledger/entries?status=success")
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)

	var listBody struct {
		Items []domain.LedgerEntry `json:"items"`
		Total int                  `json:"total"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listBody))
	assert.Equal(t, 2, listBody.Total)
}

func TestHealthCheck(t *testing.T) {
	provider := fakeProvider(t)
	s := setupStack(t, provider.URL)
	httpServer := setupHTTPServer(t, s)

	resp, err := http.Get(httpServer.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "ok", result["status"])
	assert.NotEmpty(t, result["timestamp"])
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
