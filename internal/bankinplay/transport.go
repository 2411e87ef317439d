package bankinplay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/metrics"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

const (
	pathLogin               = "/clienteApi/jwt_token"
	pathCompanies           = "/api/v2/entidad/sociedades"
	pathBankAccounts        = "/api/v2/entidad/cuentaBancaria"
	pathCards               = "/api/v2/entidad/tarjeta"
	pathIntradayRead        = "/api/v1/statement/lectura_intradia"
	pathClosingRead         = "/api/v1/statement/lectura_cierre"
	pathCardRead            = "/api/v1/movimientoTarjetaApi/lectura_tarjeta"
	pathJobStatus           = "/api/v1/statement/status/"
	pathCollect             = "/api/v1/respuestaAsincronaApi/recogida"
	pathAccountPlans        = "/api/v1/planes-contables"
	pathAccountPlanExport   = "/api/v1/planContableApi/plan_contable"
	pathContactExport       = "/api/v1/tercero-cliente"
	pathDocumentExport      = "/api/v1/documentos-terceros"
	pathDocumentCancel      = "/api/v1/documentos-terceros/anular/"
	pathReconciliation      = "/api/v1/conciliacion-terceros"
	pathJournalImport       = "/api/v1/asientoContableApi/asiento_contable"
	pathStatementLineExport = "/api/v1/apunteContableApi/apunte_contable"
)

// WireDateLayout is the dd/mm/yyyy format the provider expects in request
// parameters.
const WireDateLayout = "02/01/2006"

// Transport is the low-level authenticated HTTP client for the provider
// API. Every 2xx body is passed through the codec before being returned;
// any non-2xx status is a *domain.ProviderError and is never retried here.
type Transport struct {
	baseURL string
	http    *http.Client
	codec   *Codec
	logger  *logger.Logger
}

func NewTransport(baseURL string, timeout time.Duration, codec *Codec, log *logger.Logger) *Transport {
	return &Transport{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		codec:   codec,
		logger:  log,
	}
}

// Login posts the tenant credentials and returns a fresh AccessContext.
// Empty credentials fail fast without a network round-trip.
func (t *Transport) Login(ctx context.Context, creds domain.Credentials) (*domain.AccessContext, error) {
	if creds.Empty() {
		return nil, domain.ErrMissingCredentials
	}

	query := url.Values{}
	query.Set("user", creds.APIKey)
	query.Set("pass", creds.APISecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+pathLogin+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	t.logger.Info(ctx, "Provider login", "url", t.baseURL+pathLogin)

	body, err := t.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, domain.ErrNoToken
	}

	return &domain.AccessContext{
		Token:       result.AccessToken,
		Credentials: creds,
	}, nil
}

func (t *Transport) Get(ctx context.Context, access *domain.AccessContext, path string, query url.Values) (json.RawMessage, error) {
	return t.do(ctx, access, http.MethodGet, path, query, nil)
}

func (t *Transport) Post(ctx context.Context, access *domain.AccessContext, path string, query url.Values, body any) (json.RawMessage, error) {
	return t.do(ctx, access, http.MethodPost, path, query, body)
}

func (t *Transport) Put(ctx context.Context, access *domain.AccessContext, path string, query url.Values, body any) (json.RawMessage, error) {
	return t.do(ctx, access, http.MethodPut, path, query, body)
}

func (t *Transport) Delete(ctx context.Context, access *domain.AccessContext, path string, query url.Values, body any) (json.RawMessage, error) {
	return t.do(ctx, access, http.MethodDelete, path, query, body)
}

func (t *Transport) do(ctx context.Context, access *domain.AccessContext, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+access.Token)

	t.logger.Debug(ctx, "Provider request",
		"method", method,
		"path", path,
	)

	raw, err := t.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	return t.codec.Decode(raw, access.Credentials)
}

func (t *Transport) roundTrip(ctx context.Context, req *http.Request) (json.RawMessage, error) {
	start := time.Now()
	resp, err := t.http.Do(req)
	metrics.ProviderRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(req.Method, "error").Inc()
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.ProviderRequests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	t.logger.Debug(ctx, "Provider response",
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &domain.ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return json.RawMessage(body), nil
}
