package bankinplay

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/internal/metrics"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// Provider job states. procesado and terminado are both terminal-success;
// erroneo is terminal-failure; anything else means the job is still running.
const (
	estadoProcesado = "procesado"
	estadoTerminado = "terminado"
	estadoErroneo   = "erroneo"
)

type JobState int

const (
	JobPending JobState = iota
	JobDone
	JobFailed
)

// StatusResult is the tri-state outcome of one status check.
type StatusResult struct {
	State       JobState
	Estado      string
	Description string
}

// Poller resolves asynchronous jobs on the synchronous path: fixed-interval
// status checks followed by a separate collect round-trip. The provider's
// own processing latency dominates, so there is no backoff; the caller
// bounds the wait through ctx.
type Poller struct {
	transport *Transport
	interval  time.Duration
	logger    *logger.Logger
}

func NewPoller(transport *Transport, interval time.Duration, log *logger.Logger) *Poller {
	return &Poller{
		transport: transport,
		interval:  interval,
		logger:    log,
	}
}

// CheckStatus issues a single status GET and classifies the reported state.
func (p *Poller) CheckStatus(ctx context.Context, access *domain.AccessContext, responseID string) (StatusResult, error) {
	metrics.PollIterations.Inc()

	raw, err := p.transport.Get(ctx, access, pathJobStatus+responseID, nil)
	if err != nil {
		return StatusResult{}, err
	}

	var status struct {
		Estado      string `json:"estado"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{Estado: status.Estado, Description: status.Description}
	switch status.Estado {
	case estadoProcesado, estadoTerminado:
		result.State = JobDone
	case estadoErroneo:
		result.State = JobFailed
	default:
		result.State = JobPending
	}
	return result, nil
}

// Await polls until the job reaches a terminal state, then collects and
// returns the result payload. An erroneo state fails immediately without a
// collect call. Cancel or deadline the context to abort a stuck job.
func (p *Poller) Await(ctx context.Context, access *domain.AccessContext, responseID string) (json.RawMessage, error) {
	ctx = logger.WithResponseID(ctx, responseID)

	for {
		status, err := p.CheckStatus(ctx, access, responseID)
		if err != nil {
			return nil, err
		}

		switch status.State {
		case JobDone:
			p.logger.Debug(ctx, "Job reached terminal state", "estado", status.Estado)
			return p.Collect(ctx, access, responseID)
		case JobFailed:
			p.logger.Warn(ctx, "Job failed at provider", "description", status.Description)
			return nil, &domain.JobFailedError{ResponseID: responseID, Description: status.Description}
		}

		p.logger.Debug(ctx, "Job still running", "estado", status.Estado)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Collect retrieves the final result payload. This is a distinct round-trip
// from the status check and must not be skipped even when the status call
// already reported terminado.
func (p *Poller) Collect(ctx context.Context, access *domain.AccessContext, responseID string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("responseId", responseID)
	return p.transport.Get(ctx, access, pathCollect, query)
}
