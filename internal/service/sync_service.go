package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alquemyfin/bankinplay-connect/internal/bankinplay"
	"github.com/alquemyfin/bankinplay-connect/internal/domain"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

const (
	ImportTypeIntraday = "intraday"
	ImportTypeClose    = "close"
)

type SyncOptions struct {
	ImportType    string
	IsCard        bool
	CardNumber    string
	AccountNumber string
}

// SyncService is the fetch entry point invoked by the scheduler and by the
// manual sync action. Each invocation runs a full session: login, identifier
// resolution, job submission and (on the polling path) result processing.
type SyncService struct {
	client *bankinplay.Client
	creds  domain.Credentials
	opts   SyncOptions
	logger *logger.Logger
}

func NewSyncService(client *bankinplay.Client, creds domain.Credentials, opts SyncOptions, log *logger.Logger) *SyncService {
	return &SyncService{
		client: client,
		creds:  creds,
		opts:   opts,
		logger: log,
	}
}

// FetchRange retrieves transactions for the date range. On callback
// delivery the returned submission is still pending; on the polling path
// the result has already been processed when this returns.
func (s *SyncService) FetchRange(ctx context.Context, since, until time.Time) (*domain.Submission, error) {
	s.logger.Info(ctx, "Starting transaction fetch",
		"date_since", since.Format("2006-01-02"),
		"date_until", until.Format("2006-01-02"),
		"import_type", s.opts.ImportType,
		"is_card", s.opts.IsCard,
	)

	access, err := s.client.Login(ctx, s.creds)
	if err != nil {
		return nil, fmt.Errorf("provider login: %w", err)
	}

	if s.opts.IsCard {
		if s.opts.CardNumber != "" {
			if err := s.client.ResolveCard(ctx, access, s.opts.CardNumber); err != nil {
				return nil, err
			}
		}
		return s.client.FetchCardTransactions(ctx, access, since, until)
	}

	if s.opts.AccountNumber != "" {
		if err := s.client.ResolveAccount(ctx, access, s.opts.AccountNumber); err != nil {
			return nil, err
		}
	}

	if s.opts.ImportType == ImportTypeIntraday {
		return s.client.FetchIntradayTransactions(ctx, access, since, until)
	}
	return s.client.FetchClosingTransactions(ctx, access, since, until)
}

// TestConnection logs in and verifies the tenant's company is visible at
// the provider.
func (s *SyncService) TestConnection(ctx context.Context, companyNIF string) (*bankinplay.Company, error) {
	access, err := s.client.Login(ctx, s.creds)
	if err != nil {
		return nil, err
	}
	if companyNIF == "" {
		return nil, nil
	}
	return s.client.CompanyByNIF(ctx, access, companyNIF)
}
