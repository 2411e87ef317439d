package bankinplay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alquemyfin/bankinplay-connect/internal/domain"
)

// Company is a provider-side legal entity.
type Company struct {
	ID   json.Number `json:"id"`
	NIF  string      `json:"nif"`
	Name string      `json:"nombre"`
}

type bankAccount struct {
	ID     json.Number `json:"id"`
	Number string      `json:"cuentaCompleta"`
}

type card struct {
	ID         json.Number `json:"id"`
	Number     string      `json:"num_tarjeta"`
	CompanyNIF string      `json:"cif_sociedad"`
}

// Companies lists the legal entities visible to the tenant.
func (c *Client) Companies(ctx context.Context, access *domain.AccessContext) ([]Company, error) {
	raw, err := c.transport.Get(ctx, access, pathCompanies, nil)
	if err != nil {
		return nil, err
	}

	var companies []Company
	if err := json.Unmarshal(raw, &companies); err != nil {
		return nil, fmt.Errorf("decode companies: %w", err)
	}
	return companies, nil
}

// CompanyByNIF finds the provider company matching the tenant's tax id.
// Used by the connection test and by card resolution.
func (c *Client) CompanyByNIF(ctx context.Context, access *domain.AccessContext, nif string) (*Company, error) {
	companies, err := c.Companies(ctx, access)
	if err != nil {
		return nil, err
	}
	for i := range companies {
		if companies[i].NIF == nif {
			return &companies[i], nil
		}
	}
	return nil, domain.ErrCompanyNotFound
}

// ResolveAccount looks up the provider-side id of the configured bank
// account and stores it on the access context.
func (c *Client) ResolveAccount(ctx context.Context, access *domain.AccessContext, accountNumber string) error {
	raw, err := c.transport.Get(ctx, access, pathBankAccounts, nil)
	if err != nil {
		return err
	}

	var accounts []bankAccount
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return fmt.Errorf("decode bank accounts: %w", err)
	}

	wanted := sanitizeAccountNumber(accountNumber)
	for _, account := range accounts {
		if sanitizeAccountNumber(account.Number) == wanted {
			access.AccountID = account.ID.String()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, accountNumber)
}

// ResolveCard matches the configured card number and resolves the owning
// company, which card reads are scoped to.
func (c *Client) ResolveCard(ctx context.Context, access *domain.AccessContext, cardNumber string) error {
	raw, err := c.transport.Get(ctx, access, pathCards, nil)
	if err != nil {
		return err
	}

	var cards []card
	if err := json.Unmarshal(raw, &cards); err != nil {
		return fmt.Errorf("decode cards: %w", err)
	}

	wanted := sanitizeAccountNumber(cardNumber)
	for _, cd := range cards {
		if sanitizeAccountNumber(cd.Number) != wanted {
			continue
		}
		company, err := c.CompanyByNIF(ctx, access, cd.CompanyNIF)
		if err != nil {
			return fmt.Errorf("card %s: owning company %s: %w", cardNumber, cd.CompanyNIF, err)
		}
		access.CompanyID = company.ID.String()
		return nil
	}
	return fmt.Errorf("%w: card %s", domain.ErrAccountNotFound, cardNumber)
}
