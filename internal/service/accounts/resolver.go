// Package accounts resolves tenant and ad account references into the
// AccountContext every platform operation runs under.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/repo"
)

// Resolver turns a tenant id plus an optional sub-account reference into a
// full AccountContext.
type Resolver struct {
	tenants repo.TenantRepository
}

func NewResolver(tenants repo.TenantRepository) *Resolver {
	if tenants == nil {
		return nil
	}
	return &Resolver{tenants: tenants}
}

// Resolve builds the account context for one request. Legacy tenants resolve
// to themselves and any sub-account reference is ignored. For multi-account
// tenants the reference is matched against the tenant's ad accounts by
// internal id first, then by platform-native id; an unmatched reference fails
// closed rather than falling back to a default account. With no reference
// the first active account wins, then the earliest account, then not found.
func (r *Resolver) Resolve(ctx context.Context, tenantID, subAccountRef string) (domain.AccountContext, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.AccountContext{}, errors.New("tenant id is required")
	}

	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.AccountContext{}, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}

	if tenant.LegacyMode {
		return contextFor(tenant, domain.AdAccount{}), nil
	}

	accountList, err := r.tenants.ListAdAccounts(ctx, tenantID)
	if err != nil {
		return domain.AccountContext{}, fmt.Errorf("list ad accounts for tenant %s: %w", tenantID, err)
	}

	subAccountRef = strings.TrimSpace(subAccountRef)
	if subAccountRef != "" {
		for _, account := range accountList {
			if account.ID == subAccountRef || account.PlatformAccountID == subAccountRef {
				return contextFor(tenant, account), nil
			}
		}
		return domain.AccountContext{}, fmt.Errorf("ad account %s: %w", subAccountRef, repo.ErrNotFound)
	}

	account, err := defaultAccount(accountList)
	if err != nil {
		return domain.AccountContext{}, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	return contextFor(tenant, account), nil
}

// ResolveStored rebuilds the context for a persisted experiment from its
// stored tenant and ad account ids. Check and delete paths use this so an ad
// account going inactive after start does not strand its experiments.
func (r *Resolver) ResolveStored(ctx context.Context, tenantID, adAccountID string) (domain.AccountContext, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.AccountContext{}, errors.New("tenant id is required")
	}

	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.AccountContext{}, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if tenant.LegacyMode {
		return contextFor(tenant, domain.AdAccount{}), nil
	}

	adAccountID = strings.TrimSpace(adAccountID)
	if adAccountID == "" {
		return domain.AccountContext{}, errors.New("stored ad account id is required for multi-account tenant")
	}

	accountList, err := r.tenants.ListAdAccounts(ctx, tenantID)
	if err != nil {
		return domain.AccountContext{}, fmt.Errorf("list ad accounts for tenant %s: %w", tenantID, err)
	}
	for _, account := range accountList {
		if account.ID == adAccountID {
			return contextFor(tenant, account), nil
		}
	}
	return domain.AccountContext{}, fmt.Errorf("ad account %s: %w", adAccountID, repo.ErrNotFound)
}

// defaultAccount prefers the first active account, then the earliest one.
// ListAdAccounts returns accounts ordered by creation time.
func defaultAccount(accountList []domain.AdAccount) (domain.AdAccount, error) {
	for _, account := range accountList {
		if account.Active {
			return account, nil
		}
	}
	if len(accountList) > 0 {
		return accountList[0], nil
	}
	return domain.AdAccount{}, fmt.Errorf("no ad accounts: %w", repo.ErrNotFound)
}

func contextFor(tenant domain.Tenant, account domain.AdAccount) domain.AccountContext {
	mode, err := domain.NormalizeObjectMode(string(tenant.ObjectMode))
	if err != nil {
		mode = domain.ObjectModeAPICreate
	}
	return domain.AccountContext{
		TenantID:          tenant.ID,
		AdAccountID:       account.ID,
		PlatformAccountID: account.PlatformAccountID,
		LegacyMode:        tenant.LegacyMode,
		ObjectMode:        mode,
		CredentialsHandle: tenant.CredentialsHandle,
	}
}
