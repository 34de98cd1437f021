package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/repo"
)

type fakeTenants struct {
	tenant   domain.Tenant
	accounts []domain.AdAccount
	err      error
}

func (f *fakeTenants) GetTenant(_ context.Context, id string) (domain.Tenant, error) {
	if f.err != nil {
		return domain.Tenant{}, f.err
	}
	if f.tenant.ID != id {
		return domain.Tenant{}, repo.ErrNotFound
	}
	return f.tenant, nil
}

func (f *fakeTenants) ListAdAccounts(_ context.Context, _ string) ([]domain.AdAccount, error) {
	return f.accounts, nil
}

func multiTenant() domain.Tenant {
	return domain.Tenant{
		ID:                "t1",
		Name:              "Acme",
		ObjectMode:        domain.ObjectModeAPICreate,
		CredentialsHandle: "handle",
	}
}

func TestResolveLegacyIgnoresReference(t *testing.T) {
	tenants := &fakeTenants{tenant: domain.Tenant{
		ID:                "t1",
		LegacyMode:        true,
		ObjectMode:        domain.ObjectModeAPICreate,
		CredentialsHandle: "handle",
	}}
	resolver := NewResolver(tenants)

	actx, err := resolver.Resolve(context.Background(), "t1", "acct_ignored")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !actx.LegacyMode {
		t.Fatal("expected legacy context")
	}
	if actx.AdAccountID != "" {
		t.Fatalf("ad account id = %q, want empty", actx.AdAccountID)
	}
	if actx.Key() != "t1" {
		t.Fatalf("key = %q", actx.Key())
	}
}

func TestResolveMatchesInternalAndPlatformIDs(t *testing.T) {
	tenants := &fakeTenants{
		tenant: multiTenant(),
		accounts: []domain.AdAccount{
			{ID: "acct1", TenantID: "t1", PlatformAccountID: "pa_1", Active: true},
			{ID: "acct2", TenantID: "t1", PlatformAccountID: "pa_2", Active: true},
		},
	}
	resolver := NewResolver(tenants)

	actx, err := resolver.Resolve(context.Background(), "t1", "acct2")
	if err != nil {
		t.Fatalf("Resolve by internal id: %v", err)
	}
	if actx.PlatformAccountID != "pa_2" {
		t.Fatalf("platform id = %q", actx.PlatformAccountID)
	}

	actx, err = resolver.Resolve(context.Background(), "t1", "pa_1")
	if err != nil {
		t.Fatalf("Resolve by platform id: %v", err)
	}
	if actx.AdAccountID != "acct1" {
		t.Fatalf("ad account id = %q", actx.AdAccountID)
	}
}

func TestResolveUnmatchedReferenceFailsClosed(t *testing.T) {
	tenants := &fakeTenants{
		tenant: multiTenant(),
		accounts: []domain.AdAccount{
			{ID: "acct1", TenantID: "t1", PlatformAccountID: "pa_1", Active: true},
		},
	}
	resolver := NewResolver(tenants)

	_, err := resolver.Resolve(context.Background(), "t1", "nope")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResolveDefaultPrefersActiveThenEarliest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tenants := &fakeTenants{
		tenant: multiTenant(),
		accounts: []domain.AdAccount{
			{ID: "acct_old", TenantID: "t1", PlatformAccountID: "pa_old", Active: false, CreatedAt: base},
			{ID: "acct_new", TenantID: "t1", PlatformAccountID: "pa_new", Active: true, CreatedAt: base.Add(time.Hour)},
		},
	}
	resolver := NewResolver(tenants)

	actx, err := resolver.Resolve(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if actx.AdAccountID != "acct_new" {
		t.Fatalf("ad account id = %q, want the active account", actx.AdAccountID)
	}

	tenants.accounts[1].Active = false
	actx, err = resolver.Resolve(context.Background(), "t1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if actx.AdAccountID != "acct_old" {
		t.Fatalf("ad account id = %q, want the earliest account", actx.AdAccountID)
	}

	tenants.accounts = nil
	if _, err := resolver.Resolve(context.Background(), "t1", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResolveStored(t *testing.T) {
	tenants := &fakeTenants{
		tenant: multiTenant(),
		accounts: []domain.AdAccount{
			{ID: "acct1", TenantID: "t1", PlatformAccountID: "pa_1", Active: false},
		},
	}
	resolver := NewResolver(tenants)

	actx, err := resolver.ResolveStored(context.Background(), "t1", "acct1")
	if err != nil {
		t.Fatalf("ResolveStored: %v", err)
	}
	if actx.PlatformAccountID != "pa_1" {
		t.Fatalf("platform id = %q", actx.PlatformAccountID)
	}

	if _, err := resolver.ResolveStored(context.Background(), "t1", "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
