package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/adlift-labs/adlift-go/internal/domain"
)

type TenantStore struct {
	db DB
}

func NewTenantStore(db DB) *TenantStore {
	if db == nil {
		return nil
	}
	return &TenantStore{db: db}
}

func (s *TenantStore) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	if s == nil || s.db == nil {
		return domain.Tenant{}, fmt.Errorf("tenant store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Tenant{}, fmt.Errorf("tenant id is required")
	}
	var tenant domain.Tenant
	var objectMode string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT tenant_id, name, legacy_mode, platform_object_mode, credentials_handle, created_at
		 FROM tenants
		 WHERE tenant_id = $1`,
		id,
	)
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.LegacyMode, &objectMode, &tenant.CredentialsHandle, &tenant.CreatedAt); err != nil {
		return domain.Tenant{}, handleNotFound(err)
	}
	mode, err := domain.NormalizeObjectMode(objectMode)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("tenant %s: %w", id, err)
	}
	tenant.ObjectMode = mode
	tenant.CreatedAt = tenant.CreatedAt.UTC()
	return tenant, nil
}

func (s *TenantStore) ListAdAccounts(ctx context.Context, tenantID string) ([]domain.AdAccount, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("tenant store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT account_id, tenant_id, platform_account_id, name, active, created_at
		 FROM ad_accounts
		 WHERE tenant_id = $1
		 ORDER BY created_at ASC, account_id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ad accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.AdAccount, 0)
	for rows.Next() {
		var account domain.AdAccount
		if err := rows.Scan(&account.ID, &account.TenantID, &account.PlatformAccountID, &account.Name, &account.Active, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ad account: %w", err)
		}
		account.CreatedAt = account.CreatedAt.UTC()
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ad accounts: %w", err)
	}
	return accounts, nil
}
