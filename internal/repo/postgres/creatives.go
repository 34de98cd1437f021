package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/adlift-labs/adlift-go/internal/domain"
)

type CreativeStore struct {
	db DB
}

func NewCreativeStore(db DB) *CreativeStore {
	if db == nil {
		return nil
	}
	return &CreativeStore{db: db}
}

func (s *CreativeStore) GetCreative(ctx context.Context, tenantID, id string) (domain.Creative, error) {
	if s == nil || s.db == nil {
		return domain.Creative{}, fmt.Errorf("creative store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	id = strings.TrimSpace(id)
	if tenantID == "" {
		return domain.Creative{}, fmt.Errorf("tenant id is required")
	}
	if id == "" {
		return domain.Creative{}, fmt.Errorf("creative id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT creative_id, tenant_id, ad_account_id, direction_id, title, asset_object_key, status, created_at, updated_at
		 FROM creatives
		 WHERE tenant_id = $1 AND creative_id = $2`,
		tenantID,
		id,
	)
	creative, err := scanCreative(row.Scan)
	if err != nil {
		return domain.Creative{}, handleNotFound(err)
	}
	return creative, nil
}

func (s *CreativeStore) ListCreativesByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Creative, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("creative store not initialized")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if len(ids) == 0 {
		return []domain.Creative{}, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, strings.TrimSpace(id))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT creative_id, tenant_id, ad_account_id, direction_id, title, asset_object_key, status, created_at, updated_at
		 FROM creatives
		 WHERE tenant_id = $1 AND creative_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list creatives: %w", err)
	}
	defer rows.Close()

	creatives := make([]domain.Creative, 0, len(ids))
	for rows.Next() {
		creative, err := scanCreative(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan creative: %w", err)
		}
		creatives = append(creatives, creative)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list creatives: %w", err)
	}
	return creatives, nil
}

func scanCreative(scan func(dest ...any) error) (domain.Creative, error) {
	var creative domain.Creative
	var adAccountID sql.NullString
	var directionID sql.NullString
	var status string
	if err := scan(&creative.ID, &creative.TenantID, &adAccountID, &directionID, &creative.Title, &creative.AssetObjectKey, &status, &creative.CreatedAt, &creative.UpdatedAt); err != nil {
		return domain.Creative{}, err
	}
	if adAccountID.Valid {
		creative.AdAccountID = adAccountID.String
	}
	if directionID.Valid {
		creative.DirectionID = directionID.String
	}
	creative.Status = domain.CreativeStatus(strings.ToLower(strings.TrimSpace(status)))
	creative.CreatedAt = creative.CreatedAt.UTC()
	creative.UpdatedAt = creative.UpdatedAt.UTC()
	return creative, nil
}
