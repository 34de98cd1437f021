package domain

import (
	"errors"
	"strings"
	"time"
)

type CreativeStatus string

const (
	CreativeStatusDraft    CreativeStatus = "draft"
	CreativeStatusReady    CreativeStatus = "ready"
	CreativeStatusArchived CreativeStatus = "archived"
)

// Creative is one piece of ad content owned by a tenant. DirectionID groups
// creatives that target the same offer; an A/B test may only compare
// creatives of one direction.
type Creative struct {
	ID             string
	TenantID       string
	AdAccountID    string
	DirectionID    string
	Title          string
	AssetObjectKey string
	Status         CreativeStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c Creative) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("creative id is required")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("creative tenant id is required")
	}
	if strings.TrimSpace(c.AssetObjectKey) == "" {
		return errors.New("creative asset object key is required")
	}
	return nil
}
