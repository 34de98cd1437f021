package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlatformObjectMode selects how ad platform objects are provisioned for a
// tenant: created through the API per experiment, or reusing pre-provisioned
// shared ad sets.
type PlatformObjectMode string

const (
	ObjectModeAPICreate   PlatformObjectMode = "api_create"
	ObjectModeUseExisting PlatformObjectMode = "use_existing"
)

func NormalizeObjectMode(raw string) (PlatformObjectMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ObjectModeAPICreate):
		return ObjectModeAPICreate, nil
	case string(ObjectModeUseExisting):
		return ObjectModeUseExisting, nil
	default:
		return "", fmt.Errorf("unsupported platform object mode: %q", raw)
	}
}

// Tenant is an agency client. Legacy tenants address platform objects
// directly; multi-account tenants own one or more ad accounts.
type Tenant struct {
	ID                string
	Name              string
	LegacyMode        bool
	ObjectMode        PlatformObjectMode
	CredentialsHandle string
	CreatedAt         time.Time
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("tenant id is required")
	}
	if strings.TrimSpace(t.CredentialsHandle) == "" {
		return errors.New("tenant credentials handle is required")
	}
	if _, err := NormalizeObjectMode(string(t.ObjectMode)); err != nil {
		return err
	}
	return nil
}

// AdAccount is a sub-account of a multi-account tenant, mirrored from the ad
// platform.
type AdAccount struct {
	ID                string
	TenantID          string
	PlatformAccountID string
	Name              string
	Active            bool
	CreatedAt         time.Time
}

func (a AdAccount) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("ad account id is required")
	}
	if strings.TrimSpace(a.TenantID) == "" {
		return errors.New("ad account tenant id is required")
	}
	if strings.TrimSpace(a.PlatformAccountID) == "" {
		return errors.New("ad account platform id is required")
	}
	return nil
}

// AccountContext is the resolved addressing and credentials bundle for one
// request. It is produced once per operation and passed as a value; it is
// never persisted or re-derived mid-operation.
type AccountContext struct {
	TenantID          string
	AdAccountID       string
	PlatformAccountID string
	LegacyMode        bool
	ObjectMode        PlatformObjectMode
	CredentialsHandle string
}

// Key identifies the resolved account for cache lookups. It is derived from
// the resolution result, not from raw request parameters.
func (c AccountContext) Key() string {
	if c.LegacyMode {
		return c.TenantID
	}
	return c.TenantID + "/" + c.AdAccountID
}
