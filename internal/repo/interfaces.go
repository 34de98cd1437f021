package repo

import (
	"context"
	"errors"
	"time"

	"github.com/adlift-labs/adlift-go/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist within
	// the caller's scope.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert would violate the
	// one-running-experiment-per-creative rule.
	ErrConflict = errors.New("conflicting record exists")
)

// Scope restricts queries to one tenant and ad account. Legacy tenants have
// no ad account: their rows carry a NULL ad_account_id and the predicate
// branches on Legacy exactly once, here, never at call sites.
type Scope struct {
	TenantID    string
	AdAccountID string
	Legacy      bool
}

func ScopeFor(actx domain.AccountContext) Scope {
	return Scope{
		TenantID:    actx.TenantID,
		AdAccountID: actx.AdAccountID,
		Legacy:      actx.LegacyMode,
	}
}

// TenantRepository reads tenants and their ad accounts.
type TenantRepository interface {
	GetTenant(ctx context.Context, id string) (domain.Tenant, error)
	ListAdAccounts(ctx context.Context, tenantID string) ([]domain.AdAccount, error)
}

// CreativeRepository reads tenant creatives.
type CreativeRepository interface {
	GetCreative(ctx context.Context, tenantID, id string) (domain.Creative, error)
	ListCreativesByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Creative, error)
}

// ExperimentRepository manages single-creative test records.
type ExperimentRepository interface {
	CreateExperiment(ctx context.Context, exp domain.Experiment) error
	GetExperimentByID(ctx context.Context, id string) (domain.Experiment, error)
	ListExperimentsByStatus(ctx context.Context, status domain.ExperimentStatus, limit int) ([]domain.Experiment, error)
	FindRunningExperiment(ctx context.Context, scope Scope, creativeID string) (domain.Experiment, error)
	FindExperimentByCreative(ctx context.Context, scope Scope, creativeID string) (domain.Experiment, error)
	UpdateExperimentMetrics(ctx context.Context, id string, metrics domain.Metrics) error
	// TransitionExperiment applies a forward-only status change and reports
	// whether this call claimed the transition. A false result with a nil
	// error means another caller already moved the record out of running.
	TransitionExperiment(ctx context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error)
	DeleteExperiment(ctx context.Context, id string) error
	DeleteExperimentsByCreative(ctx context.Context, scope Scope, creativeID string) error
}

// ABExperimentRepository manages multi-creative test records and their items.
type ABExperimentRepository interface {
	CreateABExperiment(ctx context.Context, exp domain.ABExperiment, items []domain.ABExperimentItem) error
	GetABExperimentByID(ctx context.Context, id string) (domain.ABExperiment, error)
	ListABItems(ctx context.Context, experimentID string) ([]domain.ABExperimentItem, error)
	ListABExperimentsByStatus(ctx context.Context, status domain.ExperimentStatus, limit int) ([]domain.ABExperiment, error)
	FindRunningABItem(ctx context.Context, scope Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error)
	FindABItemByCreative(ctx context.Context, scope Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error)
	UpdateABItemMetrics(ctx context.Context, itemID string, metrics domain.Metrics) error
	TransitionABExperiment(ctx context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error)
	DeleteABExperimentWithItems(ctx context.Context, id string) error
	DeleteABExperimentsByCreative(ctx context.Context, scope Scope, creativeID string) error
}
