package experiments

import (
	"context"

	"github.com/adlift-labs/adlift-go/internal/domain"
)

type finishParams struct {
	ExperimentID string
	TenantID     string
	CampaignID   string
	// AdSets maps each ad set id to the ads this experiment created in it.
	AdSets map[string][]string
}

// finishExperiment runs the completion trigger for a freshly completed
// experiment: pause platform delivery, then hand the experiment to the
// analysis service. The pause outcome is tracked but never gates the
// analysis call, and an analysis failure leaves the experiment completed
// with analyzed reported false; the status is never reverted.
func (s *Service) finishExperiment(ctx context.Context, actx domain.AccountContext, params finishParams) (analyzed bool) {
	paused := s.pauseForContext(ctx, actx, params.CampaignID, params.AdSets)
	if !paused {
		s.logger.WarnContext(ctx, "completion pause incomplete",
			"experiment_id", params.ExperimentID,
			"tenant_id", params.TenantID)
	}

	if err := s.analyzer.Analyze(ctx, params.TenantID, params.ExperimentID); err != nil {
		s.logger.ErrorContext(ctx, "analysis call failed",
			"experiment_id", params.ExperimentID,
			"tenant_id", params.TenantID,
			"error", err)
		return false
	}
	s.logger.InfoContext(ctx, "experiment analyzed",
		"experiment_id", params.ExperimentID,
		"tenant_id", params.TenantID,
		"paused", paused)
	return true
}

// pauseForContext applies the tenant's pause strategy. api_create tenants
// own their campaign outright, so pausing the campaign stops everything
// under it. use_existing tenants run ads inside shared ad sets: only the
// stored ads plus the shared ad set are deactivated, as one unit per ad set,
// so sibling ads owned by other systems are untouched.
func (s *Service) pauseForContext(ctx context.Context, actx domain.AccountContext, campaignID string, adSets map[string][]string) bool {
	ok := true
	if actx.ObjectMode == domain.ObjectModeUseExisting {
		for adsetID, adIDs := range adSets {
			if err := s.platform.DeactivateSharedAdSetWithAds(ctx, actx, adsetID, adIDs); err != nil {
				s.logger.WarnContext(ctx, "shared ad set deactivation failed",
					"adset_id", adsetID,
					"error", err)
				ok = false
			}
		}
		return ok
	}
	if err := s.platform.Pause(ctx, actx, campaignID); err != nil {
		s.logger.WarnContext(ctx, "campaign pause failed",
			"campaign_id", campaignID,
			"error", err)
		ok = false
	}
	return ok
}

// pauseObjects is the best-effort pause used by Delete. Context resolution
// failure is itself non-fatal: the record is removed regardless.
func (s *Service) pauseObjects(ctx context.Context, tenantID, adAccountID, campaignID string, adSets map[string][]string) {
	actx, err := s.storedContext(ctx, tenantID, adAccountID)
	if err != nil {
		s.logger.WarnContext(ctx, "context resolution failed before pause",
			"tenant_id", tenantID,
			"error", err)
		return
	}
	s.pauseForContext(ctx, actx, campaignID, adSets)
}
