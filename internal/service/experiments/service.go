// Package experiments drives the experiment lifecycle: starting single and
// A/B creative tests, refreshing metrics on scheduler checks, completing,
// deleting and reporting results.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adlift-labs/adlift-go/internal/budget"
	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/platform/adplatform"
	"github.com/adlift-labs/adlift-go/internal/platform/cache"
	"github.com/adlift-labs/adlift-go/internal/platform/limits"
	"github.com/adlift-labs/adlift-go/internal/repo"
)

// ContextResolver resolves account contexts for incoming requests and for
// persisted records.
type ContextResolver interface {
	Resolve(ctx context.Context, tenantID, subAccountRef string) (domain.AccountContext, error)
	ResolveStored(ctx context.Context, tenantID, adAccountID string) (domain.AccountContext, error)
}

// Platform is the ad platform surface the lifecycle needs.
type Platform interface {
	ProvisionSingleTest(ctx context.Context, actx domain.AccountContext, creative domain.Creative, objective string, split budget.Split) (adplatform.SingleTestResult, error)
	ProvisionABTest(ctx context.Context, actx domain.AccountContext, creatives []domain.Creative, objective string, split budget.Split) (adplatform.ABTestResult, error)
	Insights(ctx context.Context, actx domain.AccountContext, adID string) (domain.Metrics, error)
	Pause(ctx context.Context, actx domain.AccountContext, objectID string) error
	DeactivateSharedAdSetWithAds(ctx context.Context, actx domain.AccountContext, adsetID string, adIDs []string) error
}

// Analyzer scores a finished experiment.
type Analyzer interface {
	Analyze(ctx context.Context, tenantID, experimentID string) error
}

type Deps struct {
	Logger        *slog.Logger
	Resolver      ContextResolver
	Creatives     repo.CreativeRepository
	Experiments   repo.ExperimentRepository
	ABExperiments repo.ABExperimentRepository
	Platform      Platform
	Analyzer      Analyzer
	Limits        limits.Spec
	Contexts      *cache.TTLCache
	Now           func() time.Time
}

type Service struct {
	logger        *slog.Logger
	resolver      ContextResolver
	creatives     repo.CreativeRepository
	experiments   repo.ExperimentRepository
	abExperiments repo.ABExperimentRepository
	platform      Platform
	analyzer      Analyzer
	limits        limits.Spec
	contexts      *cache.TTLCache
	now           func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Resolver == nil || deps.Creatives == nil || deps.Experiments == nil ||
		deps.ABExperiments == nil || deps.Platform == nil || deps.Analyzer == nil {
		return nil
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Contexts == nil {
		deps.Contexts = cache.New(time.Minute)
	}
	if err := deps.Limits.Validate(); err != nil {
		deps.Limits = limits.Default()
	}
	return &Service{
		logger:        deps.Logger,
		resolver:      deps.Resolver,
		creatives:     deps.Creatives,
		experiments:   deps.Experiments,
		abExperiments: deps.ABExperiments,
		platform:      deps.Platform,
		analyzer:      deps.Analyzer,
		limits:        deps.Limits,
		contexts:      deps.Contexts,
		now:           deps.Now,
	}
}

type StartRequest struct {
	TenantID         string
	SubAccountRef    string
	CreativeIDs      []string
	Objective        string
	TotalBudgetCents int64
	TotalImpressions int64
	Force            bool
}

type StartItem struct {
	CreativeID       string
	AdSetID          string
	AdID             string
	BudgetCents      int64
	ImpressionTarget int64
}

type StartResult struct {
	ExperimentID string
	CampaignID   string
	AB           bool
	Items        []StartItem
}

// Start validates, resolves, conflict-checks, splits, provisions and
// persists one experiment. A platform failure after the conflict check
// persists nothing.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	creativeIDs := normalizeIDs(req.CreativeIDs)
	if len(creativeIDs) == 0 {
		return StartResult{}, invalidf("at least one creative id is required")
	}
	if req.TotalBudgetCents == 0 {
		req.TotalBudgetCents = s.limits.DefaultBudgetCents
	}
	if req.TotalImpressions == 0 {
		req.TotalImpressions = s.limits.DefaultImpressions
	}
	if err := s.limits.CheckBudget(req.TotalBudgetCents); err != nil {
		return StartResult{}, &ValidationError{Reason: err.Error()}
	}
	if err := s.limits.CheckImpressions(req.TotalImpressions); err != nil {
		return StartResult{}, &ValidationError{Reason: err.Error()}
	}
	if len(creativeIDs) > 1 {
		if err := s.limits.CheckVariants(len(creativeIDs)); err != nil {
			return StartResult{}, &ValidationError{Reason: err.Error()}
		}
	}

	actx, err := s.resolver.Resolve(ctx, req.TenantID, req.SubAccountRef)
	if err != nil {
		return StartResult{}, err
	}

	creativeList, err := s.loadReadyCreatives(ctx, actx, creativeIDs)
	if err != nil {
		return StartResult{}, err
	}

	scope := repo.ScopeFor(actx)
	conflict, err := s.findConflicts(ctx, scope, creativeIDs)
	if err != nil {
		return StartResult{}, err
	}
	if conflict != nil {
		if !req.Force {
			return StartResult{}, conflict
		}
		s.pausePriorRuns(ctx, actx, scope, creativeIDs)
	}
	if req.Force {
		// Force also clears terminal records so results reflect the new run.
		if err := s.purgeCreativeRecords(ctx, scope, creativeIDs); err != nil {
			return StartResult{}, err
		}
	}

	split, err := budget.SplitEven(req.TotalBudgetCents, req.TotalImpressions, len(creativeList))
	if err != nil {
		return StartResult{}, invalidf("%v", err)
	}

	if len(creativeList) == 1 {
		return s.startSingle(ctx, actx, creativeList[0], req.Objective, split)
	}
	return s.startAB(ctx, actx, creativeList, req.Objective, split)
}

func (s *Service) startSingle(ctx context.Context, actx domain.AccountContext, creative domain.Creative, objective string, split budget.Split) (StartResult, error) {
	provisioned, err := s.platform.ProvisionSingleTest(ctx, actx, creative, objective, split)
	if err != nil {
		return StartResult{}, fmt.Errorf("provision single test: %w", err)
	}

	now := s.now().UTC()
	exp := domain.Experiment{
		ID:              uuid.NewString(),
		TenantID:        actx.TenantID,
		AdAccountID:     actx.AdAccountID,
		CreativeID:      creative.ID,
		CampaignID:      provisioned.CampaignID,
		AdSetID:         provisioned.AdSetID,
		AdID:            provisioned.AdID,
		Objective:       objective,
		Status:          domain.StatusRunning,
		ImpressionLimit: split.PerVariantImpressions,
		BudgetCents:     split.PerVariantBudgetCents,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.experiments.CreateExperiment(ctx, exp); err != nil {
		return StartResult{}, fmt.Errorf("persist experiment: %w", err)
	}

	s.logger.InfoContext(ctx, "experiment started",
		"experiment_id", exp.ID,
		"tenant_id", actx.TenantID,
		"creative_id", creative.ID,
		"campaign_id", exp.CampaignID)
	return StartResult{
		ExperimentID: exp.ID,
		CampaignID:   exp.CampaignID,
		Items: []StartItem{{
			CreativeID:       creative.ID,
			AdSetID:          exp.AdSetID,
			AdID:             exp.AdID,
			BudgetCents:      exp.BudgetCents,
			ImpressionTarget: exp.ImpressionLimit,
		}},
	}, nil
}

func (s *Service) startAB(ctx context.Context, actx domain.AccountContext, creativeList []domain.Creative, objective string, split budget.Split) (StartResult, error) {
	provisioned, err := s.platform.ProvisionABTest(ctx, actx, creativeList, objective, split)
	if err != nil {
		return StartResult{}, fmt.Errorf("provision ab test: %w", err)
	}

	now := s.now().UTC()
	exp := domain.ABExperiment{
		ID:                     uuid.NewString(),
		TenantID:               actx.TenantID,
		AdAccountID:            actx.AdAccountID,
		CampaignID:             provisioned.CampaignID,
		Status:                 domain.StatusRunning,
		CreativesCount:         len(creativeList),
		ImpressionsPerCreative: split.PerVariantImpressions,
		BudgetPerCreativeCents: split.PerVariantBudgetCents,
		StartedAt:              now,
		UpdatedAt:              now,
	}
	items := make([]domain.ABExperimentItem, 0, len(provisioned.Items))
	resultItems := make([]StartItem, 0, len(provisioned.Items))
	for _, item := range provisioned.Items {
		items = append(items, domain.ABExperimentItem{
			ID:           uuid.NewString(),
			ExperimentID: exp.ID,
			CreativeID:   item.CreativeID,
			AdSetID:      item.AdSetID,
			AdID:         item.AdID,
		})
		resultItems = append(resultItems, StartItem{
			CreativeID:       item.CreativeID,
			AdSetID:          item.AdSetID,
			AdID:             item.AdID,
			BudgetCents:      split.PerVariantBudgetCents,
			ImpressionTarget: split.PerVariantImpressions,
		})
	}
	if err := s.abExperiments.CreateABExperiment(ctx, exp, items); err != nil {
		return StartResult{}, fmt.Errorf("persist ab experiment: %w", err)
	}

	s.logger.InfoContext(ctx, "ab experiment started",
		"experiment_id", exp.ID,
		"tenant_id", actx.TenantID,
		"creatives_count", exp.CreativesCount,
		"campaign_id", exp.CampaignID)
	return StartResult{
		ExperimentID: exp.ID,
		CampaignID:   exp.CampaignID,
		AB:           true,
		Items:        resultItems,
	}, nil
}

// loadReadyCreatives fetches and vets the requested creatives: all must
// exist, be ready, and for multi-creative tests share one direction.
func (s *Service) loadReadyCreatives(ctx context.Context, actx domain.AccountContext, ids []string) ([]domain.Creative, error) {
	if len(ids) == 1 {
		c, err := s.creatives.GetCreative(ctx, actx.TenantID, ids[0])
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("creative %s: %w", ids[0], repo.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("load creative %s: %w", ids[0], err)
		}
		if c.Status != domain.CreativeStatusReady {
			return nil, invalidf("creative %s is %s, want ready", ids[0], c.Status)
		}
		return []domain.Creative{c}, nil
	}

	found, err := s.creatives.ListCreativesByIDs(ctx, actx.TenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load creatives: %w", err)
	}
	byID := make(map[string]domain.Creative, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	ordered := make([]domain.Creative, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("creative %s: %w", id, repo.ErrNotFound)
		}
		if c.Status != domain.CreativeStatusReady {
			return nil, invalidf("creative %s is %s, want ready", id, c.Status)
		}
		ordered = append(ordered, c)
	}

	if len(ordered) > 1 {
		direction := ordered[0].DirectionID
		for _, c := range ordered[1:] {
			if c.DirectionID != direction {
				return nil, invalidf("creatives span multiple directions")
			}
		}
	}
	return ordered, nil
}

// findConflicts collects running experiments for any of the creatives. The
// check covers both single and A/B records.
func (s *Service) findConflicts(ctx context.Context, scope repo.Scope, creativeIDs []string) (*ConflictError, error) {
	var conflict ConflictError
	seen := make(map[string]bool)
	for _, creativeID := range creativeIDs {
		exp, err := s.experiments.FindRunningExperiment(ctx, scope, creativeID)
		switch {
		case err == nil:
			if !seen[exp.ID] {
				seen[exp.ID] = true
				conflict.ExperimentIDs = append(conflict.ExperimentIDs, exp.ID)
			}
			conflict.CreativeIDs = append(conflict.CreativeIDs, creativeID)
			continue
		case !errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("conflict check for creative %s: %w", creativeID, err)
		}

		abExp, _, err := s.abExperiments.FindRunningABItem(ctx, scope, creativeID)
		switch {
		case err == nil:
			if !seen[abExp.ID] {
				seen[abExp.ID] = true
				conflict.ExperimentIDs = append(conflict.ExperimentIDs, abExp.ID)
			}
			conflict.CreativeIDs = append(conflict.CreativeIDs, creativeID)
		case !errors.Is(err, repo.ErrNotFound):
			return nil, fmt.Errorf("ab conflict check for creative %s: %w", creativeID, err)
		}
	}
	if len(conflict.CreativeIDs) == 0 {
		return nil, nil
	}
	return &conflict, nil
}

// pausePriorRuns pauses the platform objects of the running experiments a
// forced start is about to replace. Best-effort, like Delete: a pause
// failure never blocks the replacement.
func (s *Service) pausePriorRuns(ctx context.Context, actx domain.AccountContext, scope repo.Scope, creativeIDs []string) {
	seen := make(map[string]bool)
	for _, creativeID := range creativeIDs {
		exp, err := s.experiments.FindRunningExperiment(ctx, scope, creativeID)
		if err == nil && !seen[exp.ID] {
			seen[exp.ID] = true
			s.pauseForContext(ctx, actx, exp.CampaignID, map[string][]string{exp.AdSetID: {exp.AdID}})
		}

		abExp, _, err := s.abExperiments.FindRunningABItem(ctx, scope, creativeID)
		if err != nil || seen[abExp.ID] {
			continue
		}
		seen[abExp.ID] = true
		items, err := s.abExperiments.ListABItems(ctx, abExp.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "listing items of superseded experiment failed",
				"experiment_id", abExp.ID,
				"error", err)
			continue
		}
		adSets := make(map[string][]string)
		for _, item := range items {
			adSets[item.AdSetID] = append(adSets[item.AdSetID], item.AdID)
		}
		s.pauseForContext(ctx, actx, abExp.CampaignID, adSets)
	}
}

func (s *Service) purgeCreativeRecords(ctx context.Context, scope repo.Scope, creativeIDs []string) error {
	for _, creativeID := range creativeIDs {
		if err := s.experiments.DeleteExperimentsByCreative(ctx, scope, creativeID); err != nil {
			return fmt.Errorf("purge experiments for creative %s: %w", creativeID, err)
		}
		if err := s.abExperiments.DeleteABExperimentsByCreative(ctx, scope, creativeID); err != nil {
			return fmt.Errorf("purge ab experiments for creative %s: %w", creativeID, err)
		}
	}
	return nil
}

type CheckItem struct {
	CreativeID  string
	AdID        string
	Impressions int64
	SpendCents  int64
	Results     int64
}

type CheckResult struct {
	Completed        bool
	Analyzed         *bool
	TotalImpressions int64
	Items            []CheckItem
}

// Check refreshes metrics for one running experiment and completes it when
// the impression threshold is met. Metrics for every ad are fetched before
// the completion predicate runs. Only the caller that claims the
// running-to-completed transition fires the analysis trigger, so overlapping
// scheduler calls cannot analyze twice. Idempotent on terminal experiments.
func (s *Service) Check(ctx context.Context, experimentID string) (CheckResult, error) {
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return CheckResult{}, invalidf("experiment id is required")
	}

	exp, err := s.experiments.GetExperimentByID(ctx, experimentID)
	if err == nil {
		return s.checkSingle(ctx, exp)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return CheckResult{}, fmt.Errorf("get experiment %s: %w", experimentID, err)
	}

	abExp, err := s.abExperiments.GetABExperimentByID(ctx, experimentID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("get experiment %s: %w", experimentID, err)
	}
	return s.checkAB(ctx, abExp)
}

func (s *Service) checkSingle(ctx context.Context, exp domain.Experiment) (CheckResult, error) {
	if exp.Status.Terminal() {
		return CheckResult{
			Completed:        exp.Status == domain.StatusCompleted,
			TotalImpressions: exp.Metrics.Impressions,
			Items:            []CheckItem{singleCheckItem(exp)},
		}, nil
	}

	actx, err := s.storedContext(ctx, exp.TenantID, exp.AdAccountID)
	if err != nil {
		return CheckResult{}, err
	}

	metrics, err := s.platform.Insights(ctx, actx, exp.AdID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("fetch insights for ad %s: %w", exp.AdID, err)
	}
	if err := s.experiments.UpdateExperimentMetrics(ctx, exp.ID, metrics); err != nil {
		return CheckResult{}, fmt.Errorf("persist metrics: %w", err)
	}
	exp.Metrics = metrics

	result := CheckResult{
		TotalImpressions: metrics.Impressions,
		Items:            []CheckItem{singleCheckItem(exp)},
	}
	if !exp.Complete() {
		return result, nil
	}

	result.Completed = true
	completedAt := s.now().UTC()
	claimed, err := s.experiments.TransitionExperiment(ctx, exp.ID, domain.StatusCompleted, &completedAt)
	if err != nil {
		return CheckResult{}, fmt.Errorf("complete experiment: %w", err)
	}
	if claimed {
		analyzed := s.finishExperiment(ctx, actx, finishParams{
			ExperimentID: exp.ID,
			TenantID:     exp.TenantID,
			CampaignID:   exp.CampaignID,
			AdSets:       map[string][]string{exp.AdSetID: {exp.AdID}},
		})
		result.Analyzed = &analyzed
	}
	return result, nil
}

func (s *Service) checkAB(ctx context.Context, exp domain.ABExperiment) (CheckResult, error) {
	items, err := s.abExperiments.ListABItems(ctx, exp.ID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("list items for experiment %s: %w", exp.ID, err)
	}

	if exp.Status.Terminal() {
		result := CheckResult{Completed: exp.Status == domain.StatusCompleted}
		for _, item := range items {
			result.TotalImpressions += item.Metrics.Impressions
			result.Items = append(result.Items, abCheckItem(item))
		}
		return result, nil
	}

	actx, err := s.storedContext(ctx, exp.TenantID, exp.AdAccountID)
	if err != nil {
		return CheckResult{}, err
	}

	// Fetch every item's insights before evaluating completion so the
	// decision is made on one snapshot. A failed fetch keeps the item's
	// stored metrics and does not abort the rest of the batch.
	refreshed := make([]domain.ABExperimentItem, len(items))
	copy(refreshed, items)
	for i, item := range refreshed {
		metrics, err := s.platform.Insights(ctx, actx, item.AdID)
		if err != nil {
			s.logger.WarnContext(ctx, "insights fetch failed",
				"experiment_id", exp.ID,
				"creative_id", item.CreativeID,
				"ad_id", item.AdID,
				"error", err)
			continue
		}
		refreshed[i].Metrics = metrics
		if err := s.abExperiments.UpdateABItemMetrics(ctx, item.ID, metrics); err != nil {
			return CheckResult{}, fmt.Errorf("persist item metrics: %w", err)
		}
	}

	result := CheckResult{}
	for _, item := range refreshed {
		result.TotalImpressions += item.Metrics.Impressions
		result.Items = append(result.Items, abCheckItem(item))
	}
	if result.TotalImpressions < exp.ImpressionTarget() {
		return result, nil
	}

	result.Completed = true
	completedAt := s.now().UTC()
	claimed, err := s.abExperiments.TransitionABExperiment(ctx, exp.ID, domain.StatusCompleted, &completedAt)
	if err != nil {
		return CheckResult{}, fmt.Errorf("complete ab experiment: %w", err)
	}
	if claimed {
		adSets := make(map[string][]string)
		for _, item := range refreshed {
			adSets[item.AdSetID] = append(adSets[item.AdSetID], item.AdID)
		}
		analyzed := s.finishExperiment(ctx, actx, finishParams{
			ExperimentID: exp.ID,
			TenantID:     exp.TenantID,
			CampaignID:   exp.CampaignID,
			AdSets:       adSets,
		})
		result.Analyzed = &analyzed
	}
	return result, nil
}

// Delete pauses the experiment's platform objects best-effort and removes
// the record unconditionally. An unreachable platform never strands a
// record. A non-empty tenantID restricts deletion to that tenant's records.
func (s *Service) Delete(ctx context.Context, tenantID, experimentID string) error {
	tenantID = strings.TrimSpace(tenantID)
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return invalidf("experiment id is required")
	}

	exp, err := s.experiments.GetExperimentByID(ctx, experimentID)
	if err == nil {
		if tenantID != "" && exp.TenantID != tenantID {
			return fmt.Errorf("experiment %s: %w", experimentID, repo.ErrNotFound)
		}
		s.pauseObjects(ctx, exp.TenantID, exp.AdAccountID, exp.CampaignID, map[string][]string{exp.AdSetID: {exp.AdID}})
		if err := s.experiments.DeleteExperiment(ctx, exp.ID); err != nil {
			return fmt.Errorf("delete experiment %s: %w", exp.ID, err)
		}
		s.logger.InfoContext(ctx, "experiment deleted", "experiment_id", exp.ID, "tenant_id", exp.TenantID)
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("get experiment %s: %w", experimentID, err)
	}

	abExp, err := s.abExperiments.GetABExperimentByID(ctx, experimentID)
	if err != nil {
		return fmt.Errorf("get experiment %s: %w", experimentID, err)
	}
	if tenantID != "" && abExp.TenantID != tenantID {
		return fmt.Errorf("experiment %s: %w", experimentID, repo.ErrNotFound)
	}
	items, err := s.abExperiments.ListABItems(ctx, abExp.ID)
	if err != nil {
		return fmt.Errorf("list items for experiment %s: %w", abExp.ID, err)
	}
	adSets := make(map[string][]string)
	for _, item := range items {
		adSets[item.AdSetID] = append(adSets[item.AdSetID], item.AdID)
	}
	s.pauseObjects(ctx, abExp.TenantID, abExp.AdAccountID, abExp.CampaignID, adSets)
	if err := s.abExperiments.DeleteABExperimentWithItems(ctx, abExp.ID); err != nil {
		return fmt.Errorf("delete ab experiment %s: %w", abExp.ID, err)
	}
	s.logger.InfoContext(ctx, "ab experiment deleted", "experiment_id", abExp.ID, "tenant_id", abExp.TenantID)
	return nil
}

// ExperimentView is the read model returned by Results and ListRunning.
type ExperimentView struct {
	ID               string
	AB               bool
	TenantID         string
	AdAccountID      string
	CreativeID       string
	CampaignID       string
	AdSetID          string
	AdID             string
	Status           domain.ExperimentStatus
	ImpressionTarget int64
	Metrics          domain.Metrics
	StartedAt        time.Time
	CompletedAt      *time.Time
}

// Results returns the experiment covering one creative, most recent first by
// repository ordering: the single-test record if any, else the A/B test
// containing the creative, whatever its status.
func (s *Service) Results(ctx context.Context, tenantID, subAccountRef, creativeID string) (ExperimentView, error) {
	creativeID = strings.TrimSpace(creativeID)
	if creativeID == "" {
		return ExperimentView{}, invalidf("creative id is required")
	}

	actx, err := s.resolver.Resolve(ctx, tenantID, subAccountRef)
	if err != nil {
		return ExperimentView{}, err
	}
	scope := repo.ScopeFor(actx)

	exp, err := s.experiments.FindExperimentByCreative(ctx, scope, creativeID)
	if err == nil {
		return singleView(exp), nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return ExperimentView{}, fmt.Errorf("find experiment for creative %s: %w", creativeID, err)
	}

	abExp, item, err := s.abExperiments.FindABItemByCreative(ctx, scope, creativeID)
	if err != nil {
		return ExperimentView{}, fmt.Errorf("find ab experiment for creative %s: %w", creativeID, err)
	}
	return abItemView(abExp, item), nil
}

// ListRunning returns the running experiments of both kinds for the external
// scheduler. A/B tests contribute one entry per experiment, not per item.
func (s *Service) ListRunning(ctx context.Context, limit int) ([]ExperimentView, error) {
	singles, err := s.experiments.ListExperimentsByStatus(ctx, domain.StatusRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("list running experiments: %w", err)
	}
	abs, err := s.abExperiments.ListABExperimentsByStatus(ctx, domain.StatusRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("list running ab experiments: %w", err)
	}

	views := make([]ExperimentView, 0, len(singles)+len(abs))
	for _, exp := range singles {
		views = append(views, singleView(exp))
	}
	for _, exp := range abs {
		views = append(views, ExperimentView{
			ID:               exp.ID,
			AB:               true,
			TenantID:         exp.TenantID,
			AdAccountID:      exp.AdAccountID,
			CampaignID:       exp.CampaignID,
			Status:           exp.Status,
			ImpressionTarget: exp.ImpressionTarget(),
			StartedAt:        exp.StartedAt,
			CompletedAt:      exp.CompletedAt,
		})
	}
	return views, nil
}

// storedContext rebuilds the account context for a persisted record, cached
// by resolved identity to keep scheduler fan-out cheap.
func (s *Service) storedContext(ctx context.Context, tenantID, adAccountID string) (domain.AccountContext, error) {
	key := tenantID
	if adAccountID != "" {
		key = tenantID + "/" + adAccountID
	}
	if cached, ok := s.contexts.Get(key); ok {
		if actx, ok := cached.(domain.AccountContext); ok {
			return actx, nil
		}
	}
	actx, err := s.resolver.ResolveStored(ctx, tenantID, adAccountID)
	if err != nil {
		return domain.AccountContext{}, err
	}
	s.contexts.Set(actx.Key(), actx)
	return actx, nil
}

func singleCheckItem(exp domain.Experiment) CheckItem {
	return CheckItem{
		CreativeID:  exp.CreativeID,
		AdID:        exp.AdID,
		Impressions: exp.Metrics.Impressions,
		SpendCents:  exp.Metrics.SpendCents,
		Results:     exp.Metrics.Results,
	}
}

func abCheckItem(item domain.ABExperimentItem) CheckItem {
	return CheckItem{
		CreativeID:  item.CreativeID,
		AdID:        item.AdID,
		Impressions: item.Metrics.Impressions,
		SpendCents:  item.Metrics.SpendCents,
		Results:     item.Metrics.Results,
	}
}

func singleView(exp domain.Experiment) ExperimentView {
	return ExperimentView{
		ID:               exp.ID,
		TenantID:         exp.TenantID,
		AdAccountID:      exp.AdAccountID,
		CreativeID:       exp.CreativeID,
		CampaignID:       exp.CampaignID,
		AdSetID:          exp.AdSetID,
		AdID:             exp.AdID,
		Status:           exp.Status,
		ImpressionTarget: exp.ImpressionLimit,
		Metrics:          exp.Metrics,
		StartedAt:        exp.StartedAt,
		CompletedAt:      exp.CompletedAt,
	}
}

func abItemView(exp domain.ABExperiment, item domain.ABExperimentItem) ExperimentView {
	return ExperimentView{
		ID:               exp.ID,
		AB:               true,
		TenantID:         exp.TenantID,
		AdAccountID:      exp.AdAccountID,
		CreativeID:       item.CreativeID,
		CampaignID:       exp.CampaignID,
		AdSetID:          item.AdSetID,
		AdID:             item.AdID,
		Status:           exp.Status,
		ImpressionTarget: exp.ImpressionsPerCreative,
		Metrics:          item.Metrics,
		StartedAt:        exp.StartedAt,
		CompletedAt:      exp.CompletedAt,
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
