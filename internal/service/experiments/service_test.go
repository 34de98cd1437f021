package experiments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/adlift-labs/adlift-go/internal/budget"
	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/platform/adplatform"
	"github.com/adlift-labs/adlift-go/internal/platform/limits"
	"github.com/adlift-labs/adlift-go/internal/repo"
)

type fakeResolver struct {
	actx domain.AccountContext
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, _, _ string) (domain.AccountContext, error) {
	return f.actx, f.err
}

func (f *fakeResolver) ResolveStored(_ context.Context, _, _ string) (domain.AccountContext, error) {
	return f.actx, f.err
}

type fakeCreatives struct {
	creatives map[string]domain.Creative
}

func (f *fakeCreatives) GetCreative(_ context.Context, _, id string) (domain.Creative, error) {
	c, ok := f.creatives[id]
	if !ok {
		return domain.Creative{}, repo.ErrNotFound
	}
	return c, nil
}

func (f *fakeCreatives) ListCreativesByIDs(_ context.Context, _ string, ids []string) ([]domain.Creative, error) {
	var out []domain.Creative
	for _, id := range ids {
		if c, ok := f.creatives[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeExperimentRepo struct {
	experiments map[string]domain.Experiment
	claimDenied bool
}

func newFakeExperimentRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{experiments: make(map[string]domain.Experiment)}
}

func (f *fakeExperimentRepo) CreateExperiment(_ context.Context, exp domain.Experiment) error {
	f.experiments[exp.ID] = exp
	return nil
}

func (f *fakeExperimentRepo) GetExperimentByID(_ context.Context, id string) (domain.Experiment, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return domain.Experiment{}, repo.ErrNotFound
	}
	return exp, nil
}

func (f *fakeExperimentRepo) ListExperimentsByStatus(_ context.Context, status domain.ExperimentStatus, _ int) ([]domain.Experiment, error) {
	var out []domain.Experiment
	for _, exp := range f.experiments {
		if exp.Status == status {
			out = append(out, exp)
		}
	}
	return out, nil
}

func (f *fakeExperimentRepo) FindRunningExperiment(_ context.Context, _ repo.Scope, creativeID string) (domain.Experiment, error) {
	for _, exp := range f.experiments {
		if exp.CreativeID == creativeID && exp.Status == domain.StatusRunning {
			return exp, nil
		}
	}
	return domain.Experiment{}, repo.ErrNotFound
}

func (f *fakeExperimentRepo) FindExperimentByCreative(_ context.Context, _ repo.Scope, creativeID string) (domain.Experiment, error) {
	for _, exp := range f.experiments {
		if exp.CreativeID == creativeID {
			return exp, nil
		}
	}
	return domain.Experiment{}, repo.ErrNotFound
}

func (f *fakeExperimentRepo) UpdateExperimentMetrics(_ context.Context, id string, metrics domain.Metrics) error {
	exp, ok := f.experiments[id]
	if !ok {
		return repo.ErrNotFound
	}
	exp.Metrics = metrics
	f.experiments[id] = exp
	return nil
}

func (f *fakeExperimentRepo) TransitionExperiment(_ context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if f.claimDenied || exp.Status != domain.StatusRunning {
		return false, nil
	}
	exp.Status = to
	exp.CompletedAt = completedAt
	f.experiments[id] = exp
	return true, nil
}

func (f *fakeExperimentRepo) DeleteExperiment(_ context.Context, id string) error {
	delete(f.experiments, id)
	return nil
}

func (f *fakeExperimentRepo) DeleteExperimentsByCreative(_ context.Context, _ repo.Scope, creativeID string) error {
	for id, exp := range f.experiments {
		if exp.CreativeID == creativeID {
			delete(f.experiments, id)
		}
	}
	return nil
}

type fakeABRepo struct {
	experiments map[string]domain.ABExperiment
	items       map[string][]domain.ABExperimentItem
	claimDenied bool
}

func newFakeABRepo() *fakeABRepo {
	return &fakeABRepo{
		experiments: make(map[string]domain.ABExperiment),
		items:       make(map[string][]domain.ABExperimentItem),
	}
}

func (f *fakeABRepo) CreateABExperiment(_ context.Context, exp domain.ABExperiment, items []domain.ABExperimentItem) error {
	f.experiments[exp.ID] = exp
	f.items[exp.ID] = items
	return nil
}

func (f *fakeABRepo) GetABExperimentByID(_ context.Context, id string) (domain.ABExperiment, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return domain.ABExperiment{}, repo.ErrNotFound
	}
	return exp, nil
}

func (f *fakeABRepo) ListABItems(_ context.Context, experimentID string) ([]domain.ABExperimentItem, error) {
	return f.items[experimentID], nil
}

func (f *fakeABRepo) ListABExperimentsByStatus(_ context.Context, status domain.ExperimentStatus, _ int) ([]domain.ABExperiment, error) {
	var out []domain.ABExperiment
	for _, exp := range f.experiments {
		if exp.Status == status {
			out = append(out, exp)
		}
	}
	return out, nil
}

func (f *fakeABRepo) FindRunningABItem(_ context.Context, _ repo.Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error) {
	for id, items := range f.items {
		exp := f.experiments[id]
		if exp.Status != domain.StatusRunning {
			continue
		}
		for _, item := range items {
			if item.CreativeID == creativeID {
				return exp, item, nil
			}
		}
	}
	return domain.ABExperiment{}, domain.ABExperimentItem{}, repo.ErrNotFound
}

func (f *fakeABRepo) FindABItemByCreative(_ context.Context, _ repo.Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error) {
	for id, items := range f.items {
		for _, item := range items {
			if item.CreativeID == creativeID {
				return f.experiments[id], item, nil
			}
		}
	}
	return domain.ABExperiment{}, domain.ABExperimentItem{}, repo.ErrNotFound
}

func (f *fakeABRepo) UpdateABItemMetrics(_ context.Context, itemID string, metrics domain.Metrics) error {
	for expID, items := range f.items {
		for i, item := range items {
			if item.ID == itemID {
				items[i].Metrics = metrics
				f.items[expID] = items
				return nil
			}
		}
	}
	return repo.ErrNotFound
}

func (f *fakeABRepo) TransitionABExperiment(_ context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return false, repo.ErrNotFound
	}
	if f.claimDenied || exp.Status != domain.StatusRunning {
		return false, nil
	}
	exp.Status = to
	exp.CompletedAt = completedAt
	f.experiments[id] = exp
	return true, nil
}

func (f *fakeABRepo) DeleteABExperimentWithItems(_ context.Context, id string) error {
	delete(f.experiments, id)
	delete(f.items, id)
	return nil
}

func (f *fakeABRepo) DeleteABExperimentsByCreative(_ context.Context, _ repo.Scope, creativeID string) error {
	for id, items := range f.items {
		for _, item := range items {
			if item.CreativeID == creativeID {
				delete(f.experiments, id)
				delete(f.items, id)
				break
			}
		}
	}
	return nil
}

type fakePlatform struct {
	insights       map[string]domain.Metrics
	insightsErr    error
	provisionErr   error
	pauseErr       error
	deactivateErr  error
	pauseCalls     []string
	deactivateSets map[string][]string
	nextID         int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		insights:       make(map[string]domain.Metrics),
		deactivateSets: make(map[string][]string),
	}
}

func (f *fakePlatform) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakePlatform) ProvisionSingleTest(_ context.Context, _ domain.AccountContext, creative domain.Creative, _ string, _ budget.Split) (adplatform.SingleTestResult, error) {
	if f.provisionErr != nil {
		return adplatform.SingleTestResult{}, f.provisionErr
	}
	return adplatform.SingleTestResult{
		CampaignID: f.id("cmp"),
		AdSetID:    f.id("as"),
		AdID:       f.id("ad"),
	}, nil
}

func (f *fakePlatform) ProvisionABTest(_ context.Context, _ domain.AccountContext, creatives []domain.Creative, _ string, _ budget.Split) (adplatform.ABTestResult, error) {
	if f.provisionErr != nil {
		return adplatform.ABTestResult{}, f.provisionErr
	}
	result := adplatform.ABTestResult{CampaignID: f.id("cmp")}
	for _, creative := range creatives {
		result.Items = append(result.Items, adplatform.ABTestItem{
			CreativeID: creative.ID,
			AdSetID:    f.id("as"),
			AdID:       f.id("ad"),
		})
	}
	return result, nil
}

func (f *fakePlatform) Insights(_ context.Context, _ domain.AccountContext, adID string) (domain.Metrics, error) {
	if f.insightsErr != nil {
		return domain.Metrics{}, f.insightsErr
	}
	return f.insights[adID], nil
}

func (f *fakePlatform) Pause(_ context.Context, _ domain.AccountContext, objectID string) error {
	f.pauseCalls = append(f.pauseCalls, objectID)
	return f.pauseErr
}

func (f *fakePlatform) DeactivateSharedAdSetWithAds(_ context.Context, _ domain.AccountContext, adsetID string, adIDs []string) error {
	f.deactivateSets[adsetID] = append([]string(nil), adIDs...)
	return f.deactivateErr
}

type fakeAnalyzer struct {
	calls int
	err   error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _, _ string) error {
	f.calls++
	return f.err
}

type fixture struct {
	service     *Service
	resolver    *fakeResolver
	creatives   *fakeCreatives
	experiments *fakeExperimentRepo
	ab          *fakeABRepo
	platform    *fakePlatform
	analyzer    *fakeAnalyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resolver: &fakeResolver{actx: domain.AccountContext{
			TenantID:          "t1",
			AdAccountID:       "acct1",
			PlatformAccountID: "pa_1",
			ObjectMode:        domain.ObjectModeAPICreate,
			CredentialsHandle: "handle",
		}},
		creatives: &fakeCreatives{creatives: map[string]domain.Creative{
			"c1": {ID: "c1", TenantID: "t1", DirectionID: "d1", Title: "a", AssetObjectKey: "k1", Status: domain.CreativeStatusReady},
			"c2": {ID: "c2", TenantID: "t1", DirectionID: "d1", Title: "b", AssetObjectKey: "k2", Status: domain.CreativeStatusReady},
			"c3": {ID: "c3", TenantID: "t1", DirectionID: "d1", Title: "c", AssetObjectKey: "k3", Status: domain.CreativeStatusReady},
			"c4": {ID: "c4", TenantID: "t1", DirectionID: "d2", Title: "d", AssetObjectKey: "k4", Status: domain.CreativeStatusReady},
			"c5": {ID: "c5", TenantID: "t1", DirectionID: "d1", Title: "e", AssetObjectKey: "k5", Status: domain.CreativeStatusDraft},
		}},
		experiments: newFakeExperimentRepo(),
		ab:          newFakeABRepo(),
		platform:    newFakePlatform(),
		analyzer:    &fakeAnalyzer{},
	}
	f.service = NewService(Deps{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolver:      f.resolver,
		Creatives:     f.creatives,
		Experiments:   f.experiments,
		ABExperiments: f.ab,
		Platform:      f.platform,
		Analyzer:      f.analyzer,
		Limits:        limits.Default(),
		Now:           func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if f.service == nil {
		t.Fatal("NewService returned nil")
	}
	return f
}

func TestStartSingleAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:    "t1",
		CreativeIDs: []string{"c1"},
		Objective:   "traffic",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("items = %d", len(result.Items))
	}
	if result.Items[0].BudgetCents != 2000 || result.Items[0].ImpressionTarget != 1000 {
		t.Fatalf("item = %+v, want default budget and impressions", result.Items[0])
	}
	exp, err := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("persisted experiment missing: %v", err)
	}
	if exp.Status != domain.StatusRunning {
		t.Fatalf("status = %s", exp.Status)
	}
}

func TestStartABSplitsBudget(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:         "t1",
		CreativeIDs:      []string{"c1", "c2"},
		TotalBudgetCents: 2000,
		TotalImpressions: 1000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !result.AB || len(result.Items) != 2 {
		t.Fatalf("result = %+v", result)
	}
	var totalBudget int64
	for _, item := range result.Items {
		if item.BudgetCents != 1000 || item.ImpressionTarget != 500 {
			t.Fatalf("item = %+v, want 1000 cents and 500 impressions", item)
		}
		totalBudget += item.BudgetCents
	}
	if totalBudget > 2000 {
		t.Fatalf("allocated %d cents from a 2000 budget", totalBudget)
	}
}

func TestStartSplitNeverExceedsBudget(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:         "t1",
		CreativeIDs:      []string{"c1", "c2", "c3"},
		TotalBudgetCents: 1000,
		TotalImpressions: 1000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var total int64
	for _, item := range result.Items {
		total += item.BudgetCents
	}
	if total != 999 {
		t.Fatalf("allocated %d cents, want 3*333 with the remainder unspent", total)
	}
}

func TestStartConflictWithoutForce(t *testing.T) {
	f := newFixture(t)
	first, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err = f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	conflict, ok := AsConflictError(err)
	if !ok {
		t.Fatalf("err = %v, want conflict", err)
	}
	if len(conflict.ExperimentIDs) != 1 || conflict.ExperimentIDs[0] != first.ExperimentID {
		t.Fatalf("conflict ids = %v", conflict.ExperimentIDs)
	}
	if len(f.experiments.experiments) != 1 {
		t.Fatalf("record count = %d, want no new record on conflict", len(f.experiments.experiments))
	}
}

func TestStartForceReplacesPriorRecords(t *testing.T) {
	f := newFixture(t)
	first, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, Force: true})
	if err != nil {
		t.Fatalf("forced Start: %v", err)
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), first.ExperimentID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("prior record still present: %v", err)
	}
	if len(f.experiments.experiments) != 1 {
		t.Fatalf("record count = %d, want exactly one running record", len(f.experiments.experiments))
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), second.ExperimentID); err != nil {
		t.Fatalf("new record missing: %v", err)
	}
}

func TestStartForcePausesSupersededRun(t *testing.T) {
	f := newFixture(t)
	first, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if _, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, Force: true}); err != nil {
		t.Fatalf("forced Start: %v", err)
	}
	if len(f.platform.pauseCalls) != 1 || f.platform.pauseCalls[0] != first.CampaignID {
		t.Fatalf("pause calls = %v, want the superseded campaign paused", f.platform.pauseCalls)
	}
}

func TestStartForcePauseFailureStillReplaces(t *testing.T) {
	f := newFixture(t)
	first, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	f.platform.pauseErr = errors.New("platform unreachable")

	second, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, Force: true})
	if err != nil {
		t.Fatalf("forced Start: %v", err)
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), first.ExperimentID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("prior record still present: %v", err)
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), second.ExperimentID); err != nil {
		t.Fatalf("new record missing: %v", err)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  StartRequest
	}{
		{"no creatives", StartRequest{TenantID: "t1"}},
		{"budget below range", StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, TotalBudgetCents: 499}},
		{"budget above range", StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, TotalBudgetCents: 10001}},
		{"impressions below range", StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}, TotalImpressions: 99}},
		{"draft creative", StartRequest{TenantID: "t1", CreativeIDs: []string{"c5"}}},
		{"mixed directions", StartRequest{TenantID: "t1", CreativeIDs: []string{"c1", "c4"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Start(context.Background(), tc.req)
			if _, ok := AsValidationError(err); !ok {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
	if len(f.experiments.experiments)+len(f.ab.experiments) != 0 {
		t.Fatal("validation failures must not persist records")
	}
}

func TestStartUnknownCreativeIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"missing"}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestStartPlatformFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.platform.provisionErr = &adplatform.Error{StatusCode: 400, Code: "invalid_creative", CreativeID: "c2"}

	_, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1", "c2"}})
	platformErr, ok := adplatform.AsError(err)
	if !ok {
		t.Fatalf("err = %v, want platform error", err)
	}
	if platformErr.CreativeID != "c2" {
		t.Fatalf("creative id = %q", platformErr.CreativeID)
	}
	if len(f.experiments.experiments)+len(f.ab.experiments) != 0 {
		t.Fatal("platform failure must not persist records")
	}
}

func TestCheckSingleCompletesAndAnalyzes(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	adID := result.Items[0].AdID
	f.platform.insights[adID] = domain.Metrics{Impressions: 1200, SpendCents: 1800, Results: 9}

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("expected completion at 1200 >= 1000")
	}
	if check.Analyzed == nil || !*check.Analyzed {
		t.Fatalf("analyzed = %v, want true", check.Analyzed)
	}
	if f.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d", f.analyzer.calls)
	}
	if len(f.platform.pauseCalls) != 1 {
		t.Fatalf("pause calls = %v, want the campaign paused once", f.platform.pauseCalls)
	}
	exp, _ := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	if exp.Status != domain.StatusCompleted || exp.CompletedAt == nil {
		t.Fatalf("experiment = %+v", exp)
	}
}

func TestCheckSingleBelowLimitStaysRunning(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 999}

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if check.Completed {
		t.Fatal("999 impressions must not complete a 1000 target")
	}
	exp, _ := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	if exp.Status != domain.StatusRunning {
		t.Fatalf("status = %s", exp.Status)
	}
	if exp.Metrics.Impressions != 999 {
		t.Fatalf("persisted impressions = %d", exp.Metrics.Impressions)
	}
}

func TestCheckABCompletesOnItemSum(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:         "t1",
		CreativeIDs:      []string{"c1", "c2"},
		TotalBudgetCents: 2000,
		TotalImpressions: 1000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 600}
	f.platform.insights[result.Items[1].AdID] = domain.Metrics{Impressions: 450}

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if check.TotalImpressions != 1050 {
		t.Fatalf("total impressions = %d", check.TotalImpressions)
	}
	if !check.Completed {
		t.Fatal("sum 1050 >= 2*500 must complete")
	}
	if f.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d", f.analyzer.calls)
	}
}

func TestCheckABSumBelowTargetDoesNotComplete(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:         "t1",
		CreativeIDs:      []string{"c1", "c2", "c3"},
		TotalBudgetCents: 9000,
		TotalImpressions: 3000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, item := range result.Items {
		f.platform.insights[item.AdID] = domain.Metrics{Impressions: 999}
	}
	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if check.Completed {
		t.Fatal("(999,999,999) must not reach the 3000 target")
	}

	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 1200}
	f.platform.insights[result.Items[1].AdID] = domain.Metrics{Impressions: 1200}
	f.platform.insights[result.Items[2].AdID] = domain.Metrics{Impressions: 600}
	check, err = f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("(1200,1200,600) must reach the 3000 target")
	}
}

func TestCheckIdempotentOnCompleted(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 5000}
	if _, err := f.service.Check(context.Background(), result.ExperimentID); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	exp, _ := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	firstCompletedAt := *exp.CompletedAt

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("completed experiment must report completed")
	}
	if check.Analyzed != nil {
		t.Fatal("repeat check must not report an analysis outcome")
	}
	if f.analyzer.calls != 1 {
		t.Fatalf("analyzer calls = %d, want no re-trigger", f.analyzer.calls)
	}
	exp, _ = f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	if !exp.CompletedAt.Equal(firstCompletedAt) {
		t.Fatal("completedAt changed on repeat check")
	}
}

func TestCheckOnlyClaimWinnerAnalyzes(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 5000}
	f.experiments.claimDenied = true

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("threshold reached, expected completed")
	}
	if check.Analyzed != nil {
		t.Fatal("losing the claim must not report an analysis outcome")
	}
	if f.analyzer.calls != 0 {
		t.Fatalf("analyzer calls = %d, want none without the claim", f.analyzer.calls)
	}
}

func TestCompletionAnalysisFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.New("analysis down")
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 5000}

	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("expected completed")
	}
	if check.Analyzed == nil || *check.Analyzed {
		t.Fatalf("analyzed = %v, want false", check.Analyzed)
	}
	exp, _ := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID)
	if exp.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, analysis failure must never revert completion", exp.Status)
	}
}

func TestCompletionUsesSharedAdSetStrategy(t *testing.T) {
	f := newFixture(t)
	f.resolver.actx.ObjectMode = domain.ObjectModeUseExisting
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.insights[result.Items[0].AdID] = domain.Metrics{Impressions: 5000}

	if _, err := f.service.Check(context.Background(), result.ExperimentID); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(f.platform.pauseCalls) != 0 {
		t.Fatalf("pause calls = %v, want deactivation instead", f.platform.pauseCalls)
	}
	adIDs := f.platform.deactivateSets[result.Items[0].AdSetID]
	if len(adIDs) != 1 || adIDs[0] != result.Items[0].AdID {
		t.Fatalf("deactivated ads = %v, want exactly the stored ad", adIDs)
	}
}

func TestDeleteRemovesRecordWhenPauseFails(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.platform.pauseErr = errors.New("platform unreachable")

	if err := f.service.Delete(context.Background(), "t1", result.ExperimentID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("record still present after delete: %v", err)
	}
}

func TestDeleteABRemovesItems(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:    "t1",
		CreativeIDs: []string{"c1", "c2"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.service.Delete(context.Background(), "t1", result.ExperimentID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.ab.experiments) != 0 || len(f.ab.items) != 0 {
		t.Fatal("ab experiment and items must be removed together")
	}
}

func TestDeleteUnknownExperiment(t *testing.T) {
	f := newFixture(t)
	err := f.service.Delete(context.Background(), "t1", "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDeleteOtherTenantRecordIsNotFound(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = f.service.Delete(context.Background(), "other", result.ExperimentID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := f.experiments.GetExperimentByID(context.Background(), result.ExperimentID); err != nil {
		t.Fatalf("record must survive a cross-tenant delete: %v", err)
	}
}

func TestResults(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	view, err := f.service.Results(context.Background(), "t1", "", "c1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if view.ID != result.ExperimentID || view.CreativeID != "c1" {
		t.Fatalf("view = %+v", view)
	}

	if _, err := f.service.Results(context.Background(), "t1", "", "c3"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestResultsAfterABCompletion(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Start(context.Background(), StartRequest{
		TenantID:         "t1",
		CreativeIDs:      []string{"c1", "c2"},
		TotalBudgetCents: 2000,
		TotalImpressions: 1000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, item := range result.Items {
		f.platform.insights[item.AdID] = domain.Metrics{Impressions: 600}
	}
	check, err := f.service.Check(context.Background(), result.ExperimentID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !check.Completed {
		t.Fatal("expected completion before reading results")
	}

	view, err := f.service.Results(context.Background(), "t1", "", "c1")
	if err != nil {
		t.Fatalf("Results after completion: %v", err)
	}
	if view.ID != result.ExperimentID || !view.AB {
		t.Fatalf("view = %+v", view)
	}
	if view.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", view.Status)
	}
	if view.CreativeID != "c1" || view.Metrics.Impressions != 600 {
		t.Fatalf("view = %+v, want the c1 item's metrics", view)
	}
}

func TestListRunning(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c1"}}); err != nil {
		t.Fatalf("Start single: %v", err)
	}
	if _, err := f.service.Start(context.Background(), StartRequest{TenantID: "t1", CreativeIDs: []string{"c2", "c3"}}); err != nil {
		t.Fatalf("Start ab: %v", err)
	}

	views, err := f.service.ListRunning(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListRunning: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("running = %d, want one single and one ab entry", len(views))
	}
	var abSeen bool
	for _, view := range views {
		if view.AB {
			abSeen = true
		}
		if view.Status != domain.StatusRunning {
			t.Fatalf("status = %s", view.Status)
		}
	}
	if !abSeen {
		t.Fatal("ab experiment missing from running list")
	}
}
