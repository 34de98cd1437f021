package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/adlift-labs/adlift-go/internal/domain"
	"github.com/adlift-labs/adlift-go/internal/repo"
)

const experimentColumns = `experiment_id, tenant_id, ad_account_id, creative_id, campaign_id, adset_id, ad_id,
	objective, status, impression_limit, budget_cents, impressions, spend_cents, results,
	started_at, updated_at, completed_at`

type ExperimentStore struct {
	db DB
}

func NewExperimentStore(db DB) *ExperimentStore {
	if db == nil {
		return nil
	}
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) CreateExperiment(ctx context.Context, exp domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	startedAt := normalizeTime(exp.StartedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO experiments (
			experiment_id,
			tenant_id,
			ad_account_id,
			creative_id,
			campaign_id,
			adset_id,
			ad_id,
			objective,
			status,
			impression_limit,
			budget_cents,
			impressions,
			spend_cents,
			results,
			started_at,
			updated_at,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		strings.TrimSpace(exp.ID),
		strings.TrimSpace(exp.TenantID),
		nullIfEmpty(exp.AdAccountID),
		strings.TrimSpace(exp.CreativeID),
		nullIfEmpty(exp.CampaignID),
		nullIfEmpty(exp.AdSetID),
		nullIfEmpty(exp.AdID),
		nullIfEmpty(exp.Objective),
		string(exp.Status),
		exp.ImpressionLimit,
		exp.BudgetCents,
		exp.Metrics.Impressions,
		exp.Metrics.SpendCents,
		exp.Metrics.Results,
		startedAt,
		startedAt,
		nullTime(exp.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *ExperimentStore) GetExperimentByID(ctx context.Context, id string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Experiment{}, fmt.Errorf("experiment id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE experiment_id = $1`,
		id,
	)
	exp, err := scanExperiment(row.Scan)
	if err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	return exp, nil
}

func (s *ExperimentStore) ListExperimentsByStatus(ctx context.Context, status domain.ExperimentStatus, limit int) ([]domain.Experiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("experiment store not initialized")
	}
	if domain.NormalizeStatus(string(status)) == "" {
		return nil, fmt.Errorf("unsupported status: %q", status)
	}
	args := []any{string(status)}
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE status = $1 ORDER BY started_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	experiments := make([]domain.Experiment, 0)
	for rows.Next() {
		exp, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return experiments, nil
}

func (s *ExperimentStore) FindRunningExperiment(ctx context.Context, scope repo.Scope, creativeID string) (domain.Experiment, error) {
	return s.findByCreative(ctx, scope, creativeID, true)
}

func (s *ExperimentStore) FindExperimentByCreative(ctx context.Context, scope repo.Scope, creativeID string) (domain.Experiment, error) {
	return s.findByCreative(ctx, scope, creativeID, false)
}

func (s *ExperimentStore) findByCreative(ctx context.Context, scope repo.Scope, creativeID string, runningOnly bool) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	creativeID = strings.TrimSpace(creativeID)
	if creativeID == "" {
		return domain.Experiment{}, fmt.Errorf("creative id is required")
	}
	args := make([]any, 0, 4)
	scopeSQL, err := scopeClause(scope, &args)
	if err != nil {
		return domain.Experiment{}, err
	}
	args = append(args, creativeID)
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE ` + scopeSQL +
		fmt.Sprintf(" AND creative_id = $%d", len(args))
	if runningOnly {
		args = append(args, string(domain.StatusRunning))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY started_at DESC LIMIT 1"

	row := s.db.QueryRowContext(ctx, query, args...)
	exp, err := scanExperiment(row.Scan)
	if err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	return exp, nil
}

func (s *ExperimentStore) UpdateExperimentMetrics(ctx context.Context, id string, metrics domain.Metrics) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("experiment id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE experiments
		 SET impressions = $1, spend_cents = $2, results = $3, updated_at = $4
		 WHERE experiment_id = $5`,
		metrics.Impressions,
		metrics.SpendCents,
		metrics.Results,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update experiment metrics: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update experiment metrics: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// TransitionExperiment performs the forward-only status change as a
// conditional update so that overlapping check calls cannot both claim
// completion.
func (s *ExperimentStore) TransitionExperiment(ctx context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("experiment id is required")
	}
	if !domain.CanTransition(domain.StatusRunning, to) {
		return false, fmt.Errorf("unsupported transition to %q", to)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE experiments
		 SET status = $1, completed_at = $2, updated_at = $3
		 WHERE experiment_id = $4 AND status = $5`,
		string(to),
		nullTime(completedAt),
		time.Now().UTC(),
		id,
		string(domain.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("transition experiment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition experiment: %w", err)
	}
	return rows == 1, nil
}

func (s *ExperimentStore) DeleteExperiment(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("experiment id is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE experiment_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ExperimentStore) DeleteExperimentsByCreative(ctx context.Context, scope repo.Scope, creativeID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	creativeID = strings.TrimSpace(creativeID)
	if creativeID == "" {
		return fmt.Errorf("creative id is required")
	}
	args := make([]any, 0, 3)
	scopeSQL, err := scopeClause(scope, &args)
	if err != nil {
		return err
	}
	args = append(args, creativeID)
	_, err = s.db.ExecContext(
		ctx,
		`DELETE FROM experiments WHERE `+scopeSQL+fmt.Sprintf(" AND creative_id = $%d", len(args)),
		args...,
	)
	if err != nil {
		return fmt.Errorf("delete experiments by creative: %w", err)
	}
	return nil
}

func scanExperiment(scan func(dest ...any) error) (domain.Experiment, error) {
	var exp domain.Experiment
	var adAccountID sql.NullString
	var campaignID sql.NullString
	var adsetID sql.NullString
	var adID sql.NullString
	var objective sql.NullString
	var status string
	var completedAt sql.NullTime
	if err := scan(
		&exp.ID, &exp.TenantID, &adAccountID, &exp.CreativeID, &campaignID, &adsetID, &adID,
		&objective, &status, &exp.ImpressionLimit, &exp.BudgetCents,
		&exp.Metrics.Impressions, &exp.Metrics.SpendCents, &exp.Metrics.Results,
		&exp.StartedAt, &exp.UpdatedAt, &completedAt,
	); err != nil {
		return domain.Experiment{}, err
	}
	if adAccountID.Valid {
		exp.AdAccountID = adAccountID.String
	}
	if campaignID.Valid {
		exp.CampaignID = campaignID.String
	}
	if adsetID.Valid {
		exp.AdSetID = adsetID.String
	}
	if adID.Valid {
		exp.AdID = adID.String
	}
	if objective.Valid {
		exp.Objective = objective.String
	}
	exp.Status = domain.NormalizeStatus(status)
	exp.StartedAt = exp.StartedAt.UTC()
	exp.UpdatedAt = exp.UpdatedAt.UTC()
	if completedAt.Valid {
		done := completedAt.Time.UTC()
		exp.CompletedAt = &done
	}
	return exp, nil
}
