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

const abExperimentColumns = `experiment_id, tenant_id, ad_account_id, campaign_id, status,
	creatives_count, impressions_per_creative, budget_per_creative_cents,
	started_at, updated_at, completed_at`

const abItemColumns = `item_id, experiment_id, creative_id, adset_id, ad_id, impressions, spend_cents, results`

// TxBeginner is satisfied by *sql.DB. Stores constructed over a transaction
// or a fake run multi-statement operations without a nested transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type ABExperimentStore struct {
	db DB
}

func NewABExperimentStore(db DB) *ABExperimentStore {
	if db == nil {
		return nil
	}
	return &ABExperimentStore{db: db}
}

func (s *ABExperimentStore) CreateABExperiment(ctx context.Context, exp domain.ABExperiment, items []domain.ABExperimentItem) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ab experiment store not initialized")
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	if len(items) != exp.CreativesCount {
		return fmt.Errorf("item count %d does not match creatives count %d", len(items), exp.CreativesCount)
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
	}

	db := s.db
	var tx *sql.Tx
	if beginner, ok := s.db.(TxBeginner); ok {
		var err error
		tx, err = beginner.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		db = tx
	}

	startedAt := normalizeTime(exp.StartedAt)
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO ab_experiments (
			experiment_id,
			tenant_id,
			ad_account_id,
			campaign_id,
			status,
			creatives_count,
			impressions_per_creative,
			budget_per_creative_cents,
			started_at,
			updated_at,
			completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		strings.TrimSpace(exp.ID),
		strings.TrimSpace(exp.TenantID),
		nullIfEmpty(exp.AdAccountID),
		nullIfEmpty(exp.CampaignID),
		string(exp.Status),
		exp.CreativesCount,
		exp.ImpressionsPerCreative,
		exp.BudgetPerCreativeCents,
		startedAt,
		startedAt,
		nullTime(exp.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert ab experiment: %w", err)
	}

	for _, item := range items {
		_, err := db.ExecContext(
			ctx,
			`INSERT INTO ab_experiment_items (
				item_id,
				experiment_id,
				creative_id,
				adset_id,
				ad_id,
				impressions,
				spend_cents,
				results
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			strings.TrimSpace(item.ID),
			strings.TrimSpace(item.ExperimentID),
			strings.TrimSpace(item.CreativeID),
			nullIfEmpty(item.AdSetID),
			nullIfEmpty(item.AdID),
			item.Metrics.Impressions,
			item.Metrics.SpendCents,
			item.Metrics.Results,
		)
		if err != nil {
			return fmt.Errorf("insert ab item: %w", err)
		}
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}

func (s *ABExperimentStore) GetABExperimentByID(ctx context.Context, id string) (domain.ABExperiment, error) {
	if s == nil || s.db == nil {
		return domain.ABExperiment{}, fmt.Errorf("ab experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ABExperiment{}, fmt.Errorf("experiment id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+abExperimentColumns+` FROM ab_experiments WHERE experiment_id = $1`,
		id,
	)
	exp, err := scanABExperiment(row.Scan)
	if err != nil {
		return domain.ABExperiment{}, handleNotFound(err)
	}
	return exp, nil
}

func (s *ABExperimentStore) ListABItems(ctx context.Context, experimentID string) ([]domain.ABExperimentItem, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ab experiment store not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return nil, fmt.Errorf("experiment id is required")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+abItemColumns+` FROM ab_experiment_items WHERE experiment_id = $1 ORDER BY item_id ASC`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ab items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ABExperimentItem, 0)
	for rows.Next() {
		item, err := scanABItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan ab item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ab items: %w", err)
	}
	return items, nil
}

func (s *ABExperimentStore) ListABExperimentsByStatus(ctx context.Context, status domain.ExperimentStatus, limit int) ([]domain.ABExperiment, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ab experiment store not initialized")
	}
	if domain.NormalizeStatus(string(status)) == "" {
		return nil, fmt.Errorf("unsupported status: %q", status)
	}
	args := []any{string(status)}
	query := `SELECT ` + abExperimentColumns + ` FROM ab_experiments WHERE status = $1 ORDER BY started_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ab experiments: %w", err)
	}
	defer rows.Close()

	experiments := make([]domain.ABExperiment, 0)
	for rows.Next() {
		exp, err := scanABExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan ab experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ab experiments: %w", err)
	}
	return experiments, nil
}

func (s *ABExperimentStore) FindRunningABItem(ctx context.Context, scope repo.Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error) {
	return s.findItemByCreative(ctx, scope, creativeID, true)
}

func (s *ABExperimentStore) FindABItemByCreative(ctx context.Context, scope repo.Scope, creativeID string) (domain.ABExperiment, domain.ABExperimentItem, error) {
	return s.findItemByCreative(ctx, scope, creativeID, false)
}

func (s *ABExperimentStore) findItemByCreative(ctx context.Context, scope repo.Scope, creativeID string, runningOnly bool) (domain.ABExperiment, domain.ABExperimentItem, error) {
	if s == nil || s.db == nil {
		return domain.ABExperiment{}, domain.ABExperimentItem{}, fmt.Errorf("ab experiment store not initialized")
	}
	creativeID = strings.TrimSpace(creativeID)
	if creativeID == "" {
		return domain.ABExperiment{}, domain.ABExperimentItem{}, fmt.Errorf("creative id is required")
	}
	args := make([]any, 0, 4)
	scopeSQL, err := scopeClause(scope, &args)
	if err != nil {
		return domain.ABExperiment{}, domain.ABExperimentItem{}, err
	}
	args = append(args, creativeID)
	where := scopedAB(scopeSQL) + fmt.Sprintf(" AND i.creative_id = $%d", len(args))
	if runningOnly {
		args = append(args, string(domain.StatusRunning))
		where += fmt.Sprintf(" AND e.status = $%d", len(args))
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT e.experiment_id, e.tenant_id, e.ad_account_id, e.campaign_id, e.status,
			e.creatives_count, e.impressions_per_creative, e.budget_per_creative_cents,
			e.started_at, e.updated_at, e.completed_at,
			i.item_id, i.experiment_id, i.creative_id, i.adset_id, i.ad_id, i.impressions, i.spend_cents, i.results
		 FROM ab_experiments e
		 JOIN ab_experiment_items i ON i.experiment_id = e.experiment_id
		 WHERE `+where+`
		 ORDER BY e.started_at DESC
		 LIMIT 1`,
		args...,
	)

	var exp domain.ABExperiment
	var item domain.ABExperimentItem
	var adAccountID, campaignID sql.NullString
	var status string
	var completedAt sql.NullTime
	var adsetID, adID sql.NullString
	if err := row.Scan(
		&exp.ID, &exp.TenantID, &adAccountID, &campaignID, &status,
		&exp.CreativesCount, &exp.ImpressionsPerCreative, &exp.BudgetPerCreativeCents,
		&exp.StartedAt, &exp.UpdatedAt, &completedAt,
		&item.ID, &item.ExperimentID, &item.CreativeID, &adsetID, &adID,
		&item.Metrics.Impressions, &item.Metrics.SpendCents, &item.Metrics.Results,
	); err != nil {
		return domain.ABExperiment{}, domain.ABExperimentItem{}, handleNotFound(err)
	}
	if adAccountID.Valid {
		exp.AdAccountID = adAccountID.String
	}
	if campaignID.Valid {
		exp.CampaignID = campaignID.String
	}
	if adsetID.Valid {
		item.AdSetID = adsetID.String
	}
	if adID.Valid {
		item.AdID = adID.String
	}
	exp.Status = domain.NormalizeStatus(status)
	exp.StartedAt = exp.StartedAt.UTC()
	exp.UpdatedAt = exp.UpdatedAt.UTC()
	if completedAt.Valid {
		done := completedAt.Time.UTC()
		exp.CompletedAt = &done
	}
	return exp, item, nil
}

func (s *ABExperimentStore) UpdateABItemMetrics(ctx context.Context, itemID string, metrics domain.Metrics) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ab experiment store not initialized")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("item id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE ab_experiment_items
		 SET impressions = $1, spend_cents = $2, results = $3
		 WHERE item_id = $4`,
		metrics.Impressions,
		metrics.SpendCents,
		metrics.Results,
		itemID,
	)
	if err != nil {
		return fmt.Errorf("update ab item metrics: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ab item metrics: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ABExperimentStore) TransitionABExperiment(ctx context.Context, id string, to domain.ExperimentStatus, completedAt *time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("ab experiment store not initialized")
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
		`UPDATE ab_experiments
		 SET status = $1, completed_at = $2, updated_at = $3
		 WHERE experiment_id = $4 AND status = $5`,
		string(to),
		nullTime(completedAt),
		time.Now().UTC(),
		id,
		string(domain.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("transition ab experiment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition ab experiment: %w", err)
	}
	return rows == 1, nil
}

func (s *ABExperimentStore) DeleteABExperimentWithItems(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ab experiment store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("experiment id is required")
	}

	db := s.db
	var tx *sql.Tx
	if beginner, ok := s.db.(TxBeginner); ok {
		var err error
		tx, err = beginner.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		db = tx
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM ab_experiment_items WHERE experiment_id = $1`, id); err != nil {
		return fmt.Errorf("delete ab items: %w", err)
	}
	res, err := db.ExecContext(ctx, `DELETE FROM ab_experiments WHERE experiment_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ab experiment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ab experiment: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}

func (s *ABExperimentStore) DeleteABExperimentsByCreative(ctx context.Context, scope repo.Scope, creativeID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ab experiment store not initialized")
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

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT e.experiment_id FROM ab_experiments e
		 JOIN ab_experiment_items i ON i.experiment_id = e.experiment_id
		 WHERE `+scopedAB(scopeSQL)+fmt.Sprintf(" AND i.creative_id = $%d", len(args)),
		args...,
	)
	if err != nil {
		return fmt.Errorf("find ab experiments by creative: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan ab experiment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("find ab experiments by creative: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.DeleteABExperimentWithItems(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// scopedAB qualifies a scope clause for the aliased ab_experiments table.
func scopedAB(scopeSQL string) string {
	out := strings.ReplaceAll(scopeSQL, "tenant_id", "e.tenant_id")
	return strings.ReplaceAll(out, "ad_account_id", "e.ad_account_id")
}

func scanABExperiment(scan func(dest ...any) error) (domain.ABExperiment, error) {
	var exp domain.ABExperiment
	var adAccountID, campaignID sql.NullString
	var status string
	var completedAt sql.NullTime
	if err := scan(
		&exp.ID, &exp.TenantID, &adAccountID, &campaignID, &status,
		&exp.CreativesCount, &exp.ImpressionsPerCreative, &exp.BudgetPerCreativeCents,
		&exp.StartedAt, &exp.UpdatedAt, &completedAt,
	); err != nil {
		return domain.ABExperiment{}, err
	}
	if adAccountID.Valid {
		exp.AdAccountID = adAccountID.String
	}
	if campaignID.Valid {
		exp.CampaignID = campaignID.String
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

func scanABItem(scan func(dest ...any) error) (domain.ABExperimentItem, error) {
	var item domain.ABExperimentItem
	var adsetID, adID sql.NullString
	if err := scan(
		&item.ID, &item.ExperimentID, &item.CreativeID, &adsetID, &adID,
		&item.Metrics.Impressions, &item.Metrics.SpendCents, &item.Metrics.Results,
	); err != nil {
		return domain.ABExperimentItem{}, err
	}
	if adsetID.Valid {
		item.AdSetID = adsetID.String
	}
	if adID.Valid {
		item.AdID = adID.String
	}
	return item, nil
}
