package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adlift-labs/adlift-go/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// scopeClause appends tenant isolation predicates for the given scope.
// Legacy rows carry a NULL ad_account_id.
func scopeClause(scope repo.Scope, args *[]any) (string, error) {
	tenantID := strings.TrimSpace(scope.TenantID)
	if tenantID == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	*args = append(*args, tenantID)
	clause := fmt.Sprintf("tenant_id = $%d", len(*args))
	if scope.Legacy {
		return clause + " AND ad_account_id IS NULL", nil
	}
	accountID := strings.TrimSpace(scope.AdAccountID)
	if accountID == "" {
		return "", fmt.Errorf("ad account id is required for non-legacy scope")
	}
	*args = append(*args, accountID)
	return clause + fmt.Sprintf(" AND ad_account_id = $%d", len(*args)), nil
}
