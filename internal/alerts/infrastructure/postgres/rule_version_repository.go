package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "landslide-cloud/internal/alerts/domain"
)

const (
	defaultRulesTable    = "alert_rules"
	defaultVersionsTable = "alert_rule_versions"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RuleVersionRepository reads immutable rule versions.
type RuleVersionRepository struct {
	db            DBTX
	rulesTable    string
	versionsTable string
}

// Option configures the repository.
type Option func(*RuleVersionRepository)

// WithTables overrides the default table names.
func WithTables(rules, versions string) Option {
	return func(repo *RuleVersionRepository) {
		if rules != "" {
			repo.rulesTable = rules
		}
		if versions != "" {
			repo.versionsTable = versions
		}
	}
}

// NewRuleVersionRepository constructs a repository.
func NewRuleVersionRepository(db DBTX, opts ...Option) *RuleVersionRepository {
	repo := &RuleVersionRepository{db: db, rulesTable: defaultRulesTable, versionsTable: defaultVersionsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

var _ alerts.RuleVersionRepository = (*RuleVersionRepository)(nil)

// GetVersion loads one version of a rule. Versions of deleted rules are not returned.
func (r *RuleVersionRepository) GetVersion(ctx context.Context, ruleID string, version int) (*alerts.RuleVersion, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule version repo: nil db")
	}
	if ruleID == "" || version <= 0 {
		return nil, errors.New("rule version repo: invalid query")
	}

	query := fmt.Sprintf(`
SELECT v.rule_id::text, v.rule_version, v.dsl_json::text, v.created_at
FROM %s v
JOIN %s r ON r.rule_id = v.rule_id
WHERE v.rule_id = $1 AND v.rule_version = $2
LIMIT 1`, r.versionsTable, r.rulesTable)

	var (
		out      alerts.RuleVersion
		document string
	)
	if err := r.db.QueryRowContext(ctx, query, ruleID, version).Scan(
		&out.RuleID,
		&out.Version,
		&document,
		&out.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.Document = []byte(document)
	out.CreatedAt = out.CreatedAt.UTC()
	return &out, nil
}

// SaveVersion stores a new version, creating the rule row if needed.
// Existing versions are never overwritten.
func (r *RuleVersionRepository) SaveVersion(ctx context.Context, version *alerts.RuleVersion) error {
	if r == nil || r.db == nil {
		return errors.New("rule version repo: nil db")
	}
	if version == nil || version.RuleID == "" || version.Version <= 0 || len(version.Document) == 0 {
		return errors.New("rule version repo: invalid version")
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (rule_id, created_at)
VALUES ($1, $2)
ON CONFLICT (rule_id) DO NOTHING`, r.rulesTable), version.RuleID, version.CreatedAt); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (rule_id, rule_version, dsl_json, created_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (rule_id, rule_version) DO NOTHING`, r.versionsTable),
		version.RuleID, version.Version, string(version.Document), version.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule version repo: version %d of %s already exists", version.Version, version.RuleID)
	}
	return nil
}
