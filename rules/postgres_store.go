package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Conditions and actions are stored as JSONB documents.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

const ruleColumns = `id, name, trigger_event, active, conditions, actions, created_at, updated_at`

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND tenant_id = $2)
	`, rule.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	conditions, actions, err := encodeRuleBody(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, tenant_id, name, trigger_event, active, conditions, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, s.tenantID, rule.Name, rule.TriggerEvent, rule.Active,
		conditions, actions, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`, s.tenantID)
}

// ListActive returns all active rules for the tenant
func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.tenantID)
}

// ListActiveForEvent returns the tenant's active rules for one trigger event
func (s *PostgresRuleStore) ListActiveForEvent(ctx context.Context, event string) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE tenant_id = $1 AND trigger_event = $2 AND active = true
		ORDER BY created_at ASC, id ASC
	`, s.tenantID, event)
}

func (s *PostgresRuleStore) query(ctx context.Context, query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	conditions, actions, err := encodeRuleBody(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	err = s.db.QueryRowContext(ctx, `
		UPDATE rules
		SET name = $1, trigger_event = $2, active = $3, conditions = $4, actions = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8
		RETURNING created_at
	`, rule.Name, rule.TriggerEvent, rule.Active, conditions, actions,
		rule.UpdatedAt, rule.ID, s.tenantID).Scan(&rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r                   Rule
		conditions, actions []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.TriggerEvent, &r.Active,
		&conditions, &actions, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions for rule %s: %w", r.ID, err)
	}
	return &r, nil
}

func encodeRuleBody(rule *Rule) (conditions, actions []byte, err error) {
	conds := rule.Conditions
	if conds == nil {
		conds = []Condition{}
	}
	acts := rule.Actions
	if acts == nil {
		acts = []Action{}
	}

	if conditions, err = json.Marshal(conds); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if actions, err = json.Marshal(acts); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return conditions, actions, nil
}
