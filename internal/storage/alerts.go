package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fuelwatch/internal/domain"
)

const (
	alertRuleColumns = `id, user_id, postcode, latitude, longitude, radius_miles,
        fuel, threshold_ppl, enabled, baseline_ppl, last_notified_ppl,
        last_triggered_at, notified_at, created_at, updated_at`

	insertAlertRuleSQL = `INSERT INTO alert_rules (
        id, user_id, postcode, latitude, longitude, radius_miles,
        fuel, threshold_ppl, enabled, baseline_ppl
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING ` + alertRuleColumns + `;`

	updateAlertRuleSQL = `UPDATE alert_rules
    SET postcode      = $2,
        latitude      = $3,
        longitude     = $4,
        radius_miles  = $5,
        fuel          = $6,
        threshold_ppl = $7,
        enabled       = $8,
        updated_at    = now()
    WHERE id = $1
    RETURNING ` + alertRuleColumns + `;`

	deleteAlertRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	getAlertRuleSQL = `SELECT ` + alertRuleColumns + `
    FROM alert_rules
    WHERE id = $1;`

	listAlertRulesByUserSQL = `SELECT ` + alertRuleColumns + `
    FROM alert_rules
    WHERE user_id = $1
    ORDER BY created_at;`

	listEnabledAlertRulesSQL = `SELECT ` + alertRuleColumns + `
    FROM alert_rules
    WHERE enabled
    ORDER BY created_at;`

	setAlertBaselineSQL = `UPDATE alert_rules
    SET baseline_ppl = $2, updated_at = now()
    WHERE id = $1 AND baseline_ppl IS NULL;`

	// Trigger-state updates guard on the previously observed notified price
	// so a concurrent evaluation of the same rule cannot double-apply.
	markAlertNotifiedSQL = `UPDATE alert_rules
    SET last_notified_ppl = $2,
        last_triggered_at = $3,
        notified_at       = $4,
        updated_at        = now()
    WHERE id = $1
      AND last_notified_ppl IS NOT DISTINCT FROM $5;`

	markAlertSuppressedSQL = `UPDATE alert_rules
    SET last_notified_ppl = $2,
        updated_at        = now()
    WHERE id = $1
      AND last_notified_ppl IS NOT DISTINCT FROM $3;`
)

// ErrAlertRuleNotFound reports an unknown rule id.
var ErrAlertRuleNotFound = errors.New("storage: alert rule not found")

// CreateAlertRule persists a new rule and returns the stored row.
func (s *Store) CreateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.AlertRule{}, err
	}

	row := pool.QueryRow(ctx, insertAlertRuleSQL,
		rule.ID,
		rule.UserID,
		rule.Postcode,
		rule.Latitude,
		rule.Longitude,
		rule.RadiusMiles,
		string(rule.Fuel),
		rule.ThresholdPpl,
		rule.Enabled,
		rule.BaselinePpl,
	)
	stored, scanErr := scanAlertRule(row)
	if scanErr != nil {
		return domain.AlertRule{}, fmt.Errorf("create alert rule: %w", scanErr)
	}
	return stored, nil
}

// UpdateAlertRule overwrites the user-editable fields of a rule.
func (s *Store) UpdateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.AlertRule{}, err
	}

	row := pool.QueryRow(ctx, updateAlertRuleSQL,
		rule.ID,
		rule.Postcode,
		rule.Latitude,
		rule.Longitude,
		rule.RadiusMiles,
		string(rule.Fuel),
		rule.ThresholdPpl,
		rule.Enabled,
	)
	stored, scanErr := scanAlertRule(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return domain.AlertRule{}, ErrAlertRuleNotFound
		}
		return domain.AlertRule{}, fmt.Errorf("update alert rule: %w", scanErr)
	}
	return stored, nil
}

// DeleteAlertRule removes a rule.
func (s *Store) DeleteAlertRule(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete alert rule: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// GetAlertRule fetches one rule, nil when unknown.
func (s *Store) GetAlertRule(ctx context.Context, id string) (*domain.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rule, scanErr := scanAlertRule(pool.QueryRow(ctx, getAlertRuleSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get alert rule: %w", scanErr)
	}
	return &rule, nil
}

// ListAlertRulesByUser lists a user's rules in creation order.
func (s *Store) ListAlertRulesByUser(ctx context.Context, userID string) ([]domain.AlertRule, error) {
	return s.listAlertRules(ctx, listAlertRulesByUserSQL, userID)
}

// ListEnabledAlertRules lists every enabled rule across all users.
func (s *Store) ListEnabledAlertRules(ctx context.Context) ([]domain.AlertRule, error) {
	return s.listAlertRules(ctx, listEnabledAlertRulesSQL)
}

func (s *Store) listAlertRules(ctx context.Context, sql string, args ...any) ([]domain.AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alert rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]domain.AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanAlertRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// SetAlertBaseline records the reference price for a rule that has never
// been notified. A no-op when a baseline already exists.
func (s *Store) SetAlertBaseline(ctx context.Context, id string, pricePpl int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setAlertBaselineSQL, id, pricePpl); execErr != nil {
		return fmt.Errorf("set alert baseline: %w", execErr)
	}
	return nil
}

// MarkAlertNotified commits a successful dispatch: new notified price,
// trigger timestamp, and the trimmed throttle window. Returns false when
// the guard on the previous notified price did not match.
func (s *Store) MarkAlertNotified(ctx context.Context, id string, pricePpl int64, at time.Time, window []time.Time, expected *int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markAlertNotifiedSQL, id, pricePpl, at, window, expected)
	if execErr != nil {
		return false, fmt.Errorf("mark alert notified: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAlertSuppressed remembers a throttled drop's price without touching
// the dispatch window, so the same price is not re-evaluated next pass.
func (s *Store) MarkAlertSuppressed(ctx context.Context, id string, pricePpl int64, expected *int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markAlertSuppressedSQL, id, pricePpl, expected)
	if execErr != nil {
		return false, fmt.Errorf("mark alert suppressed: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

func scanAlertRule(row pgx.Row) (domain.AlertRule, error) {
	var rule domain.AlertRule
	var fuelStr string
	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Postcode,
		&rule.Latitude,
		&rule.Longitude,
		&rule.RadiusMiles,
		&fuelStr,
		&rule.ThresholdPpl,
		&rule.Enabled,
		&rule.BaselinePpl,
		&rule.LastNotifiedPpl,
		&rule.LastTriggeredAt,
		&rule.NotifiedAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return domain.AlertRule{}, err
	}
	rule.Fuel = domain.FuelType(fuelStr)
	return rule, nil
}
