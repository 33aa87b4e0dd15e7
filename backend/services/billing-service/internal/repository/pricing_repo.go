package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"evcharge/backend/services/billing-service/internal/models"
)

// PricingRepository loads pricing rules.
type PricingRepository struct {
	pool *pgxpool.Pool
}

// NewPricingRepository returns repository.
func NewPricingRepository(pool *pgxpool.Pool) *PricingRepository {
	return &PricingRepository{pool: pool}
}

// ActiveRules returns active rules scoped to stationID or to every station.
func (r *PricingRepository) ActiveRules(ctx context.Context, stationID string) ([]models.PricingRule, error) {
	const query = `
		SELECT rule_id, COALESCE(station_id, ''), COALESCE(vehicle_type, ''), start_minute, end_minute,
		       price_per_kwh, currency, priority, is_active, updated_at
		FROM pricing_rules
		WHERE is_active AND (station_id IS NULL OR station_id = $1)
		ORDER BY priority DESC, updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.PricingRule
	for rows.Next() {
		var rule models.PricingRule
		if err := rows.Scan(
			&rule.RuleID,
			&rule.StationID,
			&rule.VehicleType,
			&rule.StartMinute,
			&rule.EndMinute,
			&rule.PricePerKWh,
			&rule.Currency,
			&rule.Priority,
			&rule.IsActive,
			&rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
