package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/models"
)

// ErrNoPrice is returned when neither a rule nor a default price applies.
var ErrNoPrice = errors.New("pricing: no price configured")

// RuleSource loads the active rules that may apply to a station.
type RuleSource interface {
	ActiveRules(ctx context.Context, stationID string) ([]models.PricingRule, error)
}

// Quote is the effective price of a session.
type Quote struct {
	UnitPrice float64 `json:"unit_price"`
	Currency  string  `json:"currency"`
	RuleID    string  `json:"rule_id,omitempty"`
}

// PricingService resolves the effective price per kWh with a default fallback.
type PricingService struct {
	rules        RuleSource
	defaultPrice float64
	currency     string
	loc          *time.Location
	logger       *zap.Logger
}

// NewPricingService returns service instance. Rule windows are evaluated in loc.
func NewPricingService(rules RuleSource, defaultPrice float64, currency string, loc *time.Location, logger *zap.Logger) *PricingService {
	if loc == nil {
		loc = time.UTC
	}
	return &PricingService{
		rules:        rules,
		defaultPrice: defaultPrice,
		currency:     currency,
		loc:          loc,
		logger:       logger,
	}
}

// Quote picks the most specific matching rule: station scope beats vehicle
// type scope, then higher priority wins. Without a match the default applies.
func (s *PricingService) Quote(ctx context.Context, stationID, vehicleType string, at time.Time) (*Quote, error) {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return nil, fmt.Errorf("pricing: station id required")
	}

	var rules []models.PricingRule
	if s.rules != nil {
		var err error
		rules, err = s.rules.ActiveRules(ctx, stationID)
		if err != nil {
			s.logger.Warn("failed to load pricing rules, using default", zap.String("station_id", stationID), zap.Error(err))
			rules = nil
		}
	}

	local := at.In(s.loc)
	minute := local.Hour()*60 + local.Minute()

	var (
		best      *models.PricingRule
		bestScore = -1
	)
	for i := range rules {
		r := &rules[i]
		if !r.IsActive || r.PricePerKWh < 0 || !r.Covers(minute) {
			continue
		}
		if r.StationID != "" && r.StationID != stationID {
			continue
		}
		if r.VehicleType != "" && !strings.EqualFold(r.VehicleType, vehicleType) {
			continue
		}
		score := 0
		if r.StationID != "" {
			score += 2
		}
		if r.VehicleType != "" {
			score++
		}
		if best == nil || score > bestScore || (score == bestScore && r.Priority > best.Priority) {
			best, bestScore = r, score
		}
	}

	if best != nil {
		currency := best.Currency
		if currency == "" {
			currency = s.currency
		}
		return &Quote{UnitPrice: best.PricePerKWh, Currency: currency, RuleID: best.RuleID}, nil
	}
	if s.defaultPrice <= 0 {
		return nil, fmt.Errorf("%w: station %s", ErrNoPrice, stationID)
	}
	return &Quote{UnitPrice: s.defaultPrice, Currency: s.currency}, nil
}
