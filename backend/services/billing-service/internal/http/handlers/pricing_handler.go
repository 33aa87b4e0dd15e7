package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/billing-service/internal/service"
)

// NewPricingHandler returns GET /internal/pricing handler.
func NewPricingHandler(svc *service.PricingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		stationID := q.Get("station_id")
		if stationID == "" {
			writeError(w, http.StatusBadRequest, "station_id is required")
			return
		}
		at := time.Now().UTC()
		if raw := q.Get("at"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "at must be RFC3339")
				return
			}
			at = parsed
		}

		quote, err := svc.Quote(r.Context(), stationID, q.Get("vehicle_type"), at)
		if errors.Is(err, service.ErrNoPrice) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			logger.Error("pricing lookup failed", zap.String("station_id", stationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "pricing lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, quote)
	}
}
