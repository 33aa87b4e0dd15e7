package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/http/middleware"
	"evcharge/backend/services/booking-service/internal/service"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

var statusByError = []struct {
	err    error
	status int
}{
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrSlotUnavailable, http.StatusConflict},
	{service.ErrVehicleAlreadyBooked, http.StatusConflict},
	{service.ErrInvalidSchedule, http.StatusUnprocessableEntity},
	{service.ErrInvalidTransition, http.StatusConflict},
	{service.ErrTokenExpired, http.StatusForbidden},
	{service.ErrTokenInactive, http.StatusForbidden},
	{service.ErrSlotMismatch, http.StatusConflict},
	{service.ErrNoMatchingBooking, http.StatusNotFound},
	{service.ErrInvalidTelemetry, http.StatusUnprocessableEntity},
	{service.ErrSettlementAlreadyIssued, http.StatusConflict},
}

// writeServiceError maps core rejections to statuses. Anything unknown is
// logged and reported as an internal error without details.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			writeError(w, m.status, service.Code(err), err.Error())
			return
		}
	}
	logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func actorFrom(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing credentials")
	}
	return actor, ok
}
