package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"evcharge/backend/services/booking-service/internal/service"
)

const testSecret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantActor  service.Actor
	}{
		{
			name:       "numeric user id defaults to driver",
			header:     "Bearer " + signed(t, jwt.MapClaims{"user_id": float64(42)}),
			wantStatus: http.StatusOK,
			wantActor:  service.Actor{UserID: "42", Role: service.RoleDriver},
		},
		{
			name:       "operator role",
			header:     "Bearer " + signed(t, jwt.MapClaims{"user_id": "op-1", "role": "operator"}),
			wantStatus: http.StatusOK,
			wantActor:  service.Actor{UserID: "op-1", Role: service.RoleOperator},
		},
		{
			name:       "query token",
			query:      "?access_token=" + signed(t, jwt.MapClaims{"user_id": "user-1"}),
			wantStatus: http.StatusOK,
			wantActor:  service.Actor{UserID: "user-1", Role: service.RoleDriver},
		},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + func() string {
			token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "x"}).SignedString([]byte("other"))
			return token
		}(), wantStatus: http.StatusUnauthorized},
		{name: "unknown role", header: "Bearer " + signed(t, jwt.MapClaims{"user_id": "x", "role": "root"}), wantStatus: http.StatusUnauthorized},
		{name: "no user", header: "Bearer " + signed(t, jwt.MapClaims{"role": "driver"}), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.Actor
			h := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = ActorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/bookings"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && got != tt.wantActor {
				t.Fatalf("expected actor %+v, got %+v", tt.wantActor, got)
			}
		})
	}
}
