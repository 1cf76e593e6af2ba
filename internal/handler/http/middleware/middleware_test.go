package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/pkg/authz"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-redis/redismock/v9"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func withClaims(t *testing.T, r *http.Request, claims map[string]interface{}) *http.Request {
	t.Helper()
	token := jwt.New()
	for k, v := range claims {
		require.NoError(t, token.Set(k, v))
	}
	return r.WithContext(jwtauth.NewContext(r.Context(), token, nil))
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

// ===== AUTH =====

func TestAuthRequired(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]interface{}
		want   int
	}{
		{"access token", map[string]interface{}{"type": "access"}, http.StatusCreated},
		{"refresh token", map[string]interface{}{"type": "refresh"}, http.StatusUnauthorized},
		{"no type", map[string]interface{}{"user_id": "u"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			req := withClaims(t, httptest.NewRequest(http.MethodGet, "/", nil), tt.claims)
			w := httptest.NewRecorder()

			AuthRequired(okHandler(&calls)).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthRequired_NoToken(t *testing.T) {
	var calls int
	w := httptest.NewRecorder()

	AuthRequired(okHandler(&calls)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, calls)
}

func TestRequireCompany(t *testing.T) {
	var calls int
	h := RequireCompany(okHandler(&calls))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, withClaims(t, httptest.NewRequest(http.MethodGet, "/", nil), map[string]interface{}{"company_id": "c1"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, withClaims(t, httptest.NewRequest(http.MethodGet, "/", nil), map[string]interface{}{"company_id": ""}))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, calls)
}

// ===== PERMISSION =====

func TestRequirePermission(t *testing.T) {
	authorizer, err := authz.NewAuthorizer()
	require.NoError(t, err)

	tests := []struct {
		role       string
		permission authz.Permission
		want       int
	}{
		{"owner", authz.PermissionItemsPay, http.StatusCreated},
		{"manager", authz.PermissionItemsPay, http.StatusForbidden},
		{"manager", authz.PermissionItemsApprove, http.StatusCreated},
		{"payroll_officer", authz.PermissionItemsApprove, http.StatusForbidden},
		{"employee", authz.PermissionRulesRead, http.StatusCreated},
		{"employee", authz.PermissionItemsRead, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.role+" "+string(tt.permission), func(t *testing.T) {
			var calls int
			req := withClaims(t, httptest.NewRequest(http.MethodGet, "/", nil), map[string]interface{}{"role": tt.role})
			w := httptest.NewRecorder()

			RequirePermission(authorizer, tt.permission)(okHandler(&calls)).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequirePermission_MissingRole(t *testing.T) {
	authorizer, err := authz.NewAuthorizer()
	require.NoError(t, err)

	var calls int
	req := withClaims(t, httptest.NewRequest(http.MethodGet, "/", nil), map[string]interface{}{"user_id": "u"})
	w := httptest.NewRecorder()

	RequirePermission(authorizer, authz.PermissionRulesRead)(okHandler(&calls)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "rules:read")
}

// ===== RATE LIMIT =====

func TestRateLimitByCompany(t *testing.T) {
	var calls int
	h := RateLimitByCompany(rate.Every(time.Hour), 1)(okHandler(&calls))

	send := func(companyID string) int {
		req := withClaims(t, httptest.NewRequest(http.MethodPost, "/", nil), map[string]interface{}{"company_id": companyID})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, send("c1"))
	assert.Equal(t, http.StatusTooManyRequests, send("c1"))
	assert.Equal(t, http.StatusCreated, send("c2"))
	assert.Equal(t, 2, calls)
}

func TestKeyedRateLimiter_ReusesLimiter(t *testing.T) {
	l := NewKeyedRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("a"), l.GetLimiter("a"))
	assert.NotSame(t, l.GetLimiter("a"), l.GetLimiter("b"))
}

// ===== IDEMPOTENCY =====

const idemTTL = 24 * time.Hour

func idempotentRequest(t *testing.T, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payroll/periods/p1/generate", strings.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	return withClaims(t, req, map[string]interface{}{"company_id": "c1"})
}

func TestIdempotency_FirstRequestStoresResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	body := `{"employee_ids":["e1"]}`
	cacheKey, lockKey := idempotencyKeys("c1", "/api/v1/payroll/periods/p1/generate", "key-1")

	stored, err := json.Marshal(idempotencyRecord{
		RequestHash: requestHash([]byte(body)),
		Status:      http.StatusCreated,
		Body:        []byte(`{"ok":true}`),
	})
	require.NoError(t, err)

	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(lockKey, "locked", idempotencyLockTTL).SetVal(true)
	mock.ExpectSet(cacheKey, string(stored), idemTTL).SetVal("OK")
	mock.ExpectDel(lockKey).SetVal(1)

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, body))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	body := `{"employee_ids":["e1"]}`
	cacheKey, _ := idempotencyKeys("c1", "/api/v1/payroll/periods/p1/generate", "key-1")

	stored, err := json.Marshal(idempotencyRecord{
		RequestHash: requestHash([]byte(body)),
		Status:      http.StatusCreated,
		Body:        []byte(`{"ok":"first"}`),
	})
	require.NoError(t, err)
	mock.ExpectGet(cacheKey).SetVal(string(stored))

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, body))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"ok":"first"}`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(IdempotencyReplayedHeader))
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_OversizedBodyRejected(t *testing.T) {
	db, mock := redismock.NewClientMock()
	body := `{"notes":"` + strings.Repeat("x", maxIdempotentBody) + `"}`

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "PAYLOAD_TOO_LARGE")
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey, _ := idempotencyKeys("c1", "/api/v1/payroll/periods/p1/generate", "key-1")

	stored, err := json.Marshal(idempotencyRecord{RequestHash: requestHash([]byte(`{}`)), Status: http.StatusCreated})
	require.NoError(t, err)
	mock.ExpectGet(cacheKey).SetVal(string(stored))

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, `{"employee_ids":["e2"]}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, calls)
}

func TestIdempotency_InFlightConflicts(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey, lockKey := idempotencyKeys("c1", "/api/v1/payroll/periods/p1/generate", "key-1")

	mock.ExpectGet(cacheKey).RedisNil()
	mock.ExpectSetNX(lockKey, "locked", idempotencyLockTTL).SetVal(false)

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, `{}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RedisDownPassesThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cacheKey, _ := idempotencyKeys("c1", "/api/v1/payroll/periods/p1/generate", "key-1")
	mock.ExpectGet(cacheKey).SetErr(errors.New("connection refused"))

	var calls int
	w := httptest.NewRecorder()
	Idempotency(db, idemTTL)(okHandler(&calls)).ServeHTTP(w, idempotentRequest(t, `{}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_NoKeyOrNotPost(t *testing.T) {
	db, mock := redismock.NewClientMock()

	var calls int
	h := Idempotency(db, idemTTL)(okHandler(&calls))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	req.Header.Set(IdempotencyKeyHeader, "k")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
