package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/response"
	"github.com/go-chi/jwtauth/v5"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotent-Replayed"

	idempotencyLockTTL = 30 * time.Second
	maxIdempotentBody  = 1 << 20
)

// idempotencyRecord is the cached outcome of a request.
type idempotencyRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

func requestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func idempotencyKeys(companyID, path, key string) (cacheKey, lockKey string) {
	cacheKey = fmt.Sprintf("idemp:%s:%s:%s", companyID, path, key)
	return cacheKey, cacheKey + ":lock"
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a POST carrying an
// Idempotency-Key header. Keys are scoped by company and path. A key reused
// with a different body is rejected, as is a key whose first request is
// still running. Only 2xx responses are stored. Redis failures let the
// request through.
func Idempotency(rdb redis.Cmdable, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				response.BadRequest(w, "Idempotency-Key is too long", nil)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				response.BadRequest(w, "Invalid request body", nil)
				return
			}
			if len(body) > maxIdempotentBody {
				response.PayloadTooLarge(w, "Request body is too large for an idempotent request")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := requestHash(body)

			companyID := ""
			if _, claims, err := jwtauth.FromContext(r.Context()); err == nil {
				companyID, _ = claims["company_id"].(string)
			}
			cacheKey, lockKey := idempotencyKeys(companyID, r.URL.Path, key)
			ctx := r.Context()

			cached, err := rdb.Get(ctx, cacheKey).Bytes()
			switch {
			case err == nil:
				var rec idempotencyRecord
				if err := json.Unmarshal(cached, &rec); err != nil {
					slog.Warn("discarding unreadable idempotency record", "key", cacheKey, "error", err)
					break
				}
				if rec.RequestHash != hash {
					response.Conflict(w, "Idempotency-Key was already used with a different request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotencyReplayedHeader, "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			case !errors.Is(err, redis.Nil):
				slog.Warn("idempotency lookup failed", "key", cacheKey, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			locked, err := rdb.SetNX(ctx, lockKey, "locked", idempotencyLockTTL).Result()
			if err != nil {
				slog.Warn("idempotency lock failed", "key", lockKey, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !locked {
				response.Conflict(w, "A request with this Idempotency-Key is still being processed")
				return
			}
			defer func() {
				if err := rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
					slog.Warn("failed to release idempotency lock", "key", lockKey, "error", err)
				}
			}()

			rec := &recordingWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				return
			}
			payload, err := json.Marshal(idempotencyRecord{RequestHash: hash, Status: rec.status, Body: rec.body.Bytes()})
			if err != nil {
				return
			}
			if err := rdb.Set(context.WithoutCancel(ctx), cacheKey, string(payload), ttl).Err(); err != nil {
				slog.Warn("failed to store idempotency record", "key", cacheKey, "error", err)
			}
		})
	}
}
