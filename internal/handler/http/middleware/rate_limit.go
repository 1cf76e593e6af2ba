package middleware

import (
	"net"
	"net/http"
	"sync"

	"github.com/Chrisphine10/intellicash-sub009/internal/handler/http/response"
	"github.com/go-chi/jwtauth/v5"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter hands out one token bucket per key.
type KeyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

func (l *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// RateLimitByCompany limits requests per company_id claim, falling back to
// the client address for tokens without one. r is requests per second and
// b the burst.
func RateLimitByCompany(r rate.Limit, b int) func(http.Handler) http.Handler {
	limiter := NewKeyedRateLimiter(r, b)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := clientAddr(req)
			if _, claims, err := jwtauth.FromContext(req.Context()); err == nil {
				if companyID, ok := claims["company_id"].(string); ok && companyID != "" {
					key = "company:" + companyID
				}
			}

			if !limiter.GetLimiter(key).Allow() {
				response.TooManyRequests(w, "Too many requests, please retry later")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
