package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const identityKey = "identity"

// authenticate valida el bearer JWT (HMAC) y guarda la identidad del claim sub.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing Authorization header")
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid Authorization header format")
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.cfg.JWTSecret, nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
		}
		id, err := domain.ParseIdentity(sub)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid identity in token")
		}

		c.Set(identityKey, id)
		return next(c)
	}
}

// caller devuelve la identidad autenticada.
func caller(c echo.Context) domain.Identity {
	id, _ := c.Get(identityKey).(domain.Identity)
	return id
}

// throttle aplica el límite de peticiones por identidad.
func (s *Server) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.allow(caller(c)) {
			c.Response().Header().Set("Retry-After", "1")
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
		}
		return next(c)
	}
}

// identityLimiter guarda un token bucket por identidad.
type identityLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[domain.Identity]*rate.Limiter
}

func newIdentityLimiter(perSecond float64, burst int) *identityLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &identityLimiter{limit: rate.Inf, burst: burst, limiters: make(map[domain.Identity]*rate.Limiter)}
	if perSecond > 0 {
		l.limit = rate.Limit(perSecond)
	}
	return l
}

func (l *identityLimiter) allow(id domain.Identity) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(time.Now(), 1)
}

// SignToken emite un token HS256 para una identidad (CLI y tests).
func SignToken(secret []byte, id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   id.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("httpapi.SignToken: %w", err)
	}
	return signed, nil
}
