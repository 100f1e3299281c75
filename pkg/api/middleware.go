package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/config"
	"github.com/agentmesh/agentmesh/pkg/state"
)

const requestIDHeader = "X-Request-ID"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestID propagates an inbound X-Request-ID or mints one, and echoes it on
// the response. Handlers use it as the default trace id.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, id)
			c.Set("request_id", id)
			return next(c)
		}
	}
}

// requestLogger logs one line per request with method, path, status and
// latency.
func requestLogger() echo.MiddlewareFunc {
	logger := slog.With("component", "api")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := 0
			if res, resErr := echo.UnwrapResponse(c.Response()); resErr == nil {
				status = res.Status
			}
			logger.Info("Request handled",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Get("request_id"),
			)
			return err
		}
	}
}

// rateLimit enforces the fixed-window per-client limit through Redis. When
// Redis is unreachable requests pass; availability wins over strictness.
func rateLimit(states *state.Store, cfg config.RateLimitConfig) echo.MiddlewareFunc {
	logger := slog.With("component", "api")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			allowed, remaining, err := states.CheckRateLimit(
				c.Request().Context(), clientIP(c.Request()), cfg.Requests, cfg.Window)
			if err != nil {
				logger.Warn("Rate limit check failed, allowing request", "error", err)
				return next(c)
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				return c.JSON(http.StatusTooManyRequests, &ErrorResponse{
					Error:     "rate limit exceeded",
					Code:      "CAPACITY_EXCEEDED",
					Timestamp: time.Now().UTC(),
				})
			}
			return next(c)
		}
	}
}

// clientIP resolves the caller address behind proxies.
// Priority: X-Forwarded-For (first hop) > X-Real-IP > RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
