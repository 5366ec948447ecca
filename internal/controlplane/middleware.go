package controlplane

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const eventsPath = "/v1/events"

var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "HEAD"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	MaxAge: 12 * time.Hour,
}

// requests per second per client address
var rateLimit = limiter.Rate{Period: time.Second, Limit: 20}

func CORS() gin.HandlerFunc {
	return cors.New(corsConfig)
}

// Gzip compresses JSON responses. The event stream is a websocket and is left alone.
func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{eventsPath}),
	)
}

func RateLimit(rate limiter.Rate) gin.HandlerFunc {
	return mgin.NewMiddleware(limiter.New(memory.NewStore(), rate))
}

// TokenAuth requires the token as a bearer header or a token query
// parameter. An empty token disables auth.
func TokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		slog.Warn("control plane auth disabled")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			// browsers cannot set headers on websocket upgrades
			got = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			slog.Debug("invalid control plane token", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:  ErrCodeUnauthorized,
				Error: "unauthorized",
			})
			return
		}
		c.Set("authenticated", true)
		c.Next()
	}
}

// Logger logs every request at debug, failures at warn and error.
func Logger() gin.HandlerFunc {
	return sloggin.NewWithConfig(slog.Default(), sloggin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	})
}
