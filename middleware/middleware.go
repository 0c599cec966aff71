package middleware

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/kontorhq/kontor-backend/services"
)

func GetApiMiddleware(revokedTokens *services.RevokedTokenCache) gin.HandlerFunc {
	if _, ok := os.LookupEnv("JWT_AUTH"); ok {
		log.Printf("Using JWT middleware for API routes")
		return BearerTokenAuth(revokedTokens)
	} else if _, ok := os.LookupEnv("HTTP_BASIC_AUTH"); ok {
		log.Printf("Using http basic auth middleware for API routes")
		return HttpBasicApiAuth()
	} else if _, ok := os.LookupEnv("NOOP_AUTH"); ok {
		return NoopApiAuth()
	} else {
		log.Fatalf("Please specify one of JWT_AUTH, HTTP_BASIC_AUTH or NOOP_AUTH")
		return nil
	}
}

// InternalApiAuth guards the operational endpoints. They are only reachable
// with the shared secret that the deployment injects into trusted callers.
func InternalApiAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		internalSecret := os.Getenv("INTERNAL_API_SECRET")
		if internalSecret == "" {
			slog.Error("no INTERNAL_API_SECRET environment variable provided")
			c.String(http.StatusInternalServerError, "Error occurred while reading internal secret")
			c.Abort()
			return
		}
		secret := c.Request.Header.Get("x-internal-secret")
		if secret == "" {
			c.String(http.StatusForbidden, "No x-internal-secret header provided")
			c.Abort()
			return
		}
		if secret != internalSecret {
			c.String(http.StatusForbidden, "Invalid internal secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
