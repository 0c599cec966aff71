package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/services"
)

func SetContextParameters(c *gin.Context, revokedTokens *services.RevokedTokenCache, token *jwt.Token) error {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		slog.Warn("token's claims are invalid")
		return fmt.Errorf("token is invalid")
	}

	if jti, _ := claims["jti"].(string); revokedTokens != nil && revokedTokens.IsRevoked(jti) {
		slog.Warn("rejected revoked token", "jti", jti)
		return fmt.Errorf("token is revoked")
	}

	tenantId := cast.ToString(claims["tenantId"])
	if tenantId == "" {
		slog.Warn("claim's tenantId is missing")
		return fmt.Errorf("token is invalid")
	}
	slog.Debug("resolving company for token", "tenantId", tenantId)

	company, err := models.DB.GetCompany(tenantId)
	if err != nil {
		slog.Error("error while fetching company", "error", err)
		return err
	} else if company == nil {
		slog.Warn("no company found for tenantId", "tenantId", tenantId)
		return fmt.Errorf("token is invalid")
	}

	c.Set(COMPANY_ID_KEY, company.ID)

	if userExternalId := cast.ToString(claims["userId"]); userExternalId != "" {
		user, err := models.DB.GetUser(userExternalId)
		if err != nil {
			slog.Error("error while fetching user", "error", err)
			return err
		}
		if user != nil {
			c.Set(USER_ID_KEY, user.ID)
		}
	}

	if claims["permissions"] == nil {
		slog.Warn("claim's permissions is nil")
		return fmt.Errorf("token is invalid")
	}
	permissions := cast.ToStringSlice(claims["permissions"])
	for _, permission := range permissions {
		if permission == "kontor.all.*" {
			c.Set(ACCESS_LEVEL_KEY, models.AdminPolicyType)
			return nil
		}
	}
	for _, permission := range permissions {
		if permission == "kontor.all.read.*" {
			c.Set(ACCESS_LEVEL_KEY, models.AccessPolicyType)
			return nil
		}
	}
	return nil
}

// CheckWorkerToken validates a worker callback token against the database,
// including its expiry.
func CheckWorkerToken(c *gin.Context, token string) (*models.WorkerToken, error) {
	workerToken, err := models.DB.GetWorkerToken(token)
	if err != nil {
		return nil, fmt.Errorf("error while fetching token from database: %v", err)
	}
	if workerToken == nil {
		return nil, fmt.Errorf("invalid bearer token")
	}
	if time.Now().After(workerToken.Expiry) {
		slog.Warn("worker token has expired",
			"tokenId", workerToken.ID,
			"expiry", workerToken.Expiry.Format(time.RFC3339))
		return nil, fmt.Errorf("token has expired")
	}
	return workerToken, nil
}

func BearerTokenAuth(revokedTokens *services.RevokedTokenCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			c.String(http.StatusForbidden, "No Authorization header provided")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.String(http.StatusForbidden, "Could not find bearer token in Authorization header")
			c.Abort()
			return
		}

		if strings.HasPrefix(token, "worker:") {
			workerToken, err := CheckWorkerToken(c, token)
			if err != nil {
				slog.Warn("invalid worker token", "error", err)
				c.String(http.StatusForbidden, err.Error())
				c.Abort()
				return
			}
			c.Set(COMPANY_ID_KEY, workerToken.CompanyID)
			c.Set(ACCESS_LEVEL_KEY, workerToken.Type)
			c.Set(WORKER_TOKEN_KEY, workerToken.Value)
		} else if strings.HasPrefix(token, "t:") {
			dbToken, err := models.DB.GetToken(token)
			if err != nil {
				slog.Error("error while fetching token from database", "error", err)
				c.String(http.StatusInternalServerError, "Error occurred while fetching database")
				c.Abort()
				return
			}
			if dbToken == nil {
				c.String(http.StatusForbidden, "Invalid bearer token")
				c.Abort()
				return
			}
			c.Set(COMPANY_ID_KEY, dbToken.CompanyID)
			c.Set(ACCESS_LEVEL_KEY, dbToken.Type)
		} else {
			jwtSecret := os.Getenv("JWT_SECRET")
			if jwtSecret == "" {
				slog.Error("no JWT_SECRET environment variable provided")
				c.String(http.StatusInternalServerError, "Error occurred while reading auth secret")
				c.Abort()
				return
			}

			parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
					slog.Warn("token is either expired or not active yet")
				} else if errors.Is(err, jwt.ErrTokenMalformed) {
					slog.Warn("that's not even a token")
				} else {
					slog.Warn("couldn't handle this token", "error", err)
				}
				c.String(http.StatusForbidden, "Authorization header is invalid")
				c.Abort()
				return
			}

			if !parsedToken.Valid {
				slog.Warn("token is invalid")
				c.String(http.StatusForbidden, "Authorization header is invalid")
				c.Abort()
				return
			}

			err = SetContextParameters(c, revokedTokens, parsedToken)
			if err != nil {
				slog.Warn("error while setting context parameters", "error", err)
				c.String(http.StatusForbidden, "Failed to parse token")
				c.Abort()
				return
			}
		}

		c.Next()
	}
}

func AccessLevel(allowedAccessLevels ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessLevel := c.GetString(ACCESS_LEVEL_KEY)
		for _, allowedAccessLevel := range allowedAccessLevels {
			if accessLevel == allowedAccessLevel {
				c.Next()
				return
			}
		}
		c.String(http.StatusForbidden, "Not allowed to access this resource with this access level")
		c.Abort()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

const COMPANY_ID_KEY = "company_ID"
const ACCESS_LEVEL_KEY = "access_level"
const USER_ID_KEY = "user_ID"
const WORKER_TOKEN_KEY = "worker_token"
