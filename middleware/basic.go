package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kontorhq/kontor-backend/models"
)

func setDefaultCompanyId(c *gin.Context) {
	companyNumberOne, err := models.DB.GetCompany(models.DEFAULT_COMPANY_NAME)
	if err != nil {
		c.Error(fmt.Errorf("Error fetching default company please check your configuration"))
	}
	c.Set(COMPANY_ID_KEY, companyNumberOne.ID)
}

func HttpBasicApiAuth() gin.HandlerFunc {
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
			if workerToken, err := CheckWorkerToken(c, token); err != nil {
				c.String(http.StatusForbidden, err.Error())
				c.Abort()
				return
			} else {
				c.Set(COMPANY_ID_KEY, workerToken.CompanyID)
				c.Set(ACCESS_LEVEL_KEY, workerToken.Type)
				c.Set(WORKER_TOKEN_KEY, workerToken.Value)
			}
		} else if token == os.Getenv("BEARER_AUTH_TOKEN") {
			setDefaultCompanyId(c)
			c.Set(ACCESS_LEVEL_KEY, models.AdminPolicyType)
		} else {
			c.String(http.StatusForbidden, "Invalid Bearer token")
			c.Abort()
			return
		}
		c.Next()
	}
}
