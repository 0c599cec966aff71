package controllers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
)

func IssueAccessTokenForCompany(c *gin.Context) {
	companyId, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		slog.Warn("Company ID not found in context")
		c.String(http.StatusUnauthorized, "Not authorized")
		return
	}

	company := models.Company{}
	companyResult := models.DB.GormDB.Where("id = ?", companyId).Take(&company)
	if companyResult.RowsAffected == 0 {
		slog.Error("Could not find company", "companyId", companyId)
		c.String(http.StatusInternalServerError, "Unexpected error")
		return
	}

	// prefixing token to make easier to retire this type of tokens later
	token := "t:" + uuid.New().String()

	err := models.DB.GormDB.Create(&models.Token{
		Value:     token,
		CompanyID: company.ID,
		Type:      models.AccessPolicyType,
	}).Error

	if err != nil {
		slog.Error("Error creating token", "companyId", company.ID, "error", err)
		c.String(http.StatusInternalServerError, "Unexpected error")
		return
	}

	slog.Info("Created access token for company", "companyId", company.ID)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type RevokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RevokeAccessToken adds a JWT id to the revocation list and refreshes the
// in-memory cache so the rejection takes effect on this instance right away.
// Other instances pick it up on their next periodic refresh.
func (d KontorController) RevokeAccessToken(c *gin.Context) {
	companyId, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		slog.Warn("Company ID not found in context")
		c.String(http.StatusUnauthorized, "Not authorized")
		return
	}

	var request RevokeTokenRequest
	err := c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}
	if request.JTI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing jti"})
		return
	}
	if request.ExpiresAt.IsZero() {
		// without an expiry the row would never be pruned
		request.ExpiresAt = time.Now().Add(24 * time.Hour)
	}

	_, err = models.DB.RevokeToken(request.JTI, companyId.(uint), request.ExpiresAt)
	if err != nil {
		slog.Error("Error revoking token", "jti", request.JTI, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error revoking token"})
		return
	}

	if err := d.RevokedTokens.Refresh(); err != nil {
		slog.Warn("Could not refresh revoked token cache", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked", "jti": request.JTI})
}
