package controllers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/segment"
)

func UpsertCompanyInternal(c *gin.Context) {
	type CompanyCreateRequest struct {
		Name           string `json:"company_name"`
		ExternalSource string `json:"external_source"`
		ExternalId     string `json:"external_id"`
	}

	var request CompanyCreateRequest
	err := c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}

	name := request.Name
	externalSource := request.ExternalSource
	externalId := request.ExternalId

	slog.Info("Creating company", "name", name, "externalSource", externalSource, "externalId", externalId)
	var company *models.Company
	company, err = models.DB.GetCompany(externalId)
	if err != nil {
		slog.Error("Error while retrieving company", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating company"})
		return
	}

	if company == nil {
		company, err = models.DB.CreateCompany(name, externalSource, externalId)
	}

	if err != nil {
		slog.Error("Error creating company", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating company"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "company_id": company.ID})
}

func CreateUserInternal(c *gin.Context) {
	type UserCreateRequest struct {
		UserExternalSource string `json:"external_source"`
		UserExternalId     string `json:"external_id"`
		UserEmail          string `json:"email"`
		CompanyExternalId  string `json:"external_company_id"`
	}

	var request UserCreateRequest
	err := c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}

	company, err := models.DB.GetCompany(request.CompanyExternalId)
	if err != nil {
		slog.Error("Error retrieving company", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error retrieving company"})
		return
	}
	if company == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Could not find company: %v", request.CompanyExternalId)})
		return
	}

	// for now using email for username since we want to deprecate that field
	username := request.UserEmail
	user, err := models.DB.CreateUser(request.UserEmail, request.UserExternalSource, request.UserExternalId, company.ID, username)
	if err != nil {
		slog.Error("Error creating user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating user"})
		return
	}

	segment.IdentifyClient(request.UserExternalId, username, request.UserEmail, company.Name, company.ExternalId)

	c.JSON(http.StatusOK, gin.H{"status": "success", "user_id": user.ID})
}

type SweepRequest struct {
	MaxOps       int   `json:"max_ops"`
	MaxRuntimeMs int64 `json:"max_runtime_ms"`
	PageSize     int64 `json:"page_size"`
}

// SweepInternal triggers one bounded maintenance sweep of the active users
// set. Budgets default to the configured ones and can be overridden per call.
func (d KontorController) SweepInternal(c *gin.Context) {
	opts := concurrency.SweepOptions{
		MaxOps:     config.BackendConfig.Slots.SweepMaxOps,
		MaxRuntime: config.BackendConfig.Slots.SweepMaxRuntime,
		PageSize:   config.BackendConfig.Slots.SweepScanPageSize,
	}

	if c.Request.ContentLength > 0 {
		var request SweepRequest
		if err := c.BindJSON(&request); err != nil {
			slog.Warn("Error binding JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
			return
		}
		if request.MaxOps > 0 {
			opts.MaxOps = request.MaxOps
		}
		if request.MaxRuntimeMs > 0 {
			opts.MaxRuntime = time.Duration(request.MaxRuntimeMs) * time.Millisecond
		}
		if request.PageSize > 0 {
			opts.PageSize = request.PageSize
		}
	}

	result, err := d.Sweeper.Sweep(c.Request.Context(), opts)
	if err != nil {
		slog.Error("Sweep failed", "error", err, "scanned", result.Scanned, "removed", result.Removed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed", "scanned": result.Scanned, "removed": result.Removed})
		return
	}

	slog.Info("Sweep finished",
		"scanned", result.Scanned,
		"removed", result.Removed,
		"ops", result.Ops,
		"stopReason", result.StopReason)
	c.JSON(http.StatusOK, gin.H{
		"scanned":     result.Scanned,
		"removed":     result.Removed,
		"ops":         result.Ops,
		"stop_reason": result.StopReason,
	})
}

// RefreshRevokedTokensInternal reloads the revocation cache from the database.
func (d KontorController) RefreshRevokedTokensInternal(c *gin.Context) {
	if err := d.RevokedTokens.Refresh(); err != nil {
		slog.Error("Error refreshing revoked token cache", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error refreshing revoked token cache"})
		return
	}

	size, refreshedAt := d.RevokedTokens.Stats()
	c.JSON(http.StatusOK, gin.H{"jtis": size, "refreshed_at": refreshedAt})
}

// PruneRevokedTokensInternal deletes revocation rows whose tokens have
// expired anyway.
func PruneRevokedTokensInternal(c *gin.Context) {
	removed, err := models.DB.DeleteExpiredRevokedTokens()
	if err != nil {
		slog.Error("Error pruning revoked tokens", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error pruning revoked tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
