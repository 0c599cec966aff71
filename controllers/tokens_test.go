package controllers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/services"
)

func TestIssueAccessTokenForCompany(t *testing.T) {
	teardownSuite, _, company, user := setupSuite(t)
	defer teardownSuite(t)

	d, _ := newTestController(5)
	router := setupRouter(d, company.ID, user.ID)

	recorder, response := doJSON(t, router, "POST", "/tokens/issue-access-token", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	token, _ := response["token"].(string)
	require.NotEmpty(t, token)
	assert.True(t, strings.HasPrefix(token, "t:"))

	stored, err := models.DB.GetToken(token)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, company.ID, stored.CompanyID)
	assert.Equal(t, models.AccessPolicyType, stored.Type)
}

func TestRevokeAccessToken(t *testing.T) {
	teardownSuite, _, company, user := setupSuite(t)
	defer teardownSuite(t)

	d, _ := newTestController(5)
	d.RevokedTokens = services.NewRevokedTokenCache(models.DB)
	router := setupRouter(d, company.ID, user.ID)

	recorder, response := doJSON(t, router, "POST", "/tokens/revoke", RevokeTokenRequest{
		JTI: "jti-to-revoke",
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "revoked", response["status"])
	assert.Equal(t, "jti-to-revoke", response["jti"])

	// the local cache already rejects the token
	assert.True(t, d.RevokedTokens.IsRevoked("jti-to-revoke"))

	jtis, err := models.DB.GetActiveRevokedJTIs()
	require.NoError(t, err)
	assert.Equal(t, []string{"jti-to-revoke"}, jtis)

	recorder, response = doJSON(t, router, "POST", "/tokens/revoke", RevokeTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
