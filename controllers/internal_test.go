package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/services"
	"github.com/kontorhq/kontor-backend/slotstore"
)

func setupInternalRouter(d KontorController) *gin.Engine {
	router := gin.New()
	router.POST("/_internal/sweep", middleware.InternalApiAuth(), d.SweepInternal)
	router.POST("/_internal/revoked-tokens/refresh", middleware.InternalApiAuth(), d.RefreshRevokedTokensInternal)
	router.POST("/_internal/revoked-tokens/prune", middleware.InternalApiAuth(), PruneRevokedTokensInternal)
	router.POST("/_internal/api/create_user", middleware.InternalApiAuth(), CreateUserInternal)
	router.POST("/_internal/api/upsert_company", middleware.InternalApiAuth(), UpsertCompanyInternal)
	return router
}

func doInternal(t *testing.T, router *gin.Engine, path string, secret string, body any) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	reader := bytes.NewBuffer(nil)
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequest("POST", path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("x-internal-secret", secret)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	response := map[string]interface{}{}
	if recorder.Body.Len() > 0 {
		_ = json.Unmarshal(recorder.Body.Bytes(), &response)
	}
	return recorder, response
}

func TestInternalEndpointsRequireSecret(t *testing.T) {
	teardownSuite, _, _, _ := setupSuite(t)
	defer teardownSuite(t)
	t.Setenv("INTERNAL_API_SECRET", "test-secret")

	d, _ := newTestController(5)
	router := setupInternalRouter(d)

	recorder, _ := doInternal(t, router, "/_internal/revoked-tokens/prune", "", nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder, _ = doInternal(t, router, "/_internal/revoked-tokens/prune", "wrong-secret", nil)
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder, _ = doInternal(t, router, "/_internal/revoked-tokens/prune", "test-secret", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestSweepInternalRemovesOrphanedEntries(t *testing.T) {
	teardownSuite, _, _, _ := setupSuite(t)
	defer teardownSuite(t)
	t.Setenv("INTERNAL_API_SECRET", "test-secret")

	config.BackendConfig = &config.Config{
		Slots: config.SlotsConfig{SweepScanPageSize: 100},
	}

	store := slotstore.NewMemoryStore()
	slots := concurrency.NewService(store, concurrency.Options{MaxConcurrentUploads: 5, SlotTTL: time.Minute})
	d := KontorController{
		Slots:   slots,
		Sweeper: concurrency.NewSweeper(store, 100),
	}
	router := setupInternalRouter(d)

	ctx := context.Background()

	// one live user and one whose counter already expired
	acquired, err := slots.TryAcquireSlot(ctx, "live-user", 5, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired.Acquired)
	require.NoError(t, store.AddToSet(ctx, concurrency.ActiveUsersKey, "ghost-user"))

	recorder, response := doInternal(t, router, "/_internal/sweep", "test-secret", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(2), response["scanned"])
	assert.Equal(t, float64(1), response["removed"])
	assert.Equal(t, "complete", response["stop_reason"])

	// the ghost is gone, the live user stays accounted
	stats, err := slots.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, int64(1), stats.TotalSlots)
}

func TestSweepInternalHonorsOpsBudget(t *testing.T) {
	teardownSuite, _, _, _ := setupSuite(t)
	defer teardownSuite(t)
	t.Setenv("INTERNAL_API_SECRET", "test-secret")

	config.BackendConfig = &config.Config{
		Slots: config.SlotsConfig{SweepScanPageSize: 100},
	}

	store := slotstore.NewMemoryStore()
	ctx := context.Background()
	for _, userId := range []string{"g1", "g2", "g3", "g4"} {
		require.NoError(t, store.AddToSet(ctx, concurrency.ActiveUsersKey, userId))
	}

	d := KontorController{
		Slots:   concurrency.NewService(store, concurrency.Options{MaxConcurrentUploads: 5, SlotTTL: time.Minute}),
		Sweeper: concurrency.NewSweeper(store, 100),
	}
	router := setupInternalRouter(d)

	recorder, response := doInternal(t, router, "/_internal/sweep", "test-secret", SweepRequest{MaxOps: 2})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "budget_ops", response["stop_reason"])
	removed, _ := response["removed"].(float64)
	assert.Less(t, removed, float64(4))
}

func TestRevokedTokenInternalEndpoints(t *testing.T) {
	teardownSuite, _, company, _ := setupSuite(t)
	defer teardownSuite(t)
	t.Setenv("INTERNAL_API_SECRET", "test-secret")

	_, err := models.DB.RevokeToken("jti-active", company.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = models.DB.RevokeToken("jti-expired", company.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	d, _ := newTestController(5)
	d.RevokedTokens = services.NewRevokedTokenCache(models.DB)
	router := setupInternalRouter(d)

	recorder, response := doInternal(t, router, "/_internal/revoked-tokens/refresh", "test-secret", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), response["jtis"])
	assert.True(t, d.RevokedTokens.IsRevoked("jti-active"))
	assert.False(t, d.RevokedTokens.IsRevoked("jti-expired"))

	recorder, response = doInternal(t, router, "/_internal/revoked-tokens/prune", "test-secret", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), response["removed"])
}

func TestUpsertCompanyAndCreateUserInternal(t *testing.T) {
	teardownSuite, _, _, _ := setupSuite(t)
	defer teardownSuite(t)
	t.Setenv("INTERNAL_API_SECRET", "test-secret")

	d, _ := newTestController(5)
	router := setupInternalRouter(d)

	recorder, response := doInternal(t, router, "/_internal/api/upsert_company", "test-secret", map[string]string{
		"company_name":    "acme",
		"external_source": "auth0",
		"external_id":     "tenant-acme",
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "success", response["status"])
	companyId := response["company_id"]

	// upserting the same tenant again returns the existing company
	recorder, response = doInternal(t, router, "/_internal/api/upsert_company", "test-secret", map[string]string{
		"company_name":    "acme-renamed",
		"external_source": "auth0",
		"external_id":     "tenant-acme",
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, companyId, response["company_id"])

	recorder, response = doInternal(t, router, "/_internal/api/create_user", "test-secret", map[string]string{
		"external_source":     "auth0",
		"external_id":         "auth0|user-1",
		"email":               "user@acme.test",
		"external_company_id": "tenant-acme",
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "success", response["status"])
	assert.NotNil(t, response["user_id"])

	recorder, _ = doInternal(t, router, "/_internal/api/create_user", "test-secret", map[string]string{
		"external_source":     "auth0",
		"external_id":         "auth0|user-2",
		"email":               "user@nowhere.test",
		"external_company_id": "tenant-unknown",
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
