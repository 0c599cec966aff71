package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func createTestBulkRequest(t *testing.T, company *Company) *BulkRequest {
	file, err := DB.CreateFile(company.ID, 1, "products.csv", "text/csv", 2048)
	assert.NoError(t, err)

	request, err := DB.CreateBulkRequest(company.ID, file.ID, 1, BulkRequestProductImport)
	assert.NoError(t, err)
	return request
}

func TestCreateBulkRequest(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	request := createTestBulkRequest(t, company)
	assert.Equal(t, BulkRequestPending, request.Status)
	assert.Nil(t, request.JobID)

	found, err := DB.GetBulkRequest(request.ID)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, request.ID, found.ID)
	assert.Equal(t, BulkRequestProductImport, found.Type)
}

func TestGetBulkRequestForCompanyScopesTenant(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	otherCompany, err := DB.CreateCompany("otherCompany", "test", "22222222-2222-2222-2222-222222222222")
	assert.NoError(t, err)

	request := createTestBulkRequest(t, company)

	found, err := DB.GetBulkRequestForCompany(request.ID, company.ID)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.NotNil(t, found.File)
	assert.Equal(t, request.FileID, found.File.ID)

	crossTenant, err := DB.GetBulkRequestForCompany(request.ID, otherCompany.ID)
	assert.NoError(t, err)
	assert.Nil(t, crossTenant)
}

func TestSetBulkRequestJobIDOnlyOnce(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	request := createTestBulkRequest(t, company)

	set, err := DB.SetBulkRequestJobID(request.ID, "product_import-1111-aaaa")
	assert.NoError(t, err)
	assert.True(t, set)

	// second assignment loses, the stored id stays put
	set, err = DB.SetBulkRequestJobID(request.ID, "product_import-2222-bbbb")
	assert.NoError(t, err)
	assert.False(t, set)

	found, err := DB.GetBulkRequest(request.ID)
	assert.NoError(t, err)
	assert.NotNil(t, found.JobID)
	assert.Equal(t, "product_import-1111-aaaa", *found.JobID)
}

func TestTransitionBulkRequestStatus(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	request := createTestBulkRequest(t, company)

	changed, err := DB.TransitionBulkRequestStatus(request.ID, []BulkRequestStatus{BulkRequestPending}, BulkRequestProcessing)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = DB.TransitionBulkRequestStatus(request.ID, []BulkRequestStatus{BulkRequestPending}, BulkRequestProcessing)
	assert.NoError(t, err)
	assert.False(t, changed)

	changed, err = DB.TransitionBulkRequestStatus(request.ID, []BulkRequestStatus{BulkRequestProcessing}, BulkRequestCancelling)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = DB.TransitionBulkRequestStatus(request.ID, []BulkRequestStatus{BulkRequestProcessing, BulkRequestCancelling}, BulkRequestCancelled)
	assert.NoError(t, err)
	assert.True(t, changed)

	found, err := DB.GetBulkRequest(request.ID)
	assert.NoError(t, err)
	assert.Equal(t, BulkRequestCancelled, found.Status)
	assert.True(t, found.Status.IsTerminal())
}

func TestUpdateBulkRequestProgressRequiresActiveStatus(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	request := createTestBulkRequest(t, company)

	// still pending, progress reports are dropped
	applied, err := DB.UpdateBulkRequestProgress(request.ID, 10, 9, 1)
	assert.NoError(t, err)
	assert.False(t, applied)

	changed, err := DB.TransitionBulkRequestStatus(request.ID, []BulkRequestStatus{BulkRequestPending}, BulkRequestProcessing)
	assert.NoError(t, err)
	assert.True(t, changed)

	applied, err = DB.UpdateBulkRequestProgress(request.ID, 10, 9, 1)
	assert.NoError(t, err)
	assert.True(t, applied)

	found, err := DB.GetBulkRequest(request.ID)
	assert.NoError(t, err)
	assert.Equal(t, 10, found.ProcessedRows)
	assert.Equal(t, 9, found.SuccessfulRows)
	assert.Equal(t, 1, found.FailedRows)
}

func TestBulkRequestMetadata(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	request := createTestBulkRequest(t, company)

	err := request.SetMetadataValue("prior_file_status", string(FileUploaded))
	assert.NoError(t, err)
	err = request.SetMetadataValue("failure_reason", "csv header mismatch")
	assert.NoError(t, err)
	err = DB.UpdateBulkRequest(request)
	assert.NoError(t, err)

	found, err := DB.GetBulkRequest(request.ID)
	assert.NoError(t, err)

	prior, ok := found.MetadataValue("prior_file_status")
	assert.True(t, ok)
	assert.Equal(t, "uploaded", prior)

	reason, ok := found.MetadataValue("failure_reason")
	assert.True(t, ok)
	assert.Equal(t, "csv header mismatch", reason)

	_, ok = found.MetadataValue("missing")
	assert.False(t, ok)
}
