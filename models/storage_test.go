package models

import (
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSuite(tb testing.TB) (func(tb testing.TB), *Database, *Company) {
	log.Println("setup suite")

	// database file name
	dbName := "database_storage_test.db"

	// remove old database
	e := os.Remove(dbName)
	if e != nil {
		if !strings.Contains(e.Error(), "no such file or directory") {
			log.Fatal(e)
		}
	}

	// open and create a new database
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		log.Fatal(err)
	}

	// migrate tables
	err = gdb.AutoMigrate(&Company{}, &User{}, &Product{}, &File{},
		&BulkRequest{}, &Token{}, &WorkerToken{}, &RevokedToken{})
	if err != nil {
		log.Fatal(err)
	}

	database := &Database{GormDB: gdb}
	DB = database

	// create a company
	companyTenantId := "11111111-1111-1111-1111-111111111111"
	externalSource := "test"
	companyName := "testCompany"
	company, err := database.CreateCompany(companyName, externalSource, companyTenantId)
	if err != nil {
		log.Fatal(err)
	}

	DB = database
	// Return a function to teardown the test
	return func(tb testing.TB) {
		log.Println("teardown suite")
		err = os.Remove(dbName)
		if err != nil {
			log.Fatal(err)
		}
	}, database, company
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

func TestGetCompany(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	found, err := DB.GetCompany("11111111-1111-1111-1111-111111111111")
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, company.ID, found.ID)

	missing, err := DB.GetCompany("no-such-tenant")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateUser(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	user, err := DB.CreateUser("test@example.com", "test", "user-external-id", company.ID, "testuser")
	assert.NoError(t, err)
	assert.NotNil(t, user)

	found, err := DB.GetUser("user-external-id")
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, company.ID, *found.CompanyId)

	missing, err := DB.GetUser("unknown-external-id")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateFile(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	file, err := DB.CreateFile(company.ID, 1, "products.csv", "text/csv", 2048)
	assert.NoError(t, err)
	assert.NotNil(t, file)
	assert.Equal(t, FileUploaded, file.Status)

	found, err := DB.GetFile(file.ID)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, file.ID, found.ID)
	assert.Equal(t, "products.csv", found.Name)
}

func TestGetFileForCompanyScopesTenant(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	otherCompany, err := DB.CreateCompany("otherCompany", "test", "22222222-2222-2222-2222-222222222222")
	assert.NoError(t, err)

	file, err := DB.CreateFile(company.ID, 1, "products.csv", "text/csv", 2048)
	assert.NoError(t, err)

	found, err := DB.GetFileForCompany(file.ID, company.ID)
	assert.NoError(t, err)
	assert.NotNil(t, found)

	crossTenant, err := DB.GetFileForCompany(file.ID, otherCompany.ID)
	assert.NoError(t, err)
	assert.Nil(t, crossTenant)
}

func TestTransitionFileStatus(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	file, err := DB.CreateFile(company.ID, 1, "products.csv", "text/csv", 2048)
	assert.NoError(t, err)

	changed, err := DB.TransitionFileStatus(file.ID, FileUploaded, FileProcessing)
	assert.NoError(t, err)
	assert.True(t, changed)

	// the guard no longer matches, second writer loses
	changed, err = DB.TransitionFileStatus(file.ID, FileUploaded, FileProcessing)
	assert.NoError(t, err)
	assert.False(t, changed)

	found, err := DB.GetFile(file.ID)
	assert.NoError(t, err)
	assert.Equal(t, FileProcessing, found.Status)
}

func TestSetFileStatusRestoresPriorStatus(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	file, err := DB.CreateFile(company.ID, 1, "products.csv", "text/csv", 2048)
	assert.NoError(t, err)

	changed, err := DB.TransitionFileStatus(file.ID, FileUploaded, FileProcessing)
	assert.NoError(t, err)
	assert.True(t, changed)

	err = DB.SetFileStatus(file.ID, FileUploaded)
	assert.NoError(t, err)

	found, err := DB.GetFile(file.ID)
	assert.NoError(t, err)
	assert.Equal(t, FileUploaded, found.Status)
}

func TestCreateWorkerToken(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	token, err := DB.CreateWorkerToken(company.ID)
	assert.NoError(t, err)
	assert.NotNil(t, token)
	assert.True(t, strings.HasPrefix(token.Value, "worker:"))
	assert.Equal(t, WorkerJobAccessType, token.Type)
	assert.True(t, token.Expiry.After(time.Now()))

	found, err := DB.GetWorkerToken(token.Value)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, token.ID, found.ID)

	missing, err := DB.GetWorkerToken("worker:nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRevokedTokens(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	_, err := DB.RevokeToken("jti-active", company.ID, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	_, err = DB.RevokeToken("jti-expired", company.ID, time.Now().Add(-time.Hour))
	assert.NoError(t, err)

	jtis, err := DB.GetActiveRevokedJTIs()
	assert.NoError(t, err)
	assert.Equal(t, []string{"jti-active"}, jtis)

	deleted, err := DB.DeleteExpiredRevokedTokens()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	jtis, err = DB.GetActiveRevokedJTIs()
	assert.NoError(t, err)
	assert.Equal(t, []string{"jti-active"}, jtis)
}

func TestGetProductsForCompany(t *testing.T) {
	teardownSuite, _, company := setupSuite(t)
	defer teardownSuite(t)

	products := []Product{
		{CompanyID: company.ID, SKU: "SKU-2", Name: "Desk", PriceCents: 15900, Currency: "EUR", StockLevel: 4},
		{CompanyID: company.ID, SKU: "SKU-1", Name: "Chair", PriceCents: 4900, Currency: "EUR", StockLevel: 12},
	}
	for i := range products {
		err := DB.GormDB.Save(&products[i]).Error
		assert.NoError(t, err)
	}

	listed, err := DB.GetProductsForCompany(company.ID)
	assert.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.Equal(t, "SKU-1", listed[0].SKU)
	assert.Equal(t, "SKU-2", listed[1].SKU)
}
