package models

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (db *Database) GetCompanyById(companyId any) (*Company, error) {
	slog.Info("getting company by id",
		"companyId", companyId,
		"companyIdType", fmt.Sprintf("%T", companyId))

	company := Company{}
	err := db.GormDB.Where("id = ?", companyId).First(&company).Error
	if err != nil {
		return nil, fmt.Errorf("Error fetching company: %v", err)
	}
	return &company, nil
}

func (db *Database) GetCompany(tenantId any) (*Company, error) {
	company := &Company{}
	result := db.GormDB.Take(company, "external_id = ?", tenantId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("company not found", "tenantId", tenantId)
			return nil, nil
		} else {
			slog.Error("error fetching company",
				"tenantId", tenantId,
				"error", result.Error)
			return nil, result.Error
		}
	}

	slog.Debug("fetched company", "tenantId", tenantId, "companyId", company.ID)
	return company, nil
}

func (db *Database) CreateCompany(name string, externalSource string, tenantId string) (*Company, error) {
	company := &Company{Name: name, ExternalSource: externalSource, ExternalId: tenantId}
	result := db.GormDB.Save(company)
	if result.Error != nil {
		slog.Error("failed to create company",
			"name", name,
			"externalSource", externalSource,
			"tenantId", tenantId,
			"error", result.Error)
		return nil, result.Error
	}
	slog.Info("company created successfully",
		"name", name,
		"companyId", company.ID,
		"externalSource", externalSource,
		"tenantId", tenantId)
	return company, nil
}

func (db *Database) GetUser(externalId any) (*User, error) {
	user := &User{}
	result := db.GormDB.Take(user, "external_id = ?", externalId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("user not found", "externalId", externalId)
			return nil, nil
		} else {
			slog.Error("error fetching user",
				"externalId", externalId,
				"error", result.Error)
			return nil, result.Error
		}
	}
	return user, nil
}

func (db *Database) CreateUser(email string, externalSource string, externalId string, companyId uint, username string) (*User, error) {
	user := &User{
		Email:          email,
		ExternalId:     externalId,
		ExternalSource: externalSource,
		CompanyId:      &companyId,
		Username:       username,
	}
	result := db.GormDB.Save(user)
	if result.Error != nil {
		slog.Error("failed to create user",
			"externalId", externalId,
			"email", email,
			"companyId", companyId,
			"error", result.Error)
		return nil, result.Error
	}
	slog.Info("user created successfully",
		"userId", user.ID,
		"externalId", externalId,
		"email", email,
		"companyId", companyId)
	return user, nil
}

func (db *Database) GetToken(value any) (*Token, error) {
	token := &Token{}
	result := db.GormDB.Take(token, "value = ?", value)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("token not found")
			return nil, nil
		} else {
			slog.Error("error fetching token", "error", result.Error)
			return nil, result.Error
		}
	}
	slog.Debug("token found", "tokenId", token.ID)
	return token, nil
}

func (db *Database) CreateWorkerToken(companyId uint) (*WorkerToken, error) {
	// prefixing token to make easier to retire this type of tokens later
	token := "worker:" + uuid.New().String()
	workerToken := &WorkerToken{
		Value:     token,
		CompanyID: companyId,
		Type:      WorkerJobAccessType,
		Expiry:    time.Now().Add(time.Hour * 2), // some imports can take a while
	}

	err := db.GormDB.Create(workerToken).Error
	if err != nil {
		slog.Error("failed to create worker token",
			"companyId", companyId,
			"error", err)
		return nil, err
	}

	slog.Info("worker token created successfully",
		"tokenId", workerToken.ID,
		"companyId", companyId,
		"expiry", workerToken.Expiry.Format(time.RFC3339))
	return workerToken, nil
}

func (db *Database) GetWorkerToken(value any) (*WorkerToken, error) {
	token := &WorkerToken{}
	result := db.GormDB.Take(token, "value = ?", value)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("worker token not found")
			return nil, nil
		} else {
			slog.Error("error fetching worker token", "error", result.Error)
			return nil, result.Error
		}
	}

	slog.Debug("worker token found",
		"tokenId", token.ID,
		"companyId", token.CompanyID,
		"type", token.Type)
	return token, nil
}

func (db *Database) RevokeToken(jti string, companyId uint, expiresAt time.Time) (*RevokedToken, error) {
	revoked := &RevokedToken{
		JTI:       jti,
		CompanyID: companyId,
		RevokedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	result := db.GormDB.Save(revoked)
	if result.Error != nil {
		slog.Error("failed to revoke token",
			"jti", jti,
			"companyId", companyId,
			"error", result.Error)
		return nil, result.Error
	}
	slog.Info("token revoked", "jti", jti, "companyId", companyId)
	return revoked, nil
}

// GetActiveRevokedJTIs returns the jti values of revoked tokens that have not
// expired yet, the in-process cache is rebuilt from this list.
func (db *Database) GetActiveRevokedJTIs() ([]string, error) {
	var jtis []string
	err := db.GormDB.Model(&RevokedToken{}).
		Where("expires_at > ?", time.Now()).
		Pluck("jti", &jtis).Error
	if err != nil {
		slog.Error("error fetching revoked tokens", "error", err)
		return nil, err
	}
	return jtis, nil
}

func (db *Database) DeleteExpiredRevokedTokens() (int64, error) {
	result := db.GormDB.Unscoped().
		Where("expires_at <= ?", time.Now()).
		Delete(&RevokedToken{})
	if result.Error != nil {
		slog.Error("error deleting expired revoked tokens", "error", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		slog.Info("deleted expired revoked tokens", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
