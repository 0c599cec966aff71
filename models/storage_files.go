package models

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (db *Database) GetFilesFromContext(c *gin.Context, companyIdKey string) ([]File, bool) {
	loggedInCompanyId, exists := c.Get(companyIdKey)

	slog.Info("getting files from context", "companyId", loggedInCompanyId)

	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return nil, false
	}

	var files []File

	err := db.GormDB.
		Where("files.company_id = ?", loggedInCompanyId).
		Order("created_at desc").Find(&files).Error

	if err != nil {
		slog.Error("error fetching files from database", "error", err)
		return nil, false
	}

	slog.Info("fetched files from context", "count", len(files))
	return files, true
}

func (db *Database) GetFile(fileId any) (*File, error) {
	file := &File{}
	result := db.GormDB.Take(file, "id = ?", fileId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("file not found", "fileId", fileId)
			return nil, nil
		} else {
			slog.Error("error fetching file",
				"fileId", fileId,
				"error", result.Error)
			return nil, result.Error
		}
	}
	return file, nil
}

func (db *Database) GetFileForCompany(fileId any, companyId any) (*File, error) {
	file := &File{}
	result := db.GormDB.Take(file, "id = ? AND company_id = ?", fileId, companyId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("file not found for company",
				"fileId", fileId,
				"companyId", companyId)
			return nil, nil
		} else {
			slog.Error("error fetching file",
				"fileId", fileId,
				"companyId", companyId,
				"error", result.Error)
			return nil, result.Error
		}
	}
	return file, nil
}

func (db *Database) CreateFile(companyId uint, uploaderId uint, name string, contentType string, sizeBytes int64) (*File, error) {
	uid := uuid.New()
	file := &File{
		ID:          uid,
		CompanyID:   companyId,
		UploaderID:  uploaderId,
		Name:        name,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Status:      FileUploaded,
	}
	result := db.GormDB.Save(file)
	if result.Error != nil {
		slog.Error("failed to create file",
			"companyId", companyId,
			"name", name,
			"error", result.Error)
		return nil, result.Error
	}

	slog.Info("file created successfully",
		"fileId", file.ID,
		"companyId", companyId,
		"name", name)
	return file, nil
}

// TransitionFileStatus flips the file status only when the current status
// matches, reporting whether the row was changed. Concurrent writers race on
// the same guard so at most one of them wins.
func (db *Database) TransitionFileStatus(fileId uuid.UUID, from FileStatus, to FileStatus) (bool, error) {
	result := db.GormDB.Model(&File{}).
		Where("id = ? AND status = ?", fileId, from).
		Update("status", to)
	if result.Error != nil {
		slog.Error("failed to transition file status",
			"fileId", fileId,
			"from", from,
			"to", to,
			"error", result.Error)
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		slog.Debug("file status transition did not apply",
			"fileId", fileId,
			"from", from,
			"to", to)
		return false, nil
	}

	slog.Info("file status transitioned",
		"fileId", fileId,
		"from", from,
		"to", to)
	return true, nil
}

// SetFileStatus writes the file status unconditionally, used by rollback
// paths that restore a previously recorded status.
func (db *Database) SetFileStatus(fileId uuid.UUID, status FileStatus) error {
	result := db.GormDB.Model(&File{}).
		Where("id = ?", fileId).
		Update("status", status)
	if result.Error != nil {
		slog.Error("failed to set file status",
			"fileId", fileId,
			"status", status,
			"error", result.Error)
		return result.Error
	}
	slog.Info("file status set", "fileId", fileId, "status", status)
	return nil
}

func (db *Database) GetProductsForCompany(companyId any) ([]Product, error) {
	var products []Product
	err := db.GormDB.
		Where("company_id = ?", companyId).
		Order("sku").Find(&products).Error
	if err != nil {
		slog.Error("error fetching products",
			"companyId", companyId,
			"error", err)
		return nil, err
	}
	return products, nil
}
