package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FileStatus string

const (
	FileUploaded   FileStatus = "uploaded"
	FileProcessing FileStatus = "processing"
	FileProcessed  FileStatus = "processed"
	FileFailed     FileStatus = "failed"
	FileDeleted    FileStatus = "deleted"
)

type File struct {
	ID          uuid.UUID `gorm:"primary_key"`
	CompanyID   uint      `gorm:"index:idx_file_company"`
	Company     *Company
	UploaderID  uint
	Uploader    *User
	Name        string
	ContentType string
	SizeBytes   int64
	Status      FileStatus `gorm:"default:'uploaded'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (f *File) MapToJsonStruct() interface{} {
	return struct {
		Id          string    `json:"id"`
		CompanyID   uint      `json:"company_id"`
		Name        string    `json:"name"`
		ContentType string    `json:"content_type"`
		SizeBytes   int64     `json:"size_bytes"`
		Status      string    `json:"status"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}{
		Id:          f.ID.String(),
		CompanyID:   f.CompanyID,
		Name:        f.Name,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		Status:      string(f.Status),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Product is the catalog entity bulk imports target. Rows are written by the
// processing workers, the backend only reads them.
type Product struct {
	gorm.Model
	CompanyID  uint   `gorm:"uniqueIndex:idx_product"`
	Company    *Company
	SKU        string `gorm:"uniqueIndex:idx_product"`
	Name       string
	PriceCents int64
	Currency   string
	StockLevel int
}

func (p *Product) MapToJsonStruct() interface{} {
	return struct {
		Id         uint   `json:"id"`
		CompanyID  uint   `json:"company_id"`
		SKU        string `json:"sku"`
		Name       string `json:"name"`
		PriceCents int64  `json:"price_cents"`
		Currency   string `json:"currency"`
		StockLevel int    `json:"stock_level"`
	}{
		Id:         p.ID,
		CompanyID:  p.CompanyID,
		SKU:        p.SKU,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Currency:   p.Currency,
		StockLevel: p.StockLevel,
	}
}
