package models

import (
	"gorm.io/gorm"
)

type Company struct {
	gorm.Model
	Name           string `gorm:"Index:idx_company"`
	ExternalSource string `gorm:"uniqueIndex:idx_company_external_source"`
	ExternalId     string `gorm:"uniqueIndex:idx_company_external_source"`
}

type User struct {
	gorm.Model
	Email          string `gorm:"uniqueIndex"`
	ExternalSource string `gorm:"uniqueIndex:idx_user_external_source"`
	ExternalId     string `gorm:"uniqueIndex:idx_user_external_source"`
	// the company this user belongs to
	CompanyId *uint
	Company   Company
	Username  string `gorm:"uniqueIndex:idx_user"`
}
