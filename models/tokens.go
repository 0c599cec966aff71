package models

import (
	"time"

	"gorm.io/gorm"
)

type Token struct {
	gorm.Model
	Value     string `gorm:"uniqueIndex:idx_token"`
	CompanyID uint
	Company   *Company
	Type      string
}

// WorkerToken is handed to a processing worker together with the dispatched
// job so progress callbacks can authenticate without a user JWT.
type WorkerToken struct {
	gorm.Model
	Value     string `gorm:"uniqueIndex:idx_worker_token"`
	Expiry    time.Time
	CompanyID uint
	Company   Company
	Type      string
}

const (
	AccessPolicyType    = "access"
	AdminPolicyType     = "admin"
	WorkerJobAccessType = "worker_access"
)

// RevokedToken records a JWT jti that must no longer be accepted. Rows are
// kept until the token would have expired on its own and are pruned by the
// maintenance task.
type RevokedToken struct {
	gorm.Model
	JTI       string `gorm:"uniqueIndex:idx_revoked_token"`
	CompanyID uint
	RevokedAt time.Time
	ExpiresAt time.Time
}
