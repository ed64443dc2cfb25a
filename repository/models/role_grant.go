package models

import "time"

// RoleGrant is the latest grant state of a principal's role
type RoleGrant struct {
	Principal string    `gorm:"column:principal;primaryKey;type:varchar(128)"`
	Role      string    `gorm:"column:role;primaryKey;type:varchar(32)"`
	Granted   bool      `gorm:"column:granted;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}
