package models

import "time"

// Batch mirrors the current state of a poultry batch
type Batch struct {
	ID        uint64    `gorm:"column:batch_id;primaryKey;autoIncrement:false"`
	Details   string    `gorm:"column:details;type:text"`
	Stage     string    `gorm:"column:stage;type:varchar(20);not null"`
	Status    string    `gorm:"column:status;type:varchar(40);not null"`
	CreatedBy string    `gorm:"column:created_by;type:varchar(128)"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`

	// Relationships
	Certificate *Certificate     `gorm:"foreignKey:BatchID"`
	Shipments   []ShipmentRecord `gorm:"foreignKey:BatchID"`
}

// Certificate is the halal certificate of a batch
type Certificate struct {
	BatchID  uint64    `gorm:"column:batch_id;primaryKey;autoIncrement:false"`
	CertHash string    `gorm:"column:cert_hash;type:text;not null"`
	IssuedBy string    `gorm:"column:issued_by;type:varchar(128)"`
	IssuedAt time.Time `gorm:"column:issued_at;not null"`
}

// ShipmentRecord is one entry of a batch's shipment log
type ShipmentRecord struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID   uint64    `gorm:"column:batch_id;index;not null"`
	Location  string    `gorm:"column:location;type:text"`
	Status    string    `gorm:"column:status;type:text"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
	TxHash    string    `gorm:"column:tx_hash;type:varchar(64);uniqueIndex"`
}
