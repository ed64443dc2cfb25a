package models

import "time"

// LedgerEvent is one committed ledger event, in chain order
type LedgerEvent struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Height     int64     `gorm:"column:height;not null;uniqueIndex:idx_event_position"`
	TxIndex    int       `gorm:"column:tx_index;not null;uniqueIndex:idx_event_position"`
	EventIndex int       `gorm:"column:event_index;not null;uniqueIndex:idx_event_position"`
	TxHash     string    `gorm:"column:tx_hash;type:varchar(64);index"`
	Type       string    `gorm:"column:type;type:varchar(32);index;not null"`
	BatchID    *uint64   `gorm:"column:batch_id;index"`
	Caller     string    `gorm:"column:caller;type:varchar(128)"`
	Payload    string    `gorm:"column:payload;type:jsonb"`
	Timestamp  time.Time `gorm:"column:timestamp;not null"`
}
