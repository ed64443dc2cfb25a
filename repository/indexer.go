package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/notify"
	"github.com/anisnazira/halal-supply-blockchain/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Indexer projects committed ledger events into the audit database. It is a
// notify.Sink; a block is written in one database transaction and replayed
// events are skipped.
type Indexer struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

var _ notify.Sink = (*Indexer)(nil)

func NewIndexer(db *gorm.DB, logger cmtlog.Logger) *Indexer {
	return &Indexer{db: db, logger: logger}
}

func (ix *Indexer) Name() string { return "postgres" }

// Deliver stores the events of one block and updates the projections
func (ix *Indexer) Deliver(ctx context.Context, envs []notify.Envelope) error {
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, env := range envs {
			row, err := eventRow(env)
			if err != nil {
				return err
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("insert event %d/%d/%d: %w", env.Height, env.TxIndex, env.EventIndex, res.Error)
			}
			if res.RowsAffected == 0 {
				ix.logger.Debug("Skipping replayed event", "height", env.Height, "tx_index", env.TxIndex)
				continue
			}
			if err := project(tx, env); err != nil {
				return fmt.Errorf("project %s: %w", env.Event.Type, err)
			}
		}
		return nil
	})
}

func eventRow(env notify.Envelope) (models.LedgerEvent, error) {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return models.LedgerEvent{}, fmt.Errorf("marshal event: %w", err)
	}
	row := models.LedgerEvent{
		Height:     env.Height,
		TxIndex:    env.TxIndex,
		EventIndex: env.EventIndex,
		TxHash:     env.TxHash,
		Type:       string(env.Event.Type),
		Caller:     env.Caller,
		Payload:    string(payload),
		Timestamp:  env.Event.Timestamp,
	}
	if env.Event.BatchID != 0 {
		id := env.Event.BatchID
		row.BatchID = &id
	}
	return row, nil
}

func project(tx *gorm.DB, env notify.Envelope) error {
	ev := env.Event
	switch ev.Type {
	case ledger.EventRoleChanged:
		grant := roleGrantRow(ev)
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "principal"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"granted", "updated_at"}),
		}).Create(&grant).Error
	case ledger.EventBatchCreated:
		batch := newBatchRow(env)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error
	case ledger.EventHalalCertified:
		cert := models.Certificate{
			BatchID:  ev.BatchID,
			CertHash: ev.CertHash,
			IssuedBy: env.Caller,
			IssuedAt: ev.Timestamp,
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cert).Error
	case ledger.EventShipmentRecorded:
		rec := models.ShipmentRecord{
			BatchID:   ev.BatchID,
			Location:  ev.Location,
			Status:    ev.Status,
			Timestamp: ev.Timestamp,
			TxHash:    env.TxHash,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
			return err
		}
	}

	updates, ok := stageUpdate(ev)
	if !ok {
		return nil
	}
	return tx.Model(&models.Batch{}).Where("batch_id = ?", ev.BatchID).Updates(updates).Error
}

func roleGrantRow(ev ledger.Event) models.RoleGrant {
	return models.RoleGrant{
		Principal: string(ev.Principal),
		Role:      string(ev.Role),
		Granted:   ev.Granted,
		UpdatedAt: ev.Timestamp,
	}
}

func newBatchRow(env notify.Envelope) models.Batch {
	return models.Batch{
		ID:        env.Event.BatchID,
		Details:   env.Event.Details,
		Stage:     ledger.StageRaw.String(),
		Status:    ledger.StageRaw.Status(),
		CreatedBy: env.Caller,
		CreatedAt: env.Event.Timestamp,
		UpdatedAt: env.Event.Timestamp,
	}
}

// stageUpdate returns the batch columns an event changes, if any
func stageUpdate(ev ledger.Event) (map[string]interface{}, bool) {
	var stage ledger.Stage
	switch ev.Type {
	case ledger.EventStageUpdated:
		s, err := ledger.ParseStage(ev.Stage)
		if err != nil {
			return nil, false
		}
		stage = s
	case ledger.EventShipmentRecorded:
		stage = ledger.StageShipped
	case ledger.EventBatchReceived:
		stage = ledger.StageDelivered
	default:
		return nil, false
	}
	return map[string]interface{}{
		"stage":      stage.String(),
		"status":     stage.Status(),
		"updated_at": ev.Timestamp,
	}, true
}
