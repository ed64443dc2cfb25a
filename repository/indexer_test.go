package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/notify"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const insertEvent = `INSERT INTO "ledger_events" .* ON CONFLICT DO NOTHING RETURNING "id"`

func envelope(height int64, eventIndex int, ev ledger.Event) notify.Envelope {
	return notify.Envelope{
		Height:     height,
		TxHash:     "aa",
		EventIndex: eventIndex,
		Caller:     "0xCALLER",
		Event:      ev,
	}
}

func TestIndexerProjectsBlock(t *testing.T) {
	db, mock := newMockDB(t)
	ix := NewIndexer(db, cmtlog.NewNopLogger())
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO "batches" .* ON CONFLICT DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectExec(`UPDATE "batches" SET .* WHERE batch_id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO "certificates" .* ON CONFLICT DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(`INSERT INTO "shipment_records" .* ON CONFLICT DO NOTHING RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "batches" SET .* WHERE batch_id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ix.Deliver(context.Background(), []notify.Envelope{
		envelope(2, 0, ledger.Event{Type: ledger.EventBatchCreated, BatchID: 1, Details: "Lot", Timestamp: ts}),
		envelope(2, 1, ledger.Event{Type: ledger.EventStageUpdated, BatchID: 1, Stage: "Slaughtered", Timestamp: ts}),
		envelope(2, 2, ledger.Event{Type: ledger.EventHalalCertified, BatchID: 1, CertHash: "QmCert", Timestamp: ts}),
		envelope(2, 3, ledger.Event{Type: ledger.EventShipmentRecorded, BatchID: 1, Location: "Hub", Status: "departed", Timestamp: ts}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerUpsertsRoleGrant(t *testing.T) {
	db, mock := newMockDB(t)
	ix := NewIndexer(db, cmtlog.NewNopLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO "role_grants" .* ON CONFLICT \("principal","role"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ix.Deliver(context.Background(), []notify.Envelope{
		envelope(3, 0, ledger.Event{Type: ledger.EventRoleChanged, Principal: "0xP1", Role: ledger.RoleRetailer, Granted: false}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerSkipsReplayedEvents(t *testing.T) {
	db, mock := newMockDB(t)
	ix := NewIndexer(db, cmtlog.NewNopLogger())

	// The event row already exists, so no projection statement follows
	mock.ExpectBegin()
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := ix.Deliver(context.Background(), []notify.Envelope{
		envelope(2, 0, ledger.Event{Type: ledger.EventBatchCreated, BatchID: 1, Details: "Lot"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexerRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	ix := NewIndexer(db, cmtlog.NewNopLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(insertEvent).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE "batches" SET`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := ix.Deliver(context.Background(), []notify.Envelope{
		envelope(4, 0, ledger.Event{Type: ledger.EventBatchReceived, BatchID: 1}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project BatchReceived")
	assert.NoError(t, mock.ExpectationsWereMet())
}
