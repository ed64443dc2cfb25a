package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/repository/models"
	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL error codes as constants
const (
	// Class 23, integrity constraint violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08, connection exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure
)

// Repository error codes
const (
	ErrCodeSerialization    = "SERIALIZATION_ERROR"
	ErrCodeConsensusTimeout = "CONSENSUS_TIMEOUT"
	ErrCodeConsensus        = "CONSENSUS_ERROR"
	ErrCodeLedger           = "LEDGER_ERROR"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeNotFound         = "ENTITY_NOT_FOUND"
	ErrCodeConfig           = "CONFIG_ERROR"
)

// ConsensusClient is the part of the CometBFT RPC client the repository uses.
// *local.Local satisfies it.
type ConsensusClient interface {
	BroadcastTxCommit(ctx context.Context, tx cmttypes.Tx) (*cmtrpctypes.ResultBroadcastTxCommit, error)
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*cmtrpctypes.ResultABCIQuery, error)
}

// ConsensusResult contains the result of a committed command
type ConsensusResult struct {
	TxHash      string
	BlockHeight int64
	Code        uint32
	Data        json.RawMessage
}

// TxVerification is the stored record of an executed transaction
type TxVerification struct {
	TxID    string          `json:"tx_id"`
	Status  string          `json:"status"`
	Command *ledger.Command `json:"command"`
}

// RepositoryError represent an error in the repository layer (db/rpc). For
// ledger rejections LedgerCode carries the ledger result code.
type RepositoryError struct {
	Code       string
	Message    string
	Detail     string
	LedgerCode ledger.Code
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Detail
}

// Repository bridges the web layer to consensus and to the audit database
type Repository struct {
	db        *gorm.DB
	rpcClient ConsensusClient
	logger    cmtlog.Logger

	connectAttempts int
	retryDelay      time.Duration
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{
		logger:          logger,
		connectAttempts: 10,
		retryDelay:      2 * time.Second,
	}
}

// ConnectDB opens the audit database, retrying while Postgres starts up
func (r *Repository) ConnectDB(dsn string) error {
	var lastErr error
	for i := range r.connectAttempts {
		r.logger.Info("Connection attempt", "attempt", i+1)
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			r.db = db
			r.logger.Info("Connected to Postgres")
			return nil
		}
		lastErr = err
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(r.retryDelay)
	}
	return fmt.Errorf("connect to postgres after %d attempts: %w", r.connectAttempts, lastErr)
}

// UseDB sets an already opened database handle
func (r *Repository) UseDB(db *gorm.DB) {
	r.db = db
}

// DB returns the audit database handle, nil when the projection is disabled
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Migrate creates or updates the audit tables
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.LedgerEvent{},
		&models.Batch{},
		&models.Certificate{},
		&models.ShipmentRecord{},
		&models.RoleGrant{},
	)
	if err != nil {
		return fmt.Errorf("migrate audit tables: %w", err)
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

func (r *Repository) SetupRpcClient(rpcClient ConsensusClient) {
	r.rpcClient = rpcClient
}

// RunConsensus submits cmd and waits until it is committed in a block. A
// command the ledger rejects is reported with its ledger code.
func (r *Repository) RunConsensus(ctx context.Context, cmd *ledger.Command) (*ConsensusResult, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: ErrCodeConfig, Message: "Consensus client not configured"}
	}
	payload, err := ledger.EncodeCommand(cmd)
	if err != nil {
		return nil, &RepositoryError{
			Code:    ErrCodeSerialization,
			Message: "Failed to serialize command",
			Detail:  err.Error(),
		}
	}

	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, cmttypes.Tx(payload))
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    ErrCodeConsensusTimeout,
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    ErrCodeConsensus,
				Message: "Failed to commit to blockchain",
				Detail:  result.err.Error(),
			}
		}
		res := result.result
		if res.CheckTx.Code != 0 {
			return nil, ledgerError("Transaction rejected by mempool", res.CheckTx.Code, res.CheckTx.Log)
		}
		if res.TxResult.Code != 0 {
			return nil, ledgerError("Transaction rejected by ledger", res.TxResult.Code, res.TxResult.Log)
		}
		return &ConsensusResult{
			TxHash:      hex.EncodeToString(res.Hash),
			BlockHeight: res.Height,
			Code:        res.TxResult.Code,
			Data:        res.TxResult.Data,
		}, nil
	}
}

// Query runs an ABCI query against committed state and returns its JSON value
func (r *Repository) Query(ctx context.Context, path, data string) (json.RawMessage, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: ErrCodeConfig, Message: "Consensus client not configured"}
	}
	res, err := r.rpcClient.ABCIQuery(ctx, path, cmtbytes.HexBytes(data))
	if err != nil {
		return nil, &RepositoryError{
			Code:    ErrCodeConsensus,
			Message: "Query failed",
			Detail:  err.Error(),
		}
	}
	if res.Response.Code != 0 {
		return nil, ledgerError("Query rejected by ledger", res.Response.Code, res.Response.Log)
	}
	return res.Response.Value, nil
}

// VerifyTx returns the stored command and execution status of a transaction
func (r *Repository) VerifyTx(ctx context.Context, txID string) (*TxVerification, *RepositoryError) {
	if r.rpcClient == nil {
		return nil, &RepositoryError{Code: ErrCodeConfig, Message: "Consensus client not configured"}
	}
	res, err := r.rpcClient.ABCIQuery(ctx, "", cmtbytes.HexBytes("verify:"+txID))
	if err != nil {
		return nil, &RepositoryError{Code: ErrCodeConsensus, Message: "Query failed", Detail: err.Error()}
	}
	if res.Response.Code != 0 {
		return nil, ledgerError("Transaction lookup failed", res.Response.Code, res.Response.Log)
	}
	var cmd ledger.Command
	if err := json.Unmarshal(res.Response.Value, &cmd); err != nil {
		return nil, &RepositoryError{Code: ErrCodeSerialization, Message: "Stored transaction is not a command", Detail: err.Error()}
	}
	return &TxVerification{TxID: txID, Status: res.Response.Log, Command: &cmd}, nil
}

// GetAuditBatch returns the projected batch with its certificate and shipments
func (r *Repository) GetAuditBatch(ctx context.Context, id uint64) (*models.Batch, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{Code: ErrCodeConfig, Message: "Audit database not configured"}
	}
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Preload("Certificate").
		Preload("Shipments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("batch_id = ?", id).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:       ErrCodeNotFound,
				Message:    "Batch does not exist",
				Detail:     fmt.Sprintf("Batch with id %d does not exist", id),
				LedgerCode: ledger.CodeNotFound,
			}
		}
		return nil, dbError(err)
	}
	return &batch, nil
}

// ListBatchEvents returns the committed events of a batch in chain order
func (r *Repository) ListBatchEvents(ctx context.Context, id uint64) ([]models.LedgerEvent, *RepositoryError) {
	if r.db == nil {
		return nil, &RepositoryError{Code: ErrCodeConfig, Message: "Audit database not configured"}
	}
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("height, tx_index, event_index").
		Find(&events).Error
	if err != nil {
		return nil, dbError(err)
	}
	return events, nil
}

func ledgerError(message string, code uint32, log string) *RepositoryError {
	return &RepositoryError{
		Code:       ErrCodeLedger,
		Message:    message,
		Detail:     log,
		LedgerCode: ledger.Code(code),
	}
}

func dbError(err error) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:       pgErr.Code,
			Message:    pgErr.Message,
			Detail:     pgErr.Detail,
			LedgerCode: ledger.CodeInternal,
		}
	}
	return &RepositoryError{
		Code:       ErrCodeDatabase,
		Message:    "Database error occured",
		Detail:     err.Error(),
		LedgerCode: ledger.CodeInternal,
	}
}
