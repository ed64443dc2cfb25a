package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/metrics"
	"github.com/anisnazira/halal-supply-blockchain/notify"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/dgraph-io/badger/v4"
)

var (
	keyLastBlockHeight  = []byte("last_block_height")
	keyLastBlockAppHash = []byte("last_block_app_hash")
)

// TxEventType is the ABCI event attached to every executed transaction
const TxEventType = "ledger_tx"

// Application implements the ABCI interface for the ledger nodes
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	blockCache   *ledger.CacheStore
	pending      []notify.Envelope
	pendingH     int64
	publisher    notify.Publisher
	metrics      *metrics.Metrics
	mu           sync.Mutex
	config       *AppConfig
	logger       cmtlog.Logger
}

// AppConfig contains configuration for the application
type AppConfig struct {
	NodeID string
	// Administrator is used by InitChain when the genesis app_state names none
	Administrator string
	LogAllTxs     bool // Whether to log all transactions, even failed ones
}

// GenesisState is the app_state section of genesis.json
type GenesisState struct {
	Administrator string `json:"administrator"`
}

// NewABCIApplication creates a new application. publisher may be nil.
func NewABCIApplication(badgerDB *badger.DB, config *AppConfig, logger cmtlog.Logger, publisher notify.Publisher, m *metrics.Metrics) *Application {
	if config == nil {
		config = &AppConfig{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Application{
		badgerDB:  badgerDB,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

// SetNodeID records the CometBFT node id once the node key is loaded
func (app *Application) SetNodeID(id string) {
	app.config.NodeID = id
}

// Info implements the ABCI Info method
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	var lastBlockHeight int64
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		s := &txnStore{txn: txn}
		raw, found, err := s.Get(keyLastBlockHeight)
		if err != nil || !found {
			return err
		}
		lastBlockHeight = bytesToInt64(raw)
		lastBlockAppHash, _, err = s.Get(keyLastBlockAppHash)
		return err
	})
	if err != nil {
		app.logger.Error("Error getting last block info", "err", err)
	}

	return &abcitypes.InfoResponse{
		Data:             "halal-supply-ledger",
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// CheckTx implements the ABCI CheckTx method. Only stateless checks run here;
// role and stage rules are evaluated when the block executes.
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	if _, err := ledger.DecodeCommand(check.Tx); err != nil {
		return &abcitypes.CheckTxResponse{
			Code:      uint32(ledger.CodeOf(err)),
			Codespace: ledger.Codespace,
			Log:       err.Error(),
		}, nil
	}
	return &abcitypes.CheckTxResponse{Code: abcitypes.CodeTypeOK}, nil
}

// InitChain implements the ABCI InitChain method. It fixes the administrator.
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	admin := app.config.Administrator
	if len(chain.AppStateBytes) > 0 {
		var genesis GenesisState
		if err := json.Unmarshal(chain.AppStateBytes, &genesis); err != nil {
			return nil, fmt.Errorf("parse genesis app_state: %w", err)
		}
		if genesis.Administrator != "" {
			admin = genesis.Administrator
		}
	}
	if admin == "" {
		return nil, errors.New("no administrator in genesis app_state or app config")
	}

	err := app.badgerDB.Update(func(txn *badger.Txn) error {
		return ledger.Init(&txnStore{txn: txn}, ledger.Principal(admin))
	})
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	app.logger.Info("Ledger initialized", "administrator", admin, "chain_id", chain.ChainId)

	// Genesis grants are published at height 0 so projections see them
	if app.publisher != nil {
		var envs []notify.Envelope
		for i, ev := range ledger.GenesisEvents(ledger.Principal(admin), chain.Time) {
			envs = append(envs, notify.Envelope{EventIndex: i, Caller: admin, Event: ev})
		}
		app.publisher.Publish(envs)
	}
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	txs := make([][]byte, 0, len(proposal.Txs))
	var size int64
	for _, tx := range proposal.Txs {
		if _, err := ledger.DecodeCommand(tx); err != nil {
			continue
		}
		size += int64(len(tx))
		if proposal.MaxTxBytes > 0 && size > proposal.MaxTxBytes {
			break
		}
		txs = append(txs, tx)
	}
	return &abcitypes.PrepareProposalResponse{Txs: txs}, nil
}

// ProcessProposal implements the ABCI ProcessProposal method. Every node
// re-executes the commands, so the only thing to vote on is that each tx is
// a well formed command.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, tx := range proposal.Txs {
		if _, err := ledger.DecodeCommand(tx); err != nil {
			app.logger.Info("Voted invalid", "height", proposal.Height, "tx_index", i, "err", err)
			return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT}, nil
		}
	}
	return &abcitypes.ProcessProposalResponse{Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT}, nil
}

// FinalizeBlock implements the ABCI FinalizeBlock method. Transactions run in
// block order. A failing transaction leaves no writes behind.
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock != nil {
		app.onGoingBlock.Discard()
	}
	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	app.blockCache = ledger.NewCacheStore(&txnStore{txn: app.onGoingBlock})
	app.pending = nil
	app.pendingH = req.Height

	prevHash, _, err := app.blockCache.Get(keyLastBlockAppHash)
	if err != nil {
		return nil, fmt.Errorf("read previous app hash: %w", err)
	}
	hasher := sha256.New()
	hasher.Write(prevHash)

	now := req.Time.UTC()
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, txBytes := range req.Txs {
		txID := TxID(txBytes)
		result, envs := app.executeTx(txID, txBytes, now)
		for j := range envs {
			envs[j].Height = req.Height
			envs[j].TxIndex = i
		}
		app.pending = append(app.pending, envs...)
		txResults[i] = result

		hasher.Write([]byte(txID))
		hasher.Write(uint32ToBytes(result.Code))
		hasher.Write(result.Data)
	}
	appHash := hasher.Sum(nil)

	if err := app.blockCache.Set(keyLastBlockHeight, int64ToBytes(req.Height)); err != nil {
		return nil, fmt.Errorf("store block height: %w", err)
	}
	if err := app.blockCache.Set(keyLastBlockAppHash, appHash); err != nil {
		return nil, fmt.Errorf("store app hash: %w", err)
	}
	if err := app.blockCache.Write(); err != nil {
		return nil, fmt.Errorf("flush block %d: %w", req.Height, err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// executeTx runs one transaction against the block cache and stores its
// verification record
func (app *Application) executeTx(txID string, txBytes []byte, now time.Time) (*abcitypes.ExecTxResult, []notify.Envelope) {
	cmd, err := ledger.DecodeCommand(txBytes)
	var out *ledger.Outcome
	if err == nil {
		out, err = ledger.ExecuteAtomic(app.blockCache, cmd, now)
	}
	code := ledger.CodeOf(err)

	if storeErr := app.storeTransaction(txID, txBytes, code); storeErr != nil {
		app.logger.Error("Error storing transaction", "tx_id", txID, "err", storeErr)
	}

	op := "unknown"
	if cmd != nil {
		op = string(cmd.Op)
	}
	app.metrics.ObserveTx(op, code.String())

	if err != nil {
		if app.config.LogAllTxs {
			app.logger.Info("Transaction rejected", "tx_id", txID, "op", op, "code", code.String(), "err", err)
		}
		result := &abcitypes.ExecTxResult{
			Code:      uint32(code),
			Codespace: ledger.Codespace,
			Log:       err.Error(),
		}
		if cmd != nil {
			result.Events = []abcitypes.Event{txEvent(txID, cmd, code)}
		}
		return result, nil
	}

	if cmd.Op == ledger.OpCreateBatch {
		app.metrics.IncrementBatchesCreated()
	}
	if app.config.LogAllTxs {
		app.logger.Info("Transaction executed", "tx_id", txID, "op", op)
	}

	events := []abcitypes.Event{txEvent(txID, cmd, code)}
	envs := make([]notify.Envelope, 0, len(out.Events))
	for j, ev := range out.Events {
		events = append(events, toABCIEvent(ev))
		envs = append(envs, notify.Envelope{
			TxHash:     txID,
			EventIndex: j,
			Caller:     string(cmd.Caller),
			Event:      ev,
		})
	}
	return &abcitypes.ExecTxResult{
		Code:      abcitypes.CodeTypeOK,
		Data:      out.Data,
		Log:       code.String(),
		Codespace: ledger.Codespace,
		Events:    events,
	}, envs
}

// storeTransaction keeps the raw transaction and its result for verify queries
func (app *Application) storeTransaction(txID string, rawTx []byte, code ledger.Code) error {
	if err := app.blockCache.Set(txKey(txID), rawTx); err != nil {
		return err
	}
	return app.blockCache.Set(statusKey(txID), []byte(code.String()))
}

// Commit implements the ABCI Commit method. Events of the block are handed to
// the publisher only once the block is durable.
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.onGoingBlock == nil {
		return &abcitypes.CommitResponse{}, nil
	}
	err := app.onGoingBlock.Commit()
	app.onGoingBlock = nil
	app.blockCache = nil
	if err != nil {
		app.pending = nil
		return nil, fmt.Errorf("commit block %d: %w", app.pendingH, err)
	}

	app.metrics.SetBlockHeight(app.pendingH)
	if app.publisher != nil && len(app.pending) > 0 {
		app.publisher.Publish(app.pending)
	}
	app.pending = nil
	return &abcitypes.CommitResponse{}, nil
}

// ListSnapshots implements the ABCI ListSnapshots method
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

// OfferSnapshot implements the ABCI OfferSnapshot method
func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

// LoadSnapshotChunk implements the ABCI LoadSnapshotChunk method
func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

// ApplySnapshotChunk implements the ABCI ApplySnapshotChunk method
func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

// ExtendVote implements the ABCI ExtendVote method
func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

// VerifyVoteExtension implements the ABCI VerifyVoteExtension method
func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{
		Status: abcitypes.VERIFY_VOTE_EXTENSION_STATUS_ACCEPT,
	}, nil
}

// Helper Functions

// TxID is the hex encoded CometBFT hash of a transaction
func TxID(tx []byte) string {
	return hex.EncodeToString(cmttypes.Tx(tx).Hash())
}

func txKey(txID string) []byte {
	return []byte("tx:" + txID)
}

func statusKey(txID string) []byte {
	return []byte("status:" + txID)
}

func txEvent(txID string, cmd *ledger.Command, code ledger.Code) abcitypes.Event {
	return abcitypes.Event{
		Type: TxEventType,
		Attributes: []abcitypes.EventAttribute{
			{Key: "tx_id", Value: txID, Index: true},
			{Key: "request_id", Value: cmd.RequestID, Index: true},
			{Key: "op", Value: string(cmd.Op), Index: true},
			{Key: "caller", Value: string(cmd.Caller), Index: true},
			{Key: "status", Value: code.String(), Index: true},
		},
	}
}

func toABCIEvent(ev ledger.Event) abcitypes.Event {
	attrs := ev.Attributes()
	out := abcitypes.Event{
		Type:       string(ev.Type),
		Attributes: make([]abcitypes.EventAttribute, 0, len(attrs)),
	}
	for _, a := range attrs {
		out.Attributes = append(out.Attributes, abcitypes.EventAttribute{Key: a.Key, Value: a.Value, Index: true})
	}
	return out
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// int64ToBytes converts an int64 to big endian bytes
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	for n := 7; n >= 0; n-- {
		buf[n] = byte(i)
		i >>= 8
	}
	return buf
}

// bytesToInt64 converts big endian bytes to an int64
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	var i int64
	for _, b := range buf[:8] {
		i = i<<8 | int64(b)
	}
	return i
}
