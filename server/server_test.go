package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/metrics"
	"github.com/anisnazira/halal-supply-blockchain/repository"
	"github.com/anisnazira/halal-supply-blockchain/repository/models"
	"github.com/anisnazira/halal-supply-blockchain/srvreg"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	lastCmd *ledger.Command
}

func (s *stubBackend) RunConsensus(ctx context.Context, cmd *ledger.Command) (*repository.ConsensusResult, *repository.RepositoryError) {
	s.lastCmd = cmd
	if cmd.Caller != "0xFARM" {
		return nil, &repository.RepositoryError{Code: repository.ErrCodeLedger, Message: "Transaction rejected by ledger", LedgerCode: ledger.CodeUnauthorized}
	}
	return &repository.ConsensusResult{TxHash: "abcd", BlockHeight: 8, Data: json.RawMessage(`{"id":1,"details":"Lot"}`)}, nil
}

func (s *stubBackend) Query(ctx context.Context, path, data string) (json.RawMessage, *repository.RepositoryError) {
	return nil, &repository.RepositoryError{Code: repository.ErrCodeLedger, Message: "Query rejected by ledger", LedgerCode: ledger.CodeNotFound}
}

func (s *stubBackend) GetAuditBatch(ctx context.Context, id uint64) (*models.Batch, *repository.RepositoryError) {
	return nil, &repository.RepositoryError{Code: repository.ErrCodeConfig, Message: "Audit database not configured"}
}

func (s *stubBackend) ListBatchEvents(ctx context.Context, id uint64) ([]models.LedgerEvent, *repository.RepositoryError) {
	return nil, nil
}

type stubChain struct{}

func (stubChain) Status(ctx context.Context) (*cmtrpctypes.ResultStatus, error) {
	return &cmtrpctypes.ResultStatus{SyncInfo: cmtrpctypes.SyncInfo{LatestBlockHeight: 8}}, nil
}

func (stubChain) ABCIInfo(ctx context.Context) (*cmtrpctypes.ResultABCIInfo, error) {
	return &cmtrpctypes.ResultABCIInfo{Response: abcitypes.InfoResponse{LastBlockHeight: 8, LastBlockAppHash: []byte{0xca, 0xfe}}}, nil
}

func (stubChain) Block(ctx context.Context, height *int64) (*cmtrpctypes.ResultBlock, error) {
	if *height > 8 {
		return nil, errors.New("height must be less than or equal to the current blockchain height")
	}
	cmd := &ledger.Command{RequestID: "r1", Op: ledger.OpCreateBatch, Caller: "0xFARM", Details: "Lot"}
	raw, _ := ledger.EncodeCommand(cmd)
	block := &cmttypes.Block{
		Header: cmttypes.Header{Height: *height, Time: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		Data:   cmttypes.Data{Txs: cmttypes.Txs{raw, []byte("garbage")}},
	}
	return &cmtrpctypes.ResultBlock{Block: block}, nil
}

type stubVerifier struct{}

func (stubVerifier) VerifyTx(ctx context.Context, txID string) (*repository.TxVerification, *repository.RepositoryError) {
	if txID != "abcd" {
		return nil, &repository.RepositoryError{Code: repository.ErrCodeLedger, LedgerCode: ledger.CodeNotFound}
	}
	return &repository.TxVerification{
		TxID:    txID,
		Status:  "OK",
		Command: &ledger.Command{RequestID: "r1", Op: ledger.OpCreateBatch, Caller: "0xFARM"},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubBackend) {
	t.Helper()
	backend := &stubBackend{}
	sr := srvreg.NewServiceRegistry(backend, cmtlog.NewNopLogger())
	sr.RegisterDefaultServices()

	reg := prometheus.NewRegistry()
	ws := NewWebServer(
		Config{HTTPPort: "0", NodeID: "node-a", RPCAddress: "tcp://0.0.0.0:26657"},
		cmtlog.NewNopLogger(), sr, stubChain{}, stubVerifier{}, metrics.New(reg), reg,
	)
	srv := httptest.NewServer(ws.Router())
	t.Cleanup(srv.Close)
	return srv, backend
}

func doRequest(t *testing.T, method, url, principal, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if principal != "" {
		req.Header.Set(srvreg.PrincipalHeader, principal)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestLedgerAPIWrapsConsensusMeta(t *testing.T) {
	srv, backend := newTestServer(t)

	resp, out := doRequest(t, http.MethodPost, srv.URL+"/batches", "0xFARM", `{"details":"Lot"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	meta := out["meta"].(map[string]interface{})
	assert.Equal(t, "abcd", meta["tx_id"])
	assert.Equal(t, float64(8), meta["block_height"])
	assert.Equal(t, "confirmed", meta["status"])
	assert.Equal(t, "node-a", out["node_id"])
	assert.Equal(t, "Lot", out["body"].(map[string]interface{})["details"])

	require.NotNil(t, backend.lastCmd)
	assert.Equal(t, meta["request_id"], backend.lastCmd.RequestID)
	assert.Equal(t, ledger.Principal("0xFARM"), backend.lastCmd.Caller)
}

func TestLedgerAPIErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := doRequest(t, http.MethodPost, srv.URL+"/batches", "0xSHOP", `{"details":"Lot"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "rejected", out["meta"].(map[string]interface{})["status"])
	assert.Equal(t, "Unauthorized", out["body"].(map[string]interface{})["code"])

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/batches/4", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/audit/batches/4", "", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestTransactionStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := doRequest(t, http.MethodGet, srv.URL+"/status/abcd", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", out["status"])
	assert.Equal(t, "createBatch", out["op"])

	resp, out = doRequest(t, http.MethodGet, srv.URL+"/status/ABCD", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "hashes are matched case-insensitively")
	assert.Equal(t, "abcd", out["tx_id"])

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/status/ffff", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBlock(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := doRequest(t, http.MethodGet, srv.URL+"/block/3", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), out["height"])
	assert.Len(t, out["commands"], 1)
	assert.Len(t, out["txs_b64"], 2)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/block/99", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/block/zero", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDebugAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := doRequest(t, http.MethodGet, srv.URL+"/debug", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "node-a", out["node_id"])
	assert.Equal(t, "CAFE", out["last_block_app_hash"])

	doRequest(t, http.MethodPost, srv.URL+"/batches", "0xFARM", `{"details":"Lot"}`)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `halal_ledger_http_requests_total{route="/batches",status="201"} 1`)
}

func TestExtractPortFromAddress(t *testing.T) {
	assert.Equal(t, "26657", extractPortFromAddress("tcp://0.0.0.0:26657"))
	assert.Equal(t, "", extractPortFromAddress("localhost"))
}
