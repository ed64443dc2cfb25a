package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/metrics"
	"github.com/anisnazira/halal-supply-blockchain/repository"
	"github.com/anisnazira/halal-supply-blockchain/srvreg"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainClient is the part of the CometBFT RPC client the web server reads
// node information from. *local.Local satisfies it.
type ChainClient interface {
	Status(ctx context.Context) (*cmtrpctypes.ResultStatus, error)
	ABCIInfo(ctx context.Context) (*cmtrpctypes.ResultABCIInfo, error)
	Block(ctx context.Context, height *int64) (*cmtrpctypes.ResultBlock, error)
}

// TxVerifier looks up executed transactions
type TxVerifier interface {
	VerifyTx(ctx context.Context, txID string) (*repository.TxVerification, *repository.RepositoryError)
}

// Config holds the web server settings
type Config struct {
	HTTPPort       string
	NodeID         string
	RPCAddress     string
	RequestTimeout time.Duration
}

// WebServer handles HTTP requests
type WebServer struct {
	cfg             Config
	server          *http.Server
	logger          cmtlog.Logger
	startTime       time.Time
	serviceRegistry *srvreg.ServiceRegistry
	chain           ChainClient
	verifier        TxVerifier
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
}

// TransactionStatus represents the execution status of a transaction
type TransactionStatus struct {
	TxID      string           `json:"tx_id"`
	RequestID string           `json:"request_id"`
	Op        ledger.Op        `json:"op"`
	Caller    ledger.Principal `json:"caller"`
	Status    string           `json:"status"`
}

// BlockInfo describes a committed block and the commands it carries
type BlockInfo struct {
	Height   int64            `json:"height"`
	Hash     string           `json:"hash"`
	Time     time.Time        `json:"time"`
	AppHash  string           `json:"app_hash"`
	Commands []ledger.Command `json:"commands"`
	TxsB64   []string         `json:"txs_b64"`
}

// ConsensusMeta is attached to every ledger API response
type ConsensusMeta struct {
	RequestID   string `json:"request_id"`
	TxID        string `json:"tx_id,omitempty"`
	BlockHeight int64  `json:"block_height,omitempty"`
	Status      string `json:"status"`
}

// ClientResponse is the response format sent to clients
type ClientResponse struct {
	Body   interface{}   `json:"body"`
	Meta   ConsensusMeta `json:"meta"`
	NodeID string        `json:"node_id"`
}

// NewWebServer creates a new web server
func NewWebServer(
	cfg Config,
	logger cmtlog.Logger,
	serviceRegistry *srvreg.ServiceRegistry,
	chain ChainClient,
	verifier TxVerifier,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *WebServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ws := &WebServer{
		cfg:             cfg,
		logger:          logger,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		chain:           chain,
		verifier:        verifier,
		metrics:         m,
		gatherer:        gatherer,
	}
	ws.server = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           ws.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Router builds the HTTP routes
func (ws *WebServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", ws.handleRoot)
	r.Get("/debug", ws.handleDebug)
	r.Get("/status/{txID}", ws.handleTransactionStatus)
	r.Get("/block/{height}", ws.handleBlock)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{}))

	// Ledger endpoints are resolved by the service registry
	r.HandleFunc("/roles/*", ws.handleLedgerAPI)
	r.HandleFunc("/batches", ws.handleLedgerAPI)
	r.HandleFunc("/batches/*", ws.handleLedgerAPI)
	r.HandleFunc("/audit/*", ws.handleLedgerAPI)
	return r
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.server.Addr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows node information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Halal Poultry Supply Chain Ledger Node</h1>"))
	w.Write([]byte("<p>Node ID: " + ws.cfg.NodeID + "</p>"))
	if port := extractPortFromAddress(ws.cfg.RPCAddress); port != "" {
		fmt.Fprintf(w, "<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a></p>", port, port)
	}
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	debugInfo := map[string]interface{}{
		"node_id":     ws.cfg.NodeID,
		"node_status": "online",
		"rpc_address": ws.cfg.RPCAddress,
		"uptime":      time.Since(ws.startTime).String(),
	}

	status, err := ws.chain.Status(r.Context())
	if err != nil {
		debugInfo["node_status"] = "offline"
		debugInfo["cometbft_error"] = err.Error()
	} else {
		if status.SyncInfo.CatchingUp {
			debugInfo["node_status"] = "syncing"
		}
		debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
		debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
		debugInfo["catching_up"] = status.SyncInfo.CatchingUp
	}

	abciInfo, err := ws.chain.ABCIInfo(r.Context())
	if err != nil {
		debugInfo["abci_error"] = err.Error()
	} else {
		debugInfo["app_data"] = abciInfo.Response.Data
		debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
		debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
	}

	writeJSON(w, http.StatusOK, debugInfo)
}

// handleTransactionStatus returns the execution status of a transaction
func (ws *WebServer) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	txID := strings.ToLower(chi.URLParam(r, "txID"))
	v, repoErr := ws.verifier.VerifyTx(r.Context(), txID)
	if repoErr != nil {
		if repoErr.LedgerCode == ledger.CodeNotFound {
			JSONError(w, "Transaction not found", http.StatusNotFound)
			return
		}
		JSONError(w, "Error checking transaction status: "+repoErr.Message, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, TransactionStatus{
		TxID:      v.TxID,
		RequestID: v.Command.RequestID,
		Op:        v.Command.Op,
		Caller:    v.Command.Caller,
		Status:    v.Status,
	})
}

// handleBlock lists the commands of a committed block
func (ws *WebServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseInt(chi.URLParam(r, "height"), 10, 64)
	if err != nil || height <= 0 {
		JSONError(w, "Invalid block height", http.StatusBadRequest)
		return
	}
	res, err := ws.chain.Block(r.Context(), &height)
	if err != nil {
		JSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	if res.Block == nil {
		JSONError(w, "Block not found", http.StatusNotFound)
		return
	}

	info := BlockInfo{
		Height:   res.Block.Height,
		Hash:     res.BlockID.Hash.String(),
		Time:     res.Block.Time,
		AppHash:  res.Block.AppHash.String(),
		Commands: []ledger.Command{},
		TxsB64:   []string{},
	}
	for _, tx := range res.Block.Txs {
		info.TxsB64 = append(info.TxsB64, base64.StdEncoding.EncodeToString(tx))
		var cmd ledger.Command
		if err := json.Unmarshal(tx, &cmd); err != nil {
			ws.logger.Error("Failed to parse transaction", "height", height, "err", err)
			continue
		}
		info.Commands = append(info.Commands, cmd)
	}
	writeJSON(w, http.StatusOK, info)
}

// handleLedgerAPI hands the request to the service registry and wraps the
// result with its consensus metadata
func (ws *WebServer) handleLedgerAPI(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ws.cfg.RequestTimeout)
	defer cancel()

	requestID := uuid.NewString()
	request, err := srvreg.ConvertHttpRequestToConsensusRequest(r.WithContext(ctx), requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		JSONError(w, "Failed to generate response: "+err.Error(), http.StatusInternalServerError)
		ws.logger.Error("Failed to generate response", "err", err)
		return
	}
	ws.metrics.ObserveHTTP(chi.RouteContext(r.Context()).RoutePattern(), strconv.Itoa(response.StatusCode))

	meta := ConsensusMeta{RequestID: requestID, Status: "query"}
	if response.TxID != "" {
		meta.TxID = response.TxID
		meta.BlockHeight = response.BlockHeight
		meta.Status = "confirmed"
	} else if response.StatusCode >= http.StatusBadRequest {
		meta.Status = "rejected"
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	writeJSON(w, response.StatusCode, ClientResponse{
		Body:   response.ParseBody(),
		Meta:   meta,
		NodeID: ws.cfg.NodeID,
	})

	ws.logger.Debug("Ledger request",
		"method", request.Method,
		"path", request.Path,
		"status", response.StatusCode,
		"tx_id", response.TxID,
	)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(v)
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, struct {
		Error string `json:"error"`
	}{Error: message})
}
