package srvreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/repository"
	"github.com/anisnazira/halal-supply-blockchain/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// PrincipalHeader carries the authenticated caller of a request
const PrincipalHeader = "X-Principal"

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"` // Unique ID for the request
	Timestamp  time.Time         `json:"timestamp"`
	Params     map[string]string `json:"params,omitempty"`

	ctx context.Context
}

// Context returns the request context, never nil
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext sets the context handlers run under
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Principal returns the caller named by the X-Principal header
func (r *Request) Principal() ledger.Principal {
	return ledger.Principal(strings.TrimSpace(r.Headers[PrincipalHeader]))
}

// Response represents the computed response of a handler. TxID and
// BlockHeight are set when the request went through consensus.
type Response struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	Error       string            `json:"error,omitempty"`
	TxID        string            `json:"tx_id,omitempty"`
	BlockHeight int64             `json:"block_height,omitempty"`
}

// ParseBody attempts to parse the Response's Body field as JSON
// and returns the structured data or nil if parsing fails.
func (r *Response) ParseBody() interface{} {
	if r.Body == "" {
		return nil
	}
	var body interface{}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		return nil
	}
	return body
}

// Backend is what the handlers need from the repository
type Backend interface {
	RunConsensus(ctx context.Context, cmd *ledger.Command) (*repository.ConsensusResult, *repository.RepositoryError)
	Query(ctx context.Context, path, data string) (json.RawMessage, *repository.RepositoryError)
	GetAuditBatch(ctx context.Context, id uint64) (*models.Batch, *repository.RepositoryError)
	ListBatchEvents(ctx context.Context, id uint64) ([]models.LedgerEvent, *repository.RepositoryError)
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool // Whether a route is exact or pattern-based
	mu          sync.RWMutex
	backend     Backend
	logger      cmtlog.Logger
}

// ConvertHttpRequestToConsensusRequest converts an http.Request to Request
func ConvertHttpRequestToConsensusRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		body = compactJSON(strings.TrimSpace(string(bodyBytes)))
	}

	req := &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}
	return req.WithContext(r.Context()), nil
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(backend Backend, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		backend:     backend,
		logger:      logger,
	}
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a boolean of whether or not the handler was found
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	handler, _, ok := sr.matchRoute(method, path)
	return handler, ok
}

// matchRoute returns the handler for method and path together with the
// values of the pattern's :params
func (sr *ServiceRegistry) matchRoute(method, path string) (ServiceHandler, map[string]string, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	method = strings.ToUpper(method)
	key := RouteKey{Method: method, Path: path}
	if handler, ok := sr.handlers[key]; ok && sr.exactRoutes[key] {
		return handler, nil, true
	}

	for routeKey, handler := range sr.handlers {
		if routeKey.Method != method || sr.exactRoutes[routeKey] {
			continue
		}
		if params, ok := matchPath(routeKey.Path, path); ok {
			return handler, params, true
		}
	}
	return nil, nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/batches/:id" matching "/batches/123"
func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			if pathParts[i] == "" {
				return nil, false
			}
			params[patternParts[i][1:]] = pathParts[i]
			continue
		}
		if patternParts[i] != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}

// RegisterDefaultServices sets up the ledger endpoints
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Access control
	sr.RegisterHandler("POST", "/roles/:principal/:role", false, sr.GrantRoleHandler)
	sr.RegisterHandler("DELETE", "/roles/:principal/:role", false, sr.RevokeRoleHandler)
	sr.RegisterHandler("GET", "/roles/:principal/:role", false, sr.HasRoleHandler)
	sr.RegisterHandler("GET", "/roles/:principal", false, sr.RolesHandler)

	// Batch lifecycle
	sr.RegisterHandler("POST", "/batches", true, sr.CreateBatchHandler)
	sr.RegisterHandler("GET", "/batches", true, sr.OverviewHandler)
	sr.RegisterHandler("GET", "/batches/:id", false, sr.GetBatchHandler)
	sr.RegisterHandler("POST", "/batches/:id/stage", false, sr.UpdateStageHandler)
	sr.RegisterHandler("POST", "/batches/:id/certify", false, sr.CertifyHalalHandler)
	sr.RegisterHandler("POST", "/batches/:id/shipments", false, sr.RecordShipmentHandler)
	sr.RegisterHandler("GET", "/batches/:id/shipments", false, sr.ShipmentHistoryHandler)
	sr.RegisterHandler("POST", "/batches/:id/receive", false, sr.ConfirmReceivedHandler)

	// Audit projection
	sr.RegisterHandler("GET", "/audit/batches/:id", false, sr.AuditBatchHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, params, found := services.matchRoute(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       fmt.Sprintf("Service not found for %s %s", req.Method, req.Path),
		}, nil
	}
	req.Params = params
	return handler(req)
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
