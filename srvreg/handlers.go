package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/anisnazira/halal-supply-blockchain/app"
	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/anisnazira/halal-supply-blockchain/repository"
	"github.com/anisnazira/halal-supply-blockchain/repository/models"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

type createBatchHandlerBody struct {
	Details string `json:"details"`
}

type updateStageHandlerBody struct {
	Stage string `json:"stage"`
}

type certifyHalalHandlerBody struct {
	CertHash string `json:"cert_hash"`
}

type recordShipmentHandlerBody struct {
	Location string `json:"location"`
	Status   string `json:"status"`
}

// AuditBatch is the body of the audit endpoint
type AuditBatch struct {
	Batch  *models.Batch        `json:"batch"`
	Events []models.LedgerEvent `json:"events"`
}

func (sr *ServiceRegistry) GrantRoleHandler(req *Request) (*Response, error) {
	return sr.changeRole(req, ledger.OpGrant)
}

func (sr *ServiceRegistry) RevokeRoleHandler(req *Request) (*Response, error) {
	return sr.changeRole(req, ledger.OpRevoke)
}

func (sr *ServiceRegistry) changeRole(req *Request, op ledger.Op) (*Response, error) {
	role, err := ledger.ParseRole(req.Params["role"])
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}
	return sr.submit(req, &ledger.Command{
		Op:        op,
		Principal: ledger.Principal(req.Params["principal"]),
		Role:      role,
	}, http.StatusOK)
}

func (sr *ServiceRegistry) HasRoleHandler(req *Request) (*Response, error) {
	return sr.query(req, app.PathRole, req.Params["principal"]+"/"+req.Params["role"])
}

func (sr *ServiceRegistry) RolesHandler(req *Request) (*Response, error) {
	return sr.query(req, app.PathRoles, req.Params["principal"])
}

func (sr *ServiceRegistry) CreateBatchHandler(req *Request) (*Response, error) {
	var body createBatchHandlerBody
	if resp := parseBody(req, &body); resp != nil {
		return resp, nil
	}
	return sr.submit(req, &ledger.Command{Op: ledger.OpCreateBatch, Details: body.Details}, http.StatusCreated)
}

func (sr *ServiceRegistry) OverviewHandler(req *Request) (*Response, error) {
	return sr.query(req, app.PathCount, "")
}

func (sr *ServiceRegistry) GetBatchHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	return sr.query(req, app.PathBatch, strconv.FormatUint(id, 10))
}

func (sr *ServiceRegistry) UpdateStageHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	var body updateStageHandlerBody
	if resp := parseBody(req, &body); resp != nil {
		return resp, nil
	}
	if _, err := ledger.ParseStage(body.Stage); err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}
	return sr.submit(req, &ledger.Command{Op: ledger.OpUpdateStage, BatchID: id, Stage: body.Stage}, http.StatusOK)
}

func (sr *ServiceRegistry) CertifyHalalHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	var body certifyHalalHandlerBody
	if resp := parseBody(req, &body); resp != nil {
		return resp, nil
	}
	return sr.submit(req, &ledger.Command{Op: ledger.OpCertifyHalal, BatchID: id, CertHash: body.CertHash}, http.StatusCreated)
}

func (sr *ServiceRegistry) RecordShipmentHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	var body recordShipmentHandlerBody
	if resp := parseBody(req, &body); resp != nil {
		return resp, nil
	}
	return sr.submit(req, &ledger.Command{
		Op:       ledger.OpRecordShipment,
		BatchID:  id,
		Location: body.Location,
		Status:   body.Status,
	}, http.StatusCreated)
}

func (sr *ServiceRegistry) ShipmentHistoryHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	return sr.query(req, app.PathShipments, strconv.FormatUint(id, 10))
}

func (sr *ServiceRegistry) ConfirmReceivedHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	return sr.submit(req, &ledger.Command{Op: ledger.OpConfirmReceived, BatchID: id}, http.StatusOK)
}

func (sr *ServiceRegistry) AuditBatchHandler(req *Request) (*Response, error) {
	id, resp := batchID(req)
	if resp != nil {
		return resp, nil
	}
	batch, repoErr := sr.backend.GetAuditBatch(req.Context(), id)
	if repoErr != nil {
		return repositoryErrorResponse(repoErr), nil
	}
	events, repoErr := sr.backend.ListBatchEvents(req.Context(), id)
	if repoErr != nil {
		return repositoryErrorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, AuditBatch{Batch: batch, Events: events}), nil
}

// submit fills in the request id and caller, then runs cmd through consensus
func (sr *ServiceRegistry) submit(req *Request, cmd *ledger.Command, successStatus int) (*Response, error) {
	cmd.RequestID = req.RequestID
	cmd.Caller = req.Principal()
	if cmd.Caller == "" {
		return errorResponse(http.StatusBadRequest, PrincipalHeader+" header is required"), nil
	}

	result, repoErr := sr.backend.RunConsensus(req.Context(), cmd)
	if repoErr != nil {
		sr.logger.Info("Command failed", "op", cmd.Op, "request_id", cmd.RequestID, "code", repoErr.Code, "detail", repoErr.Detail)
		return repositoryErrorResponse(repoErr), nil
	}
	return &Response{
		StatusCode:  successStatus,
		Headers:     defaultHeaders,
		Body:        string(result.Data),
		TxID:        result.TxHash,
		BlockHeight: result.BlockHeight,
	}, nil
}

func (sr *ServiceRegistry) query(req *Request, path, data string) (*Response, error) {
	value, repoErr := sr.backend.Query(req.Context(), path, data)
	if repoErr != nil {
		return repositoryErrorResponse(repoErr), nil
	}
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       string(value),
	}, nil
}

func batchID(req *Request) (uint64, *Response) {
	id, err := strconv.ParseUint(req.Params["id"], 10, 64)
	if err != nil {
		return 0, errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid batch id %q", req.Params["id"]))
	}
	return id, nil
}

func parseBody(req *Request, v interface{}) *Response {
	if req.Body == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error())
	}
	return nil
}

// StatusForCode maps a ledger result code to an HTTP status
func StatusForCode(code ledger.Code) int {
	switch code {
	case ledger.CodeOK:
		return http.StatusOK
	case ledger.CodeInvalidRequest:
		return http.StatusBadRequest
	case ledger.CodeUnauthorized:
		return http.StatusForbidden
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeInvalidTransition, ledger.CodeStagePrecondition, ledger.CodeAlreadyCertified:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func repositoryErrorResponse(repoErr *repository.RepositoryError) *Response {
	status := http.StatusInternalServerError
	switch repoErr.Code {
	case repository.ErrCodeLedger, repository.ErrCodeNotFound:
		status = StatusForCode(repoErr.LedgerCode)
	case repository.ErrCodeConsensusTimeout:
		status = http.StatusGatewayTimeout
	case repository.ErrCodeConsensus:
		status = http.StatusServiceUnavailable
	case repository.ErrCodeConfig:
		status = http.StatusNotImplemented
	}

	body := map[string]string{"error": repoErr.Message}
	if repoErr.Code == repository.ErrCodeLedger {
		body["code"] = repoErr.LedgerCode.String()
	}
	if repoErr.Detail != "" && status < http.StatusInternalServerError {
		body["detail"] = repoErr.Detail
	}
	return jsonResponse(status, body)
}

func errorResponse(status int, message string) *Response {
	return jsonResponse(status, map[string]string{"error": message})
}

func jsonResponse(status int, v interface{}) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Internal server error"}`,
		}
	}
	return &Response{StatusCode: status, Headers: defaultHeaders, Body: string(body)}
}
