package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/dgraph-io/badger/v4"
)

// Query paths served by the application
const (
	PathBatch     = "/batch"
	PathShipments = "/shipments"
	PathRole      = "/role"
	PathRoles     = "/roles"
	PathAdmin     = "/admin"
	PathCount     = "/count"
)

// Overview is the body of the /count query
type Overview struct {
	Administrator ledger.Principal `json:"administrator"`
	BatchCount    uint64           `json:"batch_count"`
}

// RoleStatus is the body of the /role query
type RoleStatus struct {
	Principal ledger.Principal `json:"principal"`
	Role      ledger.Role      `json:"role"`
	Granted   bool             `json:"granted"`
}

// PrincipalRoles is the body of the /roles query
type PrincipalRoles struct {
	Principal ledger.Principal `json:"principal"`
	Roles     []ledger.Role    `json:"roles"`
}

type ledgerQuery func(l *ledger.Ledger, data []byte) (interface{}, error)

var queryHandlers = map[string]ledgerQuery{
	PathBatch: func(l *ledger.Ledger, data []byte) (interface{}, error) {
		id, err := parseBatchID(data)
		if err != nil {
			return nil, err
		}
		return l.GetBatch(id)
	},
	PathShipments: func(l *ledger.Ledger, data []byte) (interface{}, error) {
		id, err := parseBatchID(data)
		if err != nil {
			return nil, err
		}
		return l.ShipmentHistory(id)
	},
	PathRole: func(l *ledger.Ledger, data []byte) (interface{}, error) {
		s := string(data)
		sep := strings.LastIndex(s, "/")
		if sep <= 0 {
			return nil, &ledger.Error{Code: ledger.CodeInvalidRequest, Op: "hasRole", Detail: "expected principal/role"}
		}
		role, err := ledger.ParseRole(s[sep+1:])
		if err != nil {
			return nil, &ledger.Error{Code: ledger.CodeInvalidRequest, Op: "hasRole", Err: err}
		}
		p := ledger.Principal(s[:sep])
		ok, err := l.HasRole(p, role)
		if err != nil {
			return nil, err
		}
		return RoleStatus{Principal: p, Role: role, Granted: ok}, nil
	},
	PathRoles: func(l *ledger.Ledger, data []byte) (interface{}, error) {
		p := ledger.Principal(data)
		roles, err := l.Roles(p)
		if err != nil {
			return nil, err
		}
		return PrincipalRoles{Principal: p, Roles: roles}, nil
	},
	PathAdmin: func(l *ledger.Ledger, _ []byte) (interface{}, error) {
		return l.Administrator()
	},
	PathCount: func(l *ledger.Ledger, _ []byte) (interface{}, error) {
		admin, err := l.Administrator()
		if err != nil {
			return nil, err
		}
		n, err := l.BatchCount()
		if err != nil {
			return nil, err
		}
		return Overview{Administrator: admin, BatchCount: n}, nil
	},
}

func parseBatchID(data []byte) (uint64, error) {
	id, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, &ledger.Error{Code: ledger.CodeInvalidRequest, Op: "query", Detail: fmt.Sprintf("invalid batch id %q", data)}
	}
	return id, nil
}

// Query implements the ABCI Query method. Ledger paths answer with a JSON
// value; an empty path is a raw key lookup or, with a verify: prefix, a
// transaction verification.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if handler, ok := queryHandlers[req.Path]; ok {
		return app.queryLedger(req, handler), nil
	}
	if req.Path != "" {
		return errorResponse(&ledger.Error{Code: ledger.CodeInvalidRequest, Op: "query", Detail: "unknown path " + req.Path}), nil
	}

	if len(req.Data) == 0 {
		return errorResponse(&ledger.Error{Code: ledger.CodeInvalidRequest, Op: "query", Detail: "empty query data"}), nil
	}
	if bytes.HasPrefix(req.Data, []byte("verify:")) {
		return app.verifyTransaction(string(req.Data[len("verify:"):])), nil
	}

	resp := abcitypes.QueryResponse{Key: req.Data}
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		val, found, err := (&txnStore{txn: txn}).Get(req.Data)
		if err != nil {
			return err
		}
		if !found {
			resp.Log = "key doesn't exist"
			return nil
		}
		resp.Log = "exists"
		resp.Value = val
		return nil
	})
	if err != nil {
		app.logger.Error("Error reading database, unable to execute query", "err", err)
		return errorResponse(&ledger.Error{Code: ledger.CodeInternal, Op: "query", Err: err}), nil
	}
	return &resp, nil
}

func (app *Application) queryLedger(req *abcitypes.QueryRequest, handler ledgerQuery) *abcitypes.QueryResponse {
	var result interface{}
	err := app.viewLedger(func(l *ledger.Ledger) error {
		var err error
		result, err = handler(l, req.Data)
		return err
	})
	if err != nil {
		return errorResponse(err)
	}
	value, err := json.Marshal(result)
	if err != nil {
		return errorResponse(&ledger.Error{Code: ledger.CodeInternal, Op: "query", Err: err})
	}
	return &abcitypes.QueryResponse{
		Code:  abcitypes.CodeTypeOK,
		Key:   req.Data,
		Value: value,
		Log:   "exists",
	}
}

// verifyTransaction looks up a transaction and its execution status
func (app *Application) verifyTransaction(txID string) *abcitypes.QueryResponse {
	var resp abcitypes.QueryResponse
	err := app.badgerDB.View(func(txn *badger.Txn) error {
		s := &txnStore{txn: txn}
		txData, found, err := s.Get(txKey(txID))
		if err != nil {
			return err
		}
		if !found {
			resp.Code = uint32(ledger.CodeNotFound)
			resp.Codespace = ledger.Codespace
			resp.Log = "Transaction not found"
			return nil
		}
		status, found, err := s.Get(statusKey(txID))
		if err != nil {
			return err
		}
		resp.Log = "unknown"
		if found {
			resp.Log = string(status)
		}
		resp.Value = txData
		return nil
	})
	if err != nil {
		return errorResponse(&ledger.Error{Code: ledger.CodeInternal, Op: "verify", Err: err})
	}
	return &resp
}

func errorResponse(err error) *abcitypes.QueryResponse {
	return &abcitypes.QueryResponse{
		Code:      uint32(ledger.CodeOf(err)),
		Codespace: ledger.Codespace,
		Log:       err.Error(),
	}
}
