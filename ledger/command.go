package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op names a mutating ledger operation
type Op string

const (
	OpGrant           Op = "grant"
	OpRevoke          Op = "revoke"
	OpCreateBatch     Op = "createBatch"
	OpUpdateStage     Op = "updateStage"
	OpCertifyHalal    Op = "certifyHalal"
	OpRecordShipment  Op = "recordShipment"
	OpConfirmReceived Op = "confirmReceived"
)

// Command is the transaction envelope submitted to consensus. RequestID keeps
// otherwise identical commands distinct.
type Command struct {
	RequestID string    `json:"request_id"`
	Op        Op        `json:"op"`
	Caller    Principal `json:"caller"`
	Principal Principal `json:"principal,omitempty"`
	Role      Role      `json:"role,omitempty"`
	BatchID   uint64    `json:"batch_id,omitempty"`
	Details   string    `json:"details,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	CertHash  string    `json:"cert_hash,omitempty"`
	Location  string    `json:"location,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Outcome is the result of a successfully executed command
type Outcome struct {
	Data   json.RawMessage
	Events []Event
}

type opHandler func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error)

// RoleGrant is the result body of grant and revoke
type RoleGrant struct {
	Principal Principal `json:"principal"`
	Role      Role      `json:"role"`
	Granted   bool      `json:"granted"`
}

var opHandlers = map[Op]opHandler{
	OpGrant: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		ev, err := l.Grant(cmd.Caller, cmd.Principal, cmd.Role, now)
		return RoleGrant{Principal: cmd.Principal, Role: cmd.Role, Granted: true}, ev, err
	},
	OpRevoke: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		ev, err := l.Revoke(cmd.Caller, cmd.Principal, cmd.Role, now)
		return RoleGrant{Principal: cmd.Principal, Role: cmd.Role, Granted: false}, ev, err
	},
	OpCreateBatch: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		return l.CreateBatch(cmd.Caller, cmd.Details, now)
	},
	OpUpdateStage: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		stage, err := ParseStage(cmd.Stage)
		if err != nil {
			return nil, Event{}, newError(CodeInvalidRequest, string(cmd.Op), cmd.BatchID, "%v", err)
		}
		return l.UpdateStage(cmd.Caller, cmd.BatchID, stage, now)
	},
	OpCertifyHalal: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		return l.CertifyHalal(cmd.Caller, cmd.BatchID, cmd.CertHash, now)
	},
	OpRecordShipment: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		return l.RecordShipment(cmd.Caller, cmd.BatchID, cmd.Location, cmd.Status, now)
	},
	OpConfirmReceived: func(l *Ledger, cmd *Command, now time.Time) (interface{}, Event, error) {
		return l.ConfirmReceived(cmd.Caller, cmd.BatchID, now)
	},
}

// Validate performs the stateless checks of a command
func (c *Command) Validate() error {
	op := string(c.Op)
	if _, ok := opHandlers[c.Op]; !ok {
		return newError(CodeInvalidRequest, op, 0, "unknown operation")
	}
	if c.RequestID == "" {
		return newError(CodeInvalidRequest, op, 0, "request_id is required")
	}
	if c.Caller == "" {
		return newError(CodeInvalidRequest, op, 0, "caller is required")
	}
	switch c.Op {
	case OpGrant, OpRevoke:
		if c.Principal == "" {
			return newError(CodeInvalidRequest, op, 0, "principal is required")
		}
		if !c.Role.Valid() {
			return newError(CodeInvalidRequest, op, 0, "unknown role %q", c.Role)
		}
	case OpUpdateStage:
		if _, err := ParseStage(c.Stage); err != nil {
			return newError(CodeInvalidRequest, op, c.BatchID, "%v", err)
		}
	case OpCertifyHalal:
		if c.CertHash == "" {
			return newError(CodeInvalidRequest, op, c.BatchID, "cert_hash is required")
		}
	}
	return nil
}

// EncodeCommand serializes a command into transaction bytes
func EncodeCommand(c *Command) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses and validates transaction bytes
func DecodeCommand(tx []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(tx, &c); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Op: "decode", Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Execute runs cmd against the ledger using now as the operation time. On
// error nothing is guaranteed about the store contents, so callers execute on
// a CacheStore and discard it on failure.
func (l *Ledger) Execute(cmd *Command, now time.Time) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	result, ev, err := opHandlers[cmd.Op](l, cmd, now)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, internalError(string(cmd.Op), cmd.BatchID, fmt.Errorf("encode result: %w", err))
	}
	return &Outcome{Data: data, Events: []Event{ev}}, nil
}

// ExecuteAtomic runs cmd on a CacheStore over store and only flushes the
// writes when the command succeeds
func ExecuteAtomic(store KVStore, cmd *Command, now time.Time) (*Outcome, error) {
	cache := NewCacheStore(store)
	out, err := New(cache).Execute(cmd, now)
	if err != nil {
		cache.Discard()
		return nil, err
	}
	if err := cache.Write(); err != nil {
		return nil, internalError(string(cmd.Op), cmd.BatchID, err)
	}
	return out, nil
}
