package ledger

import (
	"strconv"
	"time"
)

// EventType names a ledger notification
type EventType string

const (
	EventRoleChanged      EventType = "RoleChanged"
	EventBatchCreated     EventType = "BatchCreated"
	EventStageUpdated     EventType = "StageUpdated"
	EventHalalCertified   EventType = "HalalCertified"
	EventShipmentRecorded EventType = "ShipmentRecorded"
	EventBatchReceived    EventType = "BatchReceived"
)

// Event is emitted for every successful mutation. Only the fields relevant to
// the event type are set.
type Event struct {
	Type      EventType `json:"type"`
	BatchID   uint64    `json:"batch_id,omitempty"`
	Principal Principal `json:"principal,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Granted   bool      `json:"granted"`
	Details   string    `json:"details,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	CertHash  string    `json:"cert_hash,omitempty"`
	Location  string    `json:"location,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attribute is a single key/value pair of an event
type Attribute struct {
	Key   string
	Value string
}

// Attributes returns the event payload as an ordered attribute list
func (e Event) Attributes() []Attribute {
	var attrs []Attribute
	add := func(k, v string) {
		attrs = append(attrs, Attribute{Key: k, Value: v})
	}
	switch e.Type {
	case EventRoleChanged:
		add("principal", string(e.Principal))
		add("role", string(e.Role))
		add("granted", strconv.FormatBool(e.Granted))
	case EventBatchCreated:
		add("batch_id", strconv.FormatUint(e.BatchID, 10))
		add("details", e.Details)
	case EventStageUpdated:
		add("batch_id", strconv.FormatUint(e.BatchID, 10))
		add("stage", e.Stage)
	case EventHalalCertified:
		add("batch_id", strconv.FormatUint(e.BatchID, 10))
		add("cert_hash", e.CertHash)
	case EventShipmentRecorded:
		add("batch_id", strconv.FormatUint(e.BatchID, 10))
		add("location", e.Location)
		add("status", e.Status)
	case EventBatchReceived:
		add("batch_id", strconv.FormatUint(e.BatchID, 10))
	}
	add("timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano))
	return attrs
}
