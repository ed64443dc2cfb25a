// Package ledger holds the halal poultry batch ledger: role grants, the batch
// lifecycle, certificates and the shipment log. Every mutation checks the
// caller's role and all preconditions before it writes anything.
package ledger

import (
	"time"
)

// Batch is the canonical record of one poultry lot
type Batch struct {
	ID        uint64    `json:"id"`
	Details   string    `json:"details"`
	Stage     Stage     `json:"stage"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger executes operations against a KVStore
type Ledger struct {
	store KVStore
}

// New creates a ledger over store
func New(store KVStore) *Ledger {
	return &Ledger{store: store}
}

// Init fixes the Administrator and pre-grants it FarmSupplier and
// CertificationAuthority. It fails if the store is already initialized.
func Init(store KVStore, admin Principal) error {
	if admin == "" {
		return newError(CodeInvalidRequest, "init", 0, "administrator is required")
	}
	l := New(store)
	existing, err := l.Administrator()
	if err != nil {
		return err
	}
	if existing != "" {
		return newError(CodeInvalidRequest, "init", 0, "already initialized with administrator %q", existing)
	}
	if err := store.Set(keyAdmin, []byte(admin)); err != nil {
		return internalError("init", 0, err)
	}
	for _, r := range adminRoles {
		if err := l.setRole(admin, r, true); err != nil {
			return internalError("init", 0, err)
		}
	}
	return nil
}

// GenesisEvents returns the RoleChanged events for the pre-grants Init writes
func GenesisEvents(admin Principal, at time.Time) []Event {
	events := make([]Event, 0, len(adminRoles))
	for _, r := range adminRoles {
		events = append(events, Event{
			Type:      EventRoleChanged,
			Principal: admin,
			Role:      r,
			Granted:   true,
			Timestamp: at.UTC(),
		})
	}
	return events
}

// Grant gives role to principal. Only the Administrator may grant.
func (l *Ledger) Grant(caller, principal Principal, role Role, now time.Time) (Event, error) {
	return l.changeRole("grant", caller, principal, role, true, now)
}

// Revoke sets the grant of role for principal to false. Revoking an absent
// grant succeeds.
func (l *Ledger) Revoke(caller, principal Principal, role Role, now time.Time) (Event, error) {
	return l.changeRole("revoke", caller, principal, role, false, now)
}

func (l *Ledger) changeRole(op string, caller, principal Principal, role Role, granted bool, now time.Time) (Event, error) {
	if err := l.requireAdmin(op, caller); err != nil {
		return Event{}, err
	}
	if principal == "" {
		return Event{}, newError(CodeInvalidRequest, op, 0, "principal is required")
	}
	if !role.Valid() {
		return Event{}, newError(CodeInvalidRequest, op, 0, "unknown role %q", role)
	}
	if err := l.setRole(principal, role, granted); err != nil {
		return Event{}, internalError(op, 0, err)
	}
	return Event{
		Type:      EventRoleChanged,
		Principal: principal,
		Role:      role,
		Granted:   granted,
		Timestamp: now.UTC(),
	}, nil
}

// CreateBatch registers a new batch at stage Raw under the next sequential id
func (l *Ledger) CreateBatch(caller Principal, details string, now time.Time) (Batch, Event, error) {
	const op = "createBatch"
	if err := l.requireRole(op, caller, RoleFarmSupplier); err != nil {
		return Batch{}, Event{}, err
	}
	count, err := l.BatchCount()
	if err != nil {
		return Batch{}, Event{}, err
	}
	b := Batch{
		ID:        count + 1,
		Details:   details,
		Stage:     StageRaw,
		Status:    StageRaw.Status(),
		CreatedAt: now.UTC(),
	}
	if err := setJSON(l.store, batchKey(b.ID), b); err != nil {
		return Batch{}, Event{}, internalError(op, b.ID, err)
	}
	if err := setUint(l.store, keyBatchCount, b.ID); err != nil {
		return Batch{}, Event{}, internalError(op, b.ID, err)
	}
	return b, Event{
		Type:      EventBatchCreated,
		BatchID:   b.ID,
		Details:   details,
		Timestamp: b.CreatedAt,
	}, nil
}

// UpdateStage moves a batch one step through Raw, Slaughtered, Processed and
// Packaged. It never reaches Shipped or Delivered.
func (l *Ledger) UpdateStage(caller Principal, id uint64, next Stage, now time.Time) (Batch, Event, error) {
	const op = "updateStage"
	if err := l.requireRole(op, caller, RoleProcessingPlant); err != nil {
		return Batch{}, Event{}, err
	}
	b, err := l.loadBatch(op, id)
	if err != nil {
		return Batch{}, Event{}, err
	}
	if !isManufacturingStep(b.Stage, next) {
		return Batch{}, Event{}, newError(CodeInvalidTransition, op, id, "cannot move from %s to %s", b.Stage, next)
	}
	if err := l.advance(op, &b, next); err != nil {
		return Batch{}, Event{}, err
	}
	return b, Event{
		Type:      EventStageUpdated,
		BatchID:   id,
		Stage:     next.String(),
		Timestamp: now.UTC(),
	}, nil
}

// BatchCount returns the number of batches created so far. It is also the
// highest assigned id.
func (l *Ledger) BatchCount() (uint64, error) {
	n, err := getUint(l.store, keyBatchCount)
	if err != nil {
		return 0, internalError("batchCount", 0, err)
	}
	return n, nil
}

func (l *Ledger) loadBatch(op string, id uint64) (Batch, error) {
	var b Batch
	found, err := getJSON(l.store, batchKey(id), &b)
	if err != nil {
		return Batch{}, internalError(op, id, err)
	}
	if !found {
		return Batch{}, newError(CodeNotFound, op, id, "batch does not exist")
	}
	return b, nil
}

func (l *Ledger) advance(op string, b *Batch, next Stage) error {
	b.Stage = next
	b.Status = next.Status()
	if err := setJSON(l.store, batchKey(b.ID), b); err != nil {
		return internalError(op, b.ID, err)
	}
	return nil
}
