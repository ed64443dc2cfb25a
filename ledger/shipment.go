package ledger

import "time"

// ShipmentRecord is one transit event of a batch
type ShipmentRecord struct {
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// RecordShipment appends a shipment entry and moves a Packaged batch to
// Shipped. Both writes land together or not at all.
func (l *Ledger) RecordShipment(caller Principal, id uint64, location, status string, now time.Time) (ShipmentRecord, Event, error) {
	const op = "recordShipment"
	if err := l.requireRole(op, caller, RoleLogistics); err != nil {
		return ShipmentRecord{}, Event{}, err
	}
	b, err := l.loadBatch(op, id)
	if err != nil {
		return ShipmentRecord{}, Event{}, err
	}
	if b.Stage != StagePackaged {
		return ShipmentRecord{}, Event{}, newError(CodeStagePrecondition, op, id, "stage is %s, must be %s", b.Stage, StagePackaged)
	}
	seq, err := getUint(l.store, shipmentCountKey(id))
	if err != nil {
		return ShipmentRecord{}, Event{}, internalError(op, id, err)
	}

	rec := ShipmentRecord{
		Location:  location,
		Timestamp: now.UTC(),
		Status:    status,
	}
	if err := setJSON(l.store, shipmentKey(id, seq), rec); err != nil {
		return ShipmentRecord{}, Event{}, internalError(op, id, err)
	}
	if err := setUint(l.store, shipmentCountKey(id), seq+1); err != nil {
		return ShipmentRecord{}, Event{}, internalError(op, id, err)
	}
	if err := l.advance(op, &b, StageShipped); err != nil {
		return ShipmentRecord{}, Event{}, err
	}
	return rec, Event{
		Type:      EventShipmentRecorded,
		BatchID:   id,
		Location:  location,
		Status:    status,
		Timestamp: rec.Timestamp,
	}, nil
}

// ConfirmReceived moves a Shipped batch to the terminal Delivered stage
func (l *Ledger) ConfirmReceived(caller Principal, id uint64, now time.Time) (Batch, Event, error) {
	const op = "confirmReceived"
	if err := l.requireRole(op, caller, RoleRetailer); err != nil {
		return Batch{}, Event{}, err
	}
	b, err := l.loadBatch(op, id)
	if err != nil {
		return Batch{}, Event{}, err
	}
	if b.Stage != StageShipped {
		return Batch{}, Event{}, newError(CodeStagePrecondition, op, id, "stage is %s, must be %s", b.Stage, StageShipped)
	}
	if err := l.advance(op, &b, StageDelivered); err != nil {
		return Batch{}, Event{}, err
	}
	return b, Event{
		Type:      EventBatchReceived,
		BatchID:   id,
		Timestamp: now.UTC(),
	}, nil
}

// ShipmentHistory returns the shipment log of a batch in append order
func (l *Ledger) ShipmentHistory(id uint64) ([]ShipmentRecord, error) {
	const op = "getShipmentHistory"
	if _, err := l.loadBatch(op, id); err != nil {
		return nil, err
	}
	count, err := getUint(l.store, shipmentCountKey(id))
	if err != nil {
		return nil, internalError(op, id, err)
	}
	history := make([]ShipmentRecord, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		var rec ShipmentRecord
		found, err := getJSON(l.store, shipmentKey(id, seq), &rec)
		if err != nil {
			return nil, internalError(op, id, err)
		}
		if !found {
			return nil, newError(CodeInternal, op, id, "shipment %d missing", seq)
		}
		history = append(history, rec)
	}
	return history, nil
}
