package ledger

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	KVStore
	failAfter int
	sets      int
}

func (f *failingStore) Set(key, value []byte) error {
	f.sets++
	if f.sets > f.failAfter {
		return errors.New("disk full")
	}
	return f.KVStore.Set(key, value)
}

func TestDecodeCommand(t *testing.T) {
	tx, err := EncodeCommand(&Command{
		RequestID: "r1",
		Op:        OpUpdateStage,
		Caller:    p2,
		BatchID:   3,
		Stage:     "Processed",
	})
	require.NoError(t, err)

	cmd, err := DecodeCommand(tx)
	require.NoError(t, err)
	assert.Equal(t, OpUpdateStage, cmd.Op)
	assert.Equal(t, uint64(3), cmd.BatchID)

	cases := map[string]string{
		"garbage":       `{"op":`,
		"unknown op":    `{"request_id":"r","op":"burn","caller":"a"}`,
		"no caller":     `{"request_id":"r","op":"createBatch"}`,
		"no request id": `{"op":"createBatch","caller":"a"}`,
		"bad stage":     `{"request_id":"r","op":"updateStage","caller":"a","batch_id":1,"stage":"Frozen"}`,
		"bad role":      `{"request_id":"r","op":"grant","caller":"a","principal":"b","role":"Chef"}`,
		"no principal":  `{"request_id":"r","op":"revoke","caller":"a","role":"Retailer"}`,
		"no cert hash":  `{"request_id":"r","op":"certifyHalal","caller":"a","batch_id":1}`,
	}
	for name, raw := range cases {
		_, err := DecodeCommand([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
		assert.Equal(t, CodeInvalidRequest, CodeOf(err), name)
	}
}

func TestExecuteDispatch(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, Init(store, admin))

	run := func(cmd Command) *Outcome {
		cmd.RequestID = "req"
		out, err := ExecuteAtomic(store, &cmd, t0)
		require.NoError(t, err, cmd.Op)
		require.Len(t, out.Events, 1)
		return out
	}

	run(Command{Op: OpGrant, Caller: admin, Principal: p2, Role: RoleProcessingPlant})
	run(Command{Op: OpGrant, Caller: admin, Principal: p3, Role: RoleLogistics})
	run(Command{Op: OpGrant, Caller: admin, Principal: p4, Role: RoleRetailer})

	out := run(Command{Op: OpCreateBatch, Caller: admin, Details: "Lot-7"})
	var b Batch
	require.NoError(t, json.Unmarshal(out.Data, &b))
	assert.Equal(t, uint64(1), b.ID)
	assert.Equal(t, StageRaw, b.Stage)

	for _, s := range []string{"Slaughtered", "Processed", "Packaged"} {
		out = run(Command{Op: OpUpdateStage, Caller: p2, BatchID: 1, Stage: s})
		assert.Equal(t, EventStageUpdated, out.Events[0].Type)
		assert.Equal(t, s, out.Events[0].Stage)
	}
	out = run(Command{Op: OpCertifyHalal, Caller: admin, BatchID: 1, CertHash: "abc"})
	assert.Equal(t, EventHalalCertified, out.Events[0].Type)
	run(Command{Op: OpRecordShipment, Caller: p3, BatchID: 1, Location: "Port", Status: "loaded"})
	out = run(Command{Op: OpConfirmReceived, Caller: p4, BatchID: 1})
	assert.Equal(t, EventBatchReceived, out.Events[0].Type)

	out = run(Command{Op: OpRevoke, Caller: admin, Principal: p4, Role: RoleRetailer})
	var g RoleGrant
	require.NoError(t, json.Unmarshal(out.Data, &g))
	assert.False(t, g.Granted)

	view, err := New(store).GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, "Delivered", view.Stage)
	assert.Equal(t, "abc", view.CertHash)
}

func TestExecuteAtomicDiscardsFailedCommand(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, Init(store, admin))
	before := snapshot(store)

	_, err := ExecuteAtomic(store, &Command{RequestID: "r", Op: OpCreateBatch, Caller: p1}, t0)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, before, snapshot(store))
}

func TestRecordShipmentAllOrNothing(t *testing.T) {
	mem := NewMemStore()
	require.NoError(t, Init(mem, admin))
	l := New(mem)
	_, err := l.Grant(admin, p2, RoleProcessingPlant, t0)
	require.NoError(t, err)
	_, err = l.Grant(admin, p3, RoleLogistics, t0)
	require.NoError(t, err)
	id := packagedBatchAs(t, l, admin, p2)
	before := snapshot(mem)

	// The shipment writes three keys; fail on the last one.
	cache := NewCacheStore(mem)
	failing := &failingStore{KVStore: cache, failAfter: 2}
	_, _, err = New(failing).RecordShipment(p3, id, "Hub", "departed", t0)
	require.ErrorIs(t, err, ErrInternal)
	cache.Discard()

	assert.Equal(t, before, snapshot(mem))
	view, err := l.GetBatch(id)
	require.NoError(t, err)
	assert.Equal(t, "Packaged", view.Stage)
}

func TestEventAttributes(t *testing.T) {
	ev := Event{Type: EventShipmentRecorded, BatchID: 4, Location: "Hub", Status: "departed", Timestamp: t0}
	attrs := ev.Attributes()
	assert.Equal(t, []Attribute{
		{Key: "batch_id", Value: "4"},
		{Key: "location", Value: "Hub"},
		{Key: "status", Value: "departed"},
		{Key: "timestamp", Value: "2024-05-01T08:00:00Z"},
	}, attrs)

	role := Event{Type: EventRoleChanged, Principal: p1, Role: RoleRetailer, Granted: false, Timestamp: t0}
	assert.Equal(t, "granted", role.Attributes()[2].Key)
	assert.Equal(t, "false", role.Attributes()[2].Value)
}

func TestRevokeEventJSONCarriesGranted(t *testing.T) {
	l := newTestLedger(t)
	ev, err := l.Revoke(admin, p1, RoleRetailer, t0)
	require.NoError(t, err)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	granted, ok := decoded["granted"]
	require.True(t, ok, "granted missing from %s", raw)
	assert.Equal(t, false, granted)
}

func packagedBatchAs(t *testing.T, l *Ledger, farmer, plant Principal) uint64 {
	t.Helper()
	b, _, err := l.CreateBatch(farmer, "lot", t0)
	require.NoError(t, err)
	for _, s := range []Stage{StageSlaughtered, StageProcessed, StagePackaged} {
		_, _, err := l.UpdateStage(plant, b.ID, s, t0)
		require.NoError(t, err)
	}
	return b.ID
}
