package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

var (
	keyAdmin      = []byte("meta/admin")
	keyBatchCount = []byte("meta/batch_count")
)

// Ids are zero padded so that keys sort in numeric order.
func padID(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func roleKey(role Role, p Principal) []byte {
	return []byte("role/" + string(role) + "/" + string(p))
}

func batchKey(id uint64) []byte {
	return []byte("batch/" + padID(id))
}

func certKey(id uint64) []byte {
	return []byte("cert/" + padID(id))
}

func shipmentCountKey(id uint64) []byte {
	return []byte("ship/" + padID(id) + "/count")
}

func shipmentKey(id uint64, seq uint64) []byte {
	return []byte("ship/" + padID(id) + "/" + padID(seq))
}

func getJSON(s KVStore, key []byte, v interface{}) (bool, error) {
	raw, found, err := s.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(s KVStore, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, raw)
}

func getUint(s KVStore, key []byte) (uint64, error) {
	raw, found, err := s.Get(key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}

func setUint(s KVStore, key []byte, n uint64) error {
	return s.Set(key, []byte(strconv.FormatUint(n, 10)))
}
