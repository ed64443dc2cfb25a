package app

import (
	"errors"

	"github.com/anisnazira/halal-supply-blockchain/ledger"
	"github.com/dgraph-io/badger/v4"
)

// txnStore exposes a badger transaction as a ledger.KVStore. Read-only
// transactions reject Set.
type txnStore struct {
	txn *badger.Txn
}

var _ ledger.KVStore = (*txnStore)(nil)

func (s *txnStore) Get(key []byte) ([]byte, bool, error) {
	item, err := s.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *txnStore) Set(key, value []byte) error {
	return s.txn.Set(key, value)
}

// viewLedger runs fn against committed state in a read-only transaction
func (app *Application) viewLedger(fn func(*ledger.Ledger) error) error {
	return app.badgerDB.View(func(txn *badger.Txn) error {
		return fn(ledger.New(&txnStore{txn: txn}))
	})
}
