// Package store keeps device output states across restarts.
package store

import (
	"github.com/dgraph-io/badger"
)

var outputsKey = []byte("outputs")

// Store persists the on/off state of every output.
type Store interface {
	// Load returns n output states. Missing states are off.
	Load(n int) ([]bool, error)
	Save(outputs []bool) error
	Close() error
}

type diskStore struct {
	db *badger.DB
}

func NewDiskStore(dir string) (Store, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &diskStore{db: db}, nil
}

func (s *diskStore) Close() error {
	return s.db.Close()
}

func (s *diskStore) Load(n int) ([]bool, error) {
	outputs := make([]bool, n)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(outputsKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		val, err := item.Value()
		if err != nil {
			return err
		}
		decode(val, outputs)
		return nil
	})
	return outputs, err
}

func (s *diskStore) Save(outputs []bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(outputsKey, encode(outputs))
	})
}

// one byte per output
func encode(outputs []bool) []byte {
	b := make([]byte, len(outputs))
	for i, on := range outputs {
		if on {
			b[i] = 1
		}
	}
	return b
}

func decode(b []byte, outputs []bool) {
	for i := range outputs {
		outputs[i] = i < len(b) && b[i] == 1
	}
}
