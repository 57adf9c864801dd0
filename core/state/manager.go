package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"aerocdp/storage"
)

// ErrTxClosed is returned when a transaction is used after Commit or Discard.
var ErrTxClosed = errors.New("state: transaction already closed")

// KVStore is the typed record surface shared by the Manager and the
// transactions it opens. Values are encoded with RLP.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// rawStore is the byte-level backend behind the KV helpers. get returns nil
// without error when the key is absent.
type rawStore interface {
	get(key []byte) ([]byte, error)
	put(key, value []byte) error
	del(key []byte) error
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

type kvOps struct {
	raw rawStore
}

// KVPut RLP-encodes the value and stores it under the supplied key.
func (k kvOps) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return k.raw.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (k kvOps) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := k.raw.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key. Missing keys are ignored.
func (k kvOps) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return k.raw.del(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (k kvOps) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := k.raw.get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return k.raw.put(hashed, encoded)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. A missing key yields an empty slice.
func (k kvOps) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := k.raw.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Manager provides typed record access over a key-value database. Writes made
// directly through the Manager are applied immediately; use Begin to group
// writes into an all-or-nothing unit.
type Manager struct {
	kvOps
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	m := &Manager{db: db}
	m.kvOps = kvOps{raw: dbStore{db: db}}
	return m
}

// Begin opens a write-buffering transaction over the manager's database.
func (m *Manager) Begin() *Tx {
	tx := &Tx{db: m.db, writes: make(map[string][]byte)}
	tx.kvOps = kvOps{raw: tx}
	return tx
}

type dbStore struct {
	db storage.Database
}

func (s dbStore) get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s dbStore) put(key, value []byte) error { return s.db.Put(key, value) }

func (s dbStore) del(key []byte) error { return s.db.Delete(key) }

// Tx buffers writes in memory and reads through to the database for keys it
// has not touched. Nothing reaches the database until Commit.
type Tx struct {
	kvOps
	db     storage.Database
	writes map[string][]byte // nil value marks a delete
	closed bool
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	if value, ok := tx.writes[string(key)]; ok {
		return value, nil
	}
	return dbStore{db: tx.db}.get(key)
}

func (tx *Tx) put(key, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.writes[string(key)] = append([]byte{}, value...)
	return nil
}

func (tx *Tx) del(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.writes[string(key)] = nil
	return nil
}

// Pending reports the number of buffered writes.
func (tx *Tx) Pending() int { return len(tx.writes) }

// Commit flushes every buffered write in a single database batch.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := tx.db.NewBatch()
	for _, key := range keys {
		if value := tx.writes[key]; value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	tx.writes = nil
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops every buffered write. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
}
