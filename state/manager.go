// Package state persists escrow orders and ledger records in a key-value
// store. All reads go through an optional copy-on-write overlay: an operation
// begins an overlay, performs its reads and writes against it, and either
// commits everything in one batch or discards it, so no partially applied
// transition is ever observable.
package state

import (
	"errors"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"ordervault/storage"
)

var (
	errNilDatabase = errors.New("state: database not configured")
	errNoOverlay   = errors.New("state: no overlay in progress")
	errOverlayOpen = errors.New("state: overlay already in progress")
)

// Manager provides typed access to the persisted escrow and ledger records.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	overlay map[string][]byte
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a copy-on-write overlay. Writes issued before the next Commit
// go to the overlay only.
func (m *Manager) Begin() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		return errOverlayOpen
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Commit flushes the overlay to the database in a single atomic batch.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay == nil {
		return errNoOverlay
	}
	ops := make([]storage.BatchOp, 0, len(m.overlay))
	for k, v := range m.overlay {
		ops = append(ops, storage.BatchOp{Key: []byte(k), Value: v})
	}
	m.overlay = nil
	if len(ops) == 0 {
		return nil
	}
	return m.db.WriteBatch(ops)
}

// Rollback discards the overlay. Safe to call when none is open.
func (m *Manager) Rollback() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = nil
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, errNilDatabase
	}
	m.mu.Lock()
	if m.overlay != nil {
		if v, ok := m.overlay[string(key)]; ok {
			m.mu.Unlock()
			return v, true, nil
		}
	}
	m.mu.Unlock()
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		m.overlay[string(key)] = value
		return nil
	}
	return m.db.Put(key, value)
}

func storageKey(prefix string, raw ...[]byte) []byte {
	buf := make([]byte, 0, len(prefix)+64)
	buf = append(buf, prefix...)
	for _, r := range raw {
		buf = append(buf, r...)
	}
	return ethcrypto.Keccak256(buf)
}
