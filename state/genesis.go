package state

var genesisAppliedKey = []byte("genesis/applied")

// GenesisApplied reports whether the genesis seed has already been written.
func (m *Manager) GenesisApplied() (bool, error) {
	_, ok, err := m.get(genesisAppliedKey)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MarkGenesisApplied records that the genesis seed has been written. Follows
// the overlay of an in-progress transaction like every other write.
func (m *Manager) MarkGenesisApplied() error {
	return m.put(genesisAppliedKey, []byte{1})
}
