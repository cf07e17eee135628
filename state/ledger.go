package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"ordervault/ledger"
)

const (
	tokenAccountPrefix = "ledger/account/"
	mintRecordPrefix   = "ledger/mint/"
	metadataPrefix     = "ledger/meta/"
)

type storedTokenAccount struct {
	Address [20]byte
	Owner   [20]byte
	Mint    [32]byte
	Amount  *big.Int
}

type storedMint struct {
	ID       [32]byte
	Symbol   string
	Decimals uint8
	NFT      bool
}

type storedMetadata struct {
	Mint       [32]byte
	Collection [32]byte
	Name       string
}

// TokenAccountGet loads the token account stored at addr.
func (m *Manager) TokenAccountGet(addr [20]byte) (*ledger.TokenAccount, bool, error) {
	raw, ok, err := m.get(storageKey(tokenAccountPrefix, addr[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedTokenAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode token account: %w", err)
	}
	acc := &ledger.TokenAccount{
		Address: stored.Address,
		Owner:   stored.Owner,
		Mint:    ledger.MintID(stored.Mint),
		Amount:  big.NewInt(0),
	}
	if stored.Amount != nil {
		acc.Amount = new(big.Int).Set(stored.Amount)
	}
	return acc, true, nil
}

// TokenAccountPut persists a token account under its derived address.
func (m *Manager) TokenAccountPut(acc *ledger.TokenAccount) error {
	if acc == nil {
		return fmt.Errorf("state: nil token account")
	}
	amount := big.NewInt(0)
	if acc.Amount != nil {
		amount = new(big.Int).Set(acc.Amount)
	}
	encoded, err := rlp.EncodeToBytes(&storedTokenAccount{
		Address: acc.Address,
		Owner:   acc.Owner,
		Mint:    [32]byte(acc.Mint),
		Amount:  amount,
	})
	if err != nil {
		return fmt.Errorf("state: encode token account: %w", err)
	}
	return m.put(storageKey(tokenAccountPrefix, acc.Address[:]), encoded)
}

// MintGet loads a registered mint.
func (m *Manager) MintGet(id ledger.MintID) (*ledger.MintInfo, bool, error) {
	raw, ok, err := m.get(storageKey(mintRecordPrefix, id[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedMint
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode mint: %w", err)
	}
	return &ledger.MintInfo{
		ID:       ledger.MintID(stored.ID),
		Symbol:   stored.Symbol,
		Decimals: stored.Decimals,
		NFT:      stored.NFT,
	}, true, nil
}

// MintPut persists a mint definition.
func (m *Manager) MintPut(info *ledger.MintInfo) error {
	if info == nil {
		return fmt.Errorf("state: nil mint")
	}
	encoded, err := rlp.EncodeToBytes(&storedMint{
		ID:       [32]byte(info.ID),
		Symbol:   info.Symbol,
		Decimals: info.Decimals,
		NFT:      info.NFT,
	})
	if err != nil {
		return fmt.Errorf("state: encode mint: %w", err)
	}
	return m.put(storageKey(mintRecordPrefix, info.ID[:]), encoded)
}

// MetadataGet loads collection metadata for a mint.
func (m *Manager) MetadataGet(mint ledger.MintID) (*ledger.Metadata, bool, error) {
	raw, ok, err := m.get(storageKey(metadataPrefix, mint[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedMetadata
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode metadata: %w", err)
	}
	return &ledger.Metadata{
		Mint:       ledger.MintID(stored.Mint),
		Collection: ledger.MintID(stored.Collection),
		Name:       stored.Name,
	}, true, nil
}

// MetadataPut persists collection metadata for a mint.
func (m *Manager) MetadataPut(meta *ledger.Metadata) error {
	if meta == nil {
		return fmt.Errorf("state: nil metadata")
	}
	encoded, err := rlp.EncodeToBytes(&storedMetadata{
		Mint:       [32]byte(meta.Mint),
		Collection: [32]byte(meta.Collection),
		Name:       meta.Name,
	})
	if err != nil {
		return fmt.Errorf("state: encode metadata: %w", err)
	}
	return m.put(storageKey(metadataPrefix, meta.Mint[:]), encoded)
}
