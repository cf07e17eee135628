package ledger

import (
	"encoding/hex"
	"math/big"
)

// MintID identifies a fungible or non-fungible asset.
type MintID [32]byte

// IsZero reports whether the mint identifier is unset.
func (m MintID) IsZero() bool { return m == MintID{} }

func (m MintID) String() string { return hex.EncodeToString(m[:]) }

// MintInfo describes an asset known to the ledger. Non-fungible mints carry
// zero decimals and a total supply of exactly one unit.
type MintInfo struct {
	ID       MintID
	Symbol   string
	Decimals uint8
	NFT      bool
}

// Metadata links a non-fungible mint to its collection. Absent metadata is a
// legal state; collection-constrained exchanges fail on it explicitly.
type Metadata struct {
	Mint       MintID
	Collection MintID
	Name       string
}

// TokenAccount holds a balance of a single mint for a single owner. Account
// addresses are derived deterministically from (owner, mint) or, for vaults,
// from the order's buyer, so lookups never require a scan.
type TokenAccount struct {
	Address [20]byte
	Owner   [20]byte
	Mint    MintID
	Amount  *big.Int
}

// Clone returns a deep copy of the account.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// State is the persistence surface the ledger operates against.
type State interface {
	TokenAccountGet(addr [20]byte) (*TokenAccount, bool, error)
	TokenAccountPut(acc *TokenAccount) error
	MintGet(id MintID) (*MintInfo, bool, error)
	MintPut(info *MintInfo) error
	MetadataGet(mint MintID) (*Metadata, bool, error)
	MetadataPut(meta *Metadata) error
}
