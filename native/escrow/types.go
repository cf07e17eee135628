package escrow

import (
	"fmt"
	"math/big"

	"ordervault/ledger"
)

// TransactionStatus represents the lifecycle states of an escrow order. The
// ordinal encoding is meaningful: cancellation is legal only while the status
// is at or below Funded.
type TransactionStatus uint8

const (
	// StatusCreated: order exists, vault is empty, waiting on the buyer's
	// deposit.
	StatusCreated TransactionStatus = iota
	// StatusFunded: the deposit sits in the vault, waiting on the seller.
	StatusFunded
	// StatusInTransit: the seller confirmed (and, for NFT orders, the asset
	// already moved to the buyer); funds await release.
	StatusInTransit
	// StatusSuccess: funds released to the seller. Terminal.
	StatusSuccess
	// StatusCancelled: order cancelled, any deposit refunded. Terminal.
	StatusCancelled
	// StatusDisputed is reserved. No transition sets, reads, or exits it.
	StatusDisputed
	// StatusExpired: the deadline passed while Funded and the deposit was
	// force-refunded. Terminal.
	StatusExpired
)

// StatusFromByte decodes a stored status byte, rejecting unknown values
// instead of defaulting.
func StatusFromByte(v uint8) (TransactionStatus, error) {
	s := TransactionStatus(v)
	if !s.Valid() {
		return 0, fmt.Errorf("escrow: unrecognized status value %d", v)
	}
	return s, nil
}

// Valid reports whether the status value is within the supported range.
func (s TransactionStatus) Valid() bool {
	return s <= StatusExpired
}

// Terminal reports whether the status admits no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func (s TransactionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusInTransit:
		return "in_transit"
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Escrow is the record tracking one buyer's deposit-for-asset exchange. One
// record per buyer, created once, mutated in place by every transition and
// never deleted; terminal states are retained for audit.
type Escrow struct {
	Buyer     [20]byte
	Seller    *[20]byte
	TokenMint ledger.MintID
	Amount    *big.Int
	Vault     [20]byte
	IsNFT     bool
	// NftMint identifies the unique asset to deliver. For collection
	// constrained orders it stays nil until confirmation resolves the
	// concrete mint.
	NftMint         *ledger.MintID
	CollectionMint  *ledger.MintID
	BuyerNftAccount *[20]byte
	Expiration      int64
	CreatedAt       int64
	Status          TransactionStatus
	// Arbitrator is reserved. No transition consumes it.
	Arbitrator *[20]byte
}

// Clone returns a deep copy so callers can mutate without affecting the
// stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if e.Seller != nil {
		seller := *e.Seller
		clone.Seller = &seller
	}
	if e.NftMint != nil {
		mint := *e.NftMint
		clone.NftMint = &mint
	}
	if e.CollectionMint != nil {
		mint := *e.CollectionMint
		clone.CollectionMint = &mint
	}
	if e.BuyerNftAccount != nil {
		acc := *e.BuyerNftAccount
		clone.BuyerNftAccount = &acc
	}
	if e.Arbitrator != nil {
		arb := *e.Arbitrator
		clone.Arbitrator = &arb
	}
	return &clone
}
