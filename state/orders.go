package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"ordervault/ledger"
	"ordervault/native/escrow"
)

const orderRecordPrefix = "escrow/order/"

func orderStorageKey(buyer [20]byte) []byte {
	return storageKey(orderRecordPrefix, buyer[:])
}

// storedOrder is the RLP carrier for an escrow record. Optional fields travel
// as presence flags plus value; signed timestamps travel as big integers.
type storedOrder struct {
	Buyer              [20]byte
	HasSeller          bool
	Seller             [20]byte
	TokenMint          [32]byte
	Amount             *big.Int
	Vault              [20]byte
	IsNFT              bool
	HasNftMint         bool
	NftMint            [32]byte
	HasCollectionMint  bool
	CollectionMint     [32]byte
	HasBuyerNftAccount bool
	BuyerNftAccount    [20]byte
	Expiration         *big.Int
	CreatedAt          *big.Int
	Status             uint8
	HasArbitrator      bool
	Arbitrator         [20]byte
}

func newStoredOrder(esc *escrow.Escrow) *storedOrder {
	if esc == nil {
		return nil
	}
	amount := big.NewInt(0)
	if esc.Amount != nil {
		amount = new(big.Int).Set(esc.Amount)
	}
	stored := &storedOrder{
		Buyer:      esc.Buyer,
		TokenMint:  [32]byte(esc.TokenMint),
		Amount:     amount,
		Vault:      esc.Vault,
		IsNFT:      esc.IsNFT,
		Expiration: big.NewInt(esc.Expiration),
		CreatedAt:  big.NewInt(esc.CreatedAt),
		Status:     uint8(esc.Status),
	}
	if esc.Seller != nil {
		stored.HasSeller = true
		stored.Seller = *esc.Seller
	}
	if esc.NftMint != nil {
		stored.HasNftMint = true
		stored.NftMint = [32]byte(*esc.NftMint)
	}
	if esc.CollectionMint != nil {
		stored.HasCollectionMint = true
		stored.CollectionMint = [32]byte(*esc.CollectionMint)
	}
	if esc.BuyerNftAccount != nil {
		stored.HasBuyerNftAccount = true
		stored.BuyerNftAccount = *esc.BuyerNftAccount
	}
	if esc.Arbitrator != nil {
		stored.HasArbitrator = true
		stored.Arbitrator = *esc.Arbitrator
	}
	return stored
}

func (s *storedOrder) toEscrow() (*escrow.Escrow, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil order record")
	}
	status, err := escrow.StatusFromByte(s.Status)
	if err != nil {
		return nil, err
	}
	out := &escrow.Escrow{
		Buyer:     s.Buyer,
		TokenMint: ledger.MintID(s.TokenMint),
		Amount:    big.NewInt(0),
		Vault:     s.Vault,
		IsNFT:     s.IsNFT,
		Status:    status,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if s.Expiration != nil {
		out.Expiration = s.Expiration.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if s.HasSeller {
		seller := s.Seller
		out.Seller = &seller
	}
	if s.HasNftMint {
		mint := ledger.MintID(s.NftMint)
		out.NftMint = &mint
	}
	if s.HasCollectionMint {
		mint := ledger.MintID(s.CollectionMint)
		out.CollectionMint = &mint
	}
	if s.HasBuyerNftAccount {
		acc := s.BuyerNftAccount
		out.BuyerNftAccount = &acc
	}
	if s.HasArbitrator {
		arb := s.Arbitrator
		out.Arbitrator = &arb
	}
	return out, nil
}

// OrderGet loads the escrow record stored for the buyer.
func (m *Manager) OrderGet(buyer [20]byte) (*escrow.Escrow, bool, error) {
	raw, ok, err := m.get(orderStorageKey(buyer))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedOrder
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode order: %w", err)
	}
	esc, err := stored.toEscrow()
	if err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// OrderPut persists the escrow record under the buyer's deterministic key.
func (m *Manager) OrderPut(esc *escrow.Escrow) error {
	if esc == nil {
		return fmt.Errorf("state: nil order")
	}
	encoded, err := rlp.EncodeToBytes(newStoredOrder(esc))
	if err != nil {
		return fmt.Errorf("state: encode order: %w", err)
	}
	return m.put(orderStorageKey(esc.Buyer), encoded)
}
