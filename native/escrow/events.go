package escrow

import (
	"math/big"
	"strconv"

	"ordervault/core/types"
	"ordervault/crypto"
)

const (
	TypeOrderMade       = "order.made"
	TypeOrderFunded     = "order.funded"
	TypeBuyerTransfers  = "order.buyer_transfer"
	TypeSellerConfirmed = "order.seller_confirmed"
	TypeFundsReleased   = "order.funds_released"
	TypeFundsRefunded   = "order.funds_refunded"
	TypeOrderCancelled  = "order.cancelled"
	TypeOrderExpired    = "order.expired"
)

// OrderMade is emitted once per order creation. No funds have moved yet.
type OrderMade struct {
	Buyer      [20]byte
	Amount     *big.Int
	Expiration int64
}

func (OrderMade) EventType() string { return TypeOrderMade }

func (e OrderMade) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderMade,
		Attributes: map[string]string{
			"buyer":      formatAddr(e.Buyer),
			"amount":     formatAmount(e.Amount),
			"expiration": strconv.FormatInt(e.Expiration, 10),
		},
	}
}

// BuyerTransfers mirrors the ledger movement of the deposit into the vault.
type BuyerTransfers struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (BuyerTransfers) EventType() string { return TypeBuyerTransfers }

func (e BuyerTransfers) Event() *types.Event {
	return &types.Event{
		Type: TypeBuyerTransfers,
		Attributes: map[string]string{
			"from":   formatAddr(e.From),
			"to":     formatAddr(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

// OrderFunded is emitted when the deposit lands in the vault.
type OrderFunded struct {
	Buyer     [20]byte
	Vault     [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (OrderFunded) EventType() string { return TypeOrderFunded }

func (e OrderFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderFunded,
		Attributes: map[string]string{
			"buyer":     formatAddr(e.Buyer),
			"vault":     formatAddr(e.Vault),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// SellerConfirmed is emitted when the seller commits to the order. For NFT
// orders the asset has already moved when this fires.
type SellerConfirmed struct {
	Buyer     [20]byte
	Seller    [20]byte
	NftMint   string
	Timestamp int64
}

func (SellerConfirmed) EventType() string { return TypeSellerConfirmed }

func (e SellerConfirmed) Event() *types.Event {
	attrs := map[string]string{
		"buyer":     formatAddr(e.Buyer),
		"seller":    formatAddr(e.Seller),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}
	if e.NftMint != "" {
		attrs["nftMint"] = e.NftMint
	}
	return &types.Event{Type: TypeSellerConfirmed, Attributes: attrs}
}

// FundsReleased is emitted when the vault pays out to the seller.
type FundsReleased struct {
	Buyer     [20]byte
	Seller    [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (FundsReleased) EventType() string { return TypeFundsReleased }

func (e FundsReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsReleased,
		Attributes: map[string]string{
			"buyer":     formatAddr(e.Buyer),
			"seller":    formatAddr(e.Seller),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// FundsRefunded is emitted when the vault returns the deposit to the buyer,
// via cancellation or expiry.
type FundsRefunded struct {
	Buyer     [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (FundsRefunded) EventType() string { return TypeFundsRefunded }

func (e FundsRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeFundsRefunded,
		Attributes: map[string]string{
			"buyer":     formatAddr(e.Buyer),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// OrderCancelled is emitted on buyer cancellation.
type OrderCancelled struct {
	Buyer     [20]byte
	Vault     [20]byte
	Timestamp int64
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCancelled,
		Attributes: map[string]string{
			"buyer":     formatAddr(e.Buyer),
			"vault":     formatAddr(e.Vault),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// OrderExpired is emitted when timeout-check force-resolves a funded order.
type OrderExpired struct {
	Buyer     [20]byte
	Amount    *big.Int
	Timestamp int64
}

func (OrderExpired) EventType() string { return TypeOrderExpired }

func (e OrderExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderExpired,
		Attributes: map[string]string{
			"buyer":     formatAddr(e.Buyer),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

func formatAddr(addr [20]byte) string {
	return crypto.NewAddress(crypto.OVPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
