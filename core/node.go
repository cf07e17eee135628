// Package core wires the escrow engine, token ledger, and state manager into
// a single node and serializes every operation that touches state. Each entry
// point runs inside a state overlay: the engine's reads, guards, transfers,
// and status writes land together in one batch, or not at all. Events emitted
// during an operation are buffered and published downstream only after the
// commit succeeds.
package core

import (
	"fmt"
	"math/big"
	"sync"

	"ordervault/core/events"
	"ordervault/ledger"
	"ordervault/native/escrow"
	"ordervault/state"
	"ordervault/storage"
)

// Node is the custody service: one order store, one ledger, one engine.
type Node struct {
	mu      sync.Mutex
	manager *state.Manager
	ledger  *ledger.Ledger
	engine  *escrow.Engine
	emitter events.Emitter
}

// NewNode assembles a node over the supplied database. The ledger's custody
// capability is granted here, once, directly to the engine; nothing else ever
// holds it.
func NewNode(db storage.Database) (*Node, error) {
	manager := state.NewManager(db)
	led := ledger.NewLedger(manager)
	custody, err := led.GrantCustody()
	if err != nil {
		return nil, fmt.Errorf("core: grant custody: %w", err)
	}
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(led)
	engine.SetCustody(custody)
	return &Node{
		manager: manager,
		ledger:  led,
		engine:  engine,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the downstream event sink (audit log, websocket
// fan-out). Passing nil resets it to a no-op.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetNowFunc overrides the engine's time source. For tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

// CustodyAddress returns the address owning every vault.
func (n *Node) CustodyAddress() [20]byte { return n.ledger.CustodyAddress() }

// withAtomic runs fn inside the node lock and a state overlay. On success the
// overlay commits as one batch and the buffered events are published; on
// failure everything is discarded.
func (n *Node) withAtomic(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	queue := &events.Queue{}
	n.engine.SetEmitter(queue)
	defer n.engine.SetEmitter(nil)
	if err := n.manager.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		n.manager.Rollback()
		return err
	}
	if err := n.manager.Commit(); err != nil {
		return err
	}
	for _, evt := range queue.Drain() {
		n.emitter.Emit(evt)
	}
	return nil
}

// CreateOrder creates a new escrow order for the buyer.
func (n *Node) CreateOrder(buyer [20]byte, tokenMint ledger.MintID, amount *big.Int, expiration int64, isNFT bool, nftMint, collectionMint *ledger.MintID, buyerNftAccount *[20]byte) (*escrow.Escrow, error) {
	var created *escrow.Escrow
	err := n.withAtomic(func() error {
		esc, err := n.engine.CreateOrder(buyer, tokenMint, amount, expiration, isNFT, nftMint, collectionMint, buyerNftAccount)
		if err != nil {
			return err
		}
		created = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FundOrder deposits the order amount into the vault.
func (n *Node) FundOrder(buyer [20]byte) error {
	return n.withAtomic(func() error { return n.engine.FundOrder(buyer) })
}

// ConfirmOrder records the seller and, for NFT orders, exchanges the asset.
func (n *Node) ConfirmOrder(buyer, seller [20]byte, sellerNftAccount *[20]byte) error {
	return n.withAtomic(func() error { return n.engine.ConfirmOrder(buyer, seller, sellerNftAccount) })
}

// ReleaseOrder pays the vault out to the seller.
func (n *Node) ReleaseOrder(buyer [20]byte) error {
	return n.withAtomic(func() error { return n.engine.ReleaseOrder(buyer) })
}

// CancelOrder cancels the buyer's order, refunding any deposit.
func (n *Node) CancelOrder(buyer [20]byte) error {
	return n.withAtomic(func() error { return n.engine.CancelOrder(buyer) })
}

// TimeoutCheck force-resolves a funded order past its deadline. Safe for
// anyone to call, any number of times.
func (n *Node) TimeoutCheck(buyer [20]byte) error {
	return n.withAtomic(func() error { return n.engine.TimeoutCheck(buyer) })
}

// GetOrder returns the buyer's escrow record.
func (n *Node) GetOrder(buyer [20]byte) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	esc, ok, err := n.manager.OrderGet(buyer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrow.ErrOrderNotFound
	}
	return esc, nil
}

// BalanceOf reports the (owner, mint) balance.
func (n *Node) BalanceOf(owner [20]byte, mint ledger.MintID) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(owner, mint)
}

// VaultBalance reports the balance held by the buyer's vault.
func (n *Node) VaultBalance(buyer [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Balance(ledger.DeriveVault(buyer))
}

// MintBySymbol resolves a mint symbol to its registered definition.
func (n *Node) MintBySymbol(symbol string) (*ledger.MintInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Mint(ledger.DeriveMintID(symbol))
}
