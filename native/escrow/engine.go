package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"ordervault/core/events"
	"ordervault/ledger"
)

var (
	errNilState   = errors.New("escrow engine: state not configured")
	errNilLedger  = errors.New("escrow engine: ledger not configured")
	errNilCustody = errors.New("escrow engine: custody authority not configured")
)

// MinExpirationLead is the minimum distance between creation time and the
// order expiration, in seconds.
const MinExpirationLead int64 = 60

type engineState interface {
	OrderGet(buyer [20]byte) (*Escrow, bool, error)
	OrderPut(esc *Escrow) error
}

type tokenLedger interface {
	ProvisionVault(buyer [20]byte, mint ledger.MintID) (*ledger.TokenAccount, error)
	EnsureAccount(owner [20]byte, mint ledger.MintID) (*ledger.TokenAccount, error)
	Account(addr [20]byte) (*ledger.TokenAccount, bool, error)
	Mint(id ledger.MintID) (*ledger.MintInfo, error)
	Metadata(mint ledger.MintID) (*ledger.Metadata, bool, error)
	Transfer(auth ledger.Authority, from, to [20]byte, mint ledger.MintID, amount *big.Int) error
}

// Engine validates and applies the escrow order transitions against the order
// store and the token ledger. Every entry point is a single
// read-guard-mutate-transfer-emit sequence; callers serialize access and
// commit or discard the state overlay around each call.
type Engine struct {
	state   engineState
	ledger  tokenLedger
	custody ledger.Custody
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the order store backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger used for every balance movement.
func (e *Engine) SetLedger(l tokenLedger) { e.ledger = l }

// SetCustody hands the engine the vault-debiting capability. Release and the
// two refund paths are the only consumers.
func (e *Engine) SetCustody(c ledger.Custody) { e.custody = c }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) loadOrder(buyer [20]byte) (*Escrow, error) {
	esc, ok, err := e.state.OrderGet(buyer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOrderNotFound
	}
	return esc, nil
}

// CreateOrder initialises and persists a new escrow order for the buyer and
// provisions its empty vault. No funds move.
func (e *Engine) CreateOrder(buyer [20]byte, tokenMint ledger.MintID, amount *big.Int, expiration int64, isNFT bool, nftMint, collectionMint *ledger.MintID, buyerNftAccount *[20]byte) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountZero
	}
	if !amount.IsUint64() {
		return nil, fmt.Errorf("escrow: amount exceeds the 64-bit range")
	}
	now := e.now()
	if expiration < now+MinExpirationLead {
		return nil, ErrExpirationTooSoon
	}
	if _, err := e.ledger.Mint(tokenMint); err != nil {
		return nil, err
	}

	esc := &Escrow{
		Buyer:      buyer,
		TokenMint:  tokenMint,
		Amount:     new(big.Int).Set(amount),
		Expiration: expiration,
		CreatedAt:  now,
		Status:     StatusCreated,
		IsNFT:      isNFT,
	}
	if isNFT {
		if err := e.applyNftSelection(esc, nftMint, collectionMint, buyerNftAccount); err != nil {
			return nil, err
		}
	}

	if _, ok, err := e.state.OrderGet(buyer); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrOrderExists
	}
	vault, err := e.ledger.ProvisionVault(buyer, tokenMint)
	if err != nil {
		return nil, err
	}
	esc.Vault = vault.Address

	if err := e.state.OrderPut(esc); err != nil {
		return nil, err
	}
	e.emit(OrderMade{Buyer: buyer, Amount: esc.Amount, Expiration: expiration})
	return esc.Clone(), nil
}

// FundOrder moves the order amount from the buyer's token account into the
// vault under the buyer's own authority and marks the order funded. The
// transfer and the status advance are one atomic unit.
func (e *Engine) FundOrder(buyer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadOrder(buyer)
	if err != nil {
		return err
	}
	if esc.Status != StatusCreated {
		// Wrong-state signal shared with the cancellation guard.
		return ErrCancellationNotAllowed
	}
	now := e.now()
	if esc.Expiration <= now {
		return ErrExpirationTooSoon
	}
	buyerAcc, err := e.ledger.EnsureAccount(buyer, esc.TokenMint)
	if err != nil {
		return err
	}
	if err := e.ledger.Transfer(ledger.OwnerAuthority(buyer), buyerAcc.Address, esc.Vault, esc.TokenMint, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusFunded
	if err := e.state.OrderPut(esc); err != nil {
		return err
	}
	e.emit(BuyerTransfers{From: buyerAcc.Address, To: esc.Vault, Amount: esc.Amount})
	e.emit(OrderFunded{Buyer: buyer, Vault: esc.Vault, Amount: esc.Amount, Timestamp: now})
	return nil
}

// ConfirmOrder records the confirming party as seller and advances the order
// to in-transit. For NFT orders the unique asset moves from the seller to the
// buyer in the same transition.
func (e *Engine) ConfirmOrder(buyer, seller [20]byte, sellerNftAccount *[20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadOrder(buyer)
	if err != nil {
		return err
	}
	now := e.now()
	if esc.Expiration <= now {
		return ErrExpirationTooFar
	}
	if esc.Status != StatusFunded {
		return ErrSellerConfirmationNotAllowed
	}
	nftMint := ""
	if esc.IsNFT {
		mint, err := e.exchangeAsset(esc, seller, sellerNftAccount)
		if err != nil {
			return err
		}
		nftMint = mint.String()
	}
	sellerCopy := seller
	esc.Seller = &sellerCopy
	esc.Status = StatusInTransit
	if err := e.state.OrderPut(esc); err != nil {
		return err
	}
	e.emit(SellerConfirmed{Buyer: buyer, Seller: seller, NftMint: nftMint, Timestamp: now})
	return nil
}

// ReleaseOrder pays the escrowed amount from the vault to the seller under
// the custody authority. Release is gated purely on status; it is the only
// path that moves vault funds to the seller.
func (e *Engine) ReleaseOrder(buyer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.custody.Valid() {
		return errNilCustody
	}
	esc, err := e.loadOrder(buyer)
	if err != nil {
		return err
	}
	if esc.Status != StatusInTransit {
		return ErrFundsReleaseNotAllowed
	}
	if esc.Seller == nil {
		return ErrFundsReleaseNotAllowed
	}
	sellerAcc, err := e.ledger.EnsureAccount(*esc.Seller, esc.TokenMint)
	if err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.custody, esc.Vault, sellerAcc.Address, esc.TokenMint, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusSuccess
	if err := e.state.OrderPut(esc); err != nil {
		return err
	}
	e.emit(FundsReleased{Buyer: buyer, Seller: *esc.Seller, Amount: esc.Amount, Timestamp: e.now()})
	return nil
}

// CancelOrder cancels an order that has not yet been confirmed. A funded
// deposit is refunded to the buyer under the custody authority; cancellation
// after the expiration window is routed through TimeoutCheck instead.
func (e *Engine) CancelOrder(buyer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadOrder(buyer)
	if err != nil {
		return err
	}
	if esc.Status > StatusFunded {
		return ErrCancellationNotAllowed
	}
	now := e.now()
	if esc.Expiration <= now {
		return ErrExpirationTooFar
	}
	if esc.Status == StatusFunded {
		if err := e.refundDeposit(esc); err != nil {
			return err
		}
		e.emit(FundsRefunded{Buyer: buyer, Amount: esc.Amount, Timestamp: now})
	}
	esc.Status = StatusCancelled
	if err := e.state.OrderPut(esc); err != nil {
		return err
	}
	e.emit(OrderCancelled{Buyer: buyer, Vault: esc.Vault, Timestamp: now})
	return nil
}

// TimeoutCheck force-resolves an order stuck in Funded past its deadline,
// refunding the deposit to the buyer. Callable by anyone, repeatedly: before
// the deadline it is a no-op, and it never touches in-transit or terminal
// orders regardless of elapsed time.
func (e *Engine) TimeoutCheck(buyer [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	esc, err := e.loadOrder(buyer)
	if err != nil {
		return err
	}
	now := e.now()
	if esc.Expiration > now {
		return nil
	}
	if esc.Status != StatusFunded {
		return nil
	}
	if err := e.refundDeposit(esc); err != nil {
		return err
	}
	esc.Status = StatusExpired
	if err := e.state.OrderPut(esc); err != nil {
		return err
	}
	e.emit(FundsRefunded{Buyer: buyer, Amount: esc.Amount, Timestamp: now})
	e.emit(OrderExpired{Buyer: buyer, Amount: esc.Amount, Timestamp: now})
	return nil
}

// refundDeposit returns the full escrowed amount from the vault to the buyer
// under the custody authority.
func (e *Engine) refundDeposit(esc *Escrow) error {
	if !e.custody.Valid() {
		return errNilCustody
	}
	buyerAcc, err := e.ledger.EnsureAccount(esc.Buyer, esc.TokenMint)
	if err != nil {
		return err
	}
	return e.ledger.Transfer(e.custody, esc.Vault, buyerAcc.Address, esc.TokenMint, esc.Amount)
}
