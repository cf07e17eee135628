// Package ledger implements the token transfer primitive backing the escrow
// core: deterministic token accounts, fungible and non-fungible mints, and
// authority-gated balance movement. Transfers are all-or-nothing; the caller
// provides atomicity across an operation by committing the underlying state
// overlay once every step has succeeded.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNilState          = errors.New("ledger: state not configured")
	ErrAccountNotFound   = errors.New("ledger: token account not found")
	ErrAccountExists     = errors.New("ledger: token account already exists")
	ErrMintNotFound      = errors.New("ledger: mint not found")
	ErrMintExists        = errors.New("ledger: mint already exists")
	ErrMintMismatch      = errors.New("ledger: account mint does not match transfer mint")
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrSelfTransfer      = errors.New("ledger: source and destination accounts are the same")
	ErrUnauthorized      = errors.New("ledger: authority cannot debit this account")
	ErrDecimalsExceeded  = errors.New("ledger: non-fungible transfers must move whole units")
)

const (
	accountTag = "token/"
	vaultTag   = "vault/"
	mintTag    = "mint/"
	custodyTag = "ordervault/custody"
)

// Ledger performs atomic balance transfers between token accounts. It is the
// only component that mutates balances; everything above it requests
// transfers and trusts all-or-nothing execution.
type Ledger struct {
	state       State
	custodyAddr [20]byte

	custodyOnce    sync.Once
	custodyGranted bool
}

// NewLedger constructs a ledger over the supplied state backend.
func NewLedger(state State) *Ledger {
	return &Ledger{
		state:       state,
		custodyAddr: deriveAddress([]byte(custodyTag)),
	}
}

// CustodyAddress returns the module-held address that owns every vault. No
// private key exists for it; funds under it move only through the custody
// capability.
func (l *Ledger) CustodyAddress() [20]byte { return l.custodyAddr }

// GrantCustody issues the vault-debiting capability. It succeeds exactly once
// per ledger; wiring code hands the capability to the escrow engine and no one
// else can obtain a second one.
func (l *Ledger) GrantCustody() (Custody, error) {
	granted := false
	l.custodyOnce.Do(func() {
		l.custodyGranted = true
		granted = true
	})
	if !granted {
		return Custody{}, ErrCustodyAlreadyGranted
	}
	return Custody{ledger: l}, nil
}

func deriveAddress(parts ...[]byte) [20]byte {
	buf := make([]byte, 0, 64)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// DeriveMintID returns the deterministic identifier for a mint symbol.
func DeriveMintID(symbol string) MintID {
	return MintID(ethcrypto.Keccak256Hash([]byte(mintTag), []byte(strings.TrimSpace(symbol))))
}

// DeriveAccount returns the deterministic token account address for an owner
// and mint.
func DeriveAccount(owner [20]byte, mint MintID) [20]byte {
	return deriveAddress([]byte(accountTag), owner[:], mint[:])
}

// DeriveVault returns the deterministic vault address for a buyer. One vault
// per order, keyed by the buyer identity and a fixed tag.
func DeriveVault(buyer [20]byte) [20]byte {
	return deriveAddress([]byte(vaultTag), buyer[:])
}

// CreateMint registers a new asset. NFT mints are forced to zero decimals.
func (l *Ledger) CreateMint(symbol string, decimals uint8, nft bool) (*MintInfo, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: empty mint symbol")
	}
	id := DeriveMintID(trimmed)
	if _, ok, err := l.state.MintGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrMintExists
	}
	if nft {
		decimals = 0
	}
	info := &MintInfo{ID: id, Symbol: trimmed, Decimals: decimals, NFT: nft}
	if err := l.state.MintPut(info); err != nil {
		return nil, err
	}
	return info, nil
}

// Mint looks up a registered mint.
func (l *Ledger) Mint(id MintID) (*MintInfo, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	info, ok, err := l.state.MintGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMintNotFound
	}
	return info, nil
}

// SetMetadata records collection metadata for a non-fungible mint.
func (l *Ledger) SetMetadata(mint, collection MintID, name string) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	info, err := l.Mint(mint)
	if err != nil {
		return err
	}
	if !info.NFT {
		return fmt.Errorf("ledger: metadata only applies to non-fungible mints")
	}
	return l.state.MetadataPut(&Metadata{Mint: mint, Collection: collection, Name: name})
}

// Metadata returns the metadata for a mint, reporting presence explicitly.
func (l *Ledger) Metadata(mint MintID) (*Metadata, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, ErrNilState
	}
	return l.state.MetadataGet(mint)
}

// Account returns the token account stored at addr.
func (l *Ledger) Account(addr [20]byte) (*TokenAccount, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, ErrNilState
	}
	return l.state.TokenAccountGet(addr)
}

// EnsureAccount returns the (owner, mint) token account, creating an empty
// one when missing.
func (l *Ledger) EnsureAccount(owner [20]byte, mint MintID) (*TokenAccount, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	if _, err := l.Mint(mint); err != nil {
		return nil, err
	}
	addr := DeriveAccount(owner, mint)
	acc, ok, err := l.state.TokenAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		if acc.Mint != mint {
			return nil, ErrMintMismatch
		}
		return acc, nil
	}
	acc = &TokenAccount{Address: addr, Owner: owner, Mint: mint, Amount: big.NewInt(0)}
	if err := l.state.TokenAccountPut(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// ProvisionVault creates the empty custody vault for a buyer and mint. The
// vault is owned by the custody address, so no party authority can ever debit
// it.
func (l *Ledger) ProvisionVault(buyer [20]byte, mint MintID) (*TokenAccount, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	if _, err := l.Mint(mint); err != nil {
		return nil, err
	}
	addr := DeriveVault(buyer)
	if _, ok, err := l.state.TokenAccountGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAccountExists
	}
	vault := &TokenAccount{Address: addr, Owner: l.custodyAddr, Mint: mint, Amount: big.NewInt(0)}
	if err := l.state.TokenAccountPut(vault); err != nil {
		return nil, err
	}
	return vault, nil
}

// Deposit credits freshly issued units to the (owner, mint) account. Used by
// genesis seeding and tests; the escrow core never issues supply.
func (l *Ledger) Deposit(owner [20]byte, mint MintID, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := l.EnsureAccount(owner, mint)
	if err != nil {
		return err
	}
	acc.Amount = new(big.Int).Add(acc.Amount, amount)
	return l.state.TokenAccountPut(acc)
}

// BalanceOf reports the balance of the (owner, mint) account; missing
// accounts read as zero.
func (l *Ledger) BalanceOf(owner [20]byte, mint MintID) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	acc, ok, err := l.state.TokenAccountGet(DeriveAccount(owner, mint))
	if err != nil {
		return nil, err
	}
	if !ok || acc.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Amount), nil
}

// Balance reports the balance stored at a raw account address (vaults
// included); missing accounts read as zero.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	acc, ok, err := l.state.TokenAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || acc.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(acc.Amount), nil
}

// Transfer moves amount of mint from one token account to another under the
// supplied authority. The accounts must be distinct, exist, and carry the
// transfer mint;
// the debit side is checked against the authority before anything moves.
func (l *Ledger) Transfer(auth Authority, from, to [20]byte, mint MintID, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if auth == nil {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		// Two decoded copies of one record would let the credit overwrite
		// the debit on the write-back.
		return ErrSelfTransfer
	}
	info, err := l.Mint(mint)
	if err != nil {
		return err
	}
	fromAcc, ok, err := l.state.TokenAccountGet(from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	toAcc, ok, err := l.state.TokenAccountGet(to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if fromAcc.Mint != mint || toAcc.Mint != mint {
		return ErrMintMismatch
	}
	if info.NFT && amount.Cmp(big.NewInt(1)) != 0 {
		return ErrDecimalsExceeded
	}
	if err := l.authorize(auth, fromAcc); err != nil {
		return err
	}
	if fromAcc.Amount == nil || fromAcc.Amount.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Amount = new(big.Int).Sub(fromAcc.Amount, amount)
	if toAcc.Amount == nil {
		toAcc.Amount = big.NewInt(0)
	}
	toAcc.Amount = new(big.Int).Add(toAcc.Amount, amount)
	if err := l.state.TokenAccountPut(fromAcc); err != nil {
		return err
	}
	return l.state.TokenAccountPut(toAcc)
}

// authorize enforces the asymmetric authority model: owner authorities debit
// only their own non-custody accounts, the custody capability debits only
// custody-owned vaults.
func (l *Ledger) authorize(auth Authority, from *TokenAccount) error {
	if auth.isCustody() {
		if from.Owner != l.custodyAddr {
			return ErrUnauthorized
		}
		// The capability must have been issued by this ledger.
		if c, ok := auth.(Custody); !ok || c.ledger != l {
			return ErrUnauthorized
		}
		return nil
	}
	if from.Owner == l.custodyAddr {
		return ErrUnauthorized
	}
	if from.Owner != auth.owner() {
		return ErrUnauthorized
	}
	return nil
}
