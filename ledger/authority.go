package ledger

import "errors"

// ErrCustodyAlreadyGranted is returned when a second custody capability is
// requested from the same ledger.
var ErrCustodyAlreadyGranted = errors.New("ledger: custody authority already granted")

// Authority is the capability required to debit a token account. The
// interface carries unexported methods so no package outside the ledger can
// construct an implementation: parties hold OwnerAuthority over their own
// accounts, and the single custody capability issued by GrantCustody is the
// only value that can move funds out of a vault.
type Authority interface {
	isCustody() bool
	owner() [20]byte
}

type ownerAuthority struct {
	addr [20]byte
}

func (a ownerAuthority) isCustody() bool { return false }
func (a ownerAuthority) owner() [20]byte { return a.addr }

// OwnerAuthority authorizes debits from accounts owned by addr. It stands in
// for the account owner's signature, which is verified upstream.
func OwnerAuthority(addr [20]byte) Authority {
	return ownerAuthority{addr: addr}
}

// Custody is the vault-debiting capability. It is handed out exactly once per
// ledger and is held internally by the escrow engine; release and refund are
// the only code paths that ever see it.
type Custody struct {
	ledger *Ledger
}

func (c Custody) isCustody() bool { return c.ledger != nil }

func (c Custody) owner() [20]byte {
	if c.ledger == nil {
		return [20]byte{}
	}
	return c.ledger.custodyAddr
}

// Valid reports whether the capability was issued by a ledger.
func (c Custody) Valid() bool { return c.ledger != nil }
