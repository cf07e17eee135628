package escrow

import (
	"math/big"

	"ordervault/ledger"
)

// applyNftSelection validates the NFT parameters supplied at creation time.
// Exactly one of the concrete mint or the collection constraint selects the
// asset; the buyer must name the destination account up front.
func (e *Engine) applyNftSelection(esc *Escrow, nftMint, collectionMint *ledger.MintID, buyerNftAccount *[20]byte) error {
	if (nftMint == nil) == (collectionMint == nil) {
		return ErrInvalidNftSelection
	}
	if buyerNftAccount == nil {
		return ErrMissingBuyerNftAccount
	}
	if nftMint != nil {
		info, err := e.ledger.Mint(*nftMint)
		if err != nil {
			return ErrMissingNftMint
		}
		if !info.NFT {
			return ErrInvalidNftSelection
		}
		mint := *nftMint
		esc.NftMint = &mint
	} else {
		info, err := e.ledger.Mint(*collectionMint)
		if err != nil {
			return ErrMissingCollectionMint
		}
		if !info.NFT {
			return ErrInvalidNftSelection
		}
		mint := *collectionMint
		esc.CollectionMint = &mint
	}
	acc := *buyerNftAccount
	esc.BuyerNftAccount = &acc
	return nil
}

// exchangeAsset performs the NFT leg of seller confirmation: it validates the
// seller's holding account, resolves the concrete mint for collection
// constrained orders, validates the buyer's destination account, and moves
// exactly one unit seller to buyer under the seller's own authority. The
// caller advances the order status in the same operation, so the asset
// movement and the status change land or fail together.
func (e *Engine) exchangeAsset(esc *Escrow, seller [20]byte, sellerNftAccount *[20]byte) (ledger.MintID, error) {
	var zero ledger.MintID
	if sellerNftAccount == nil {
		return zero, ErrMissingNftAccount
	}
	sellerAcc, ok, err := e.ledger.Account(*sellerNftAccount)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrMissingNftAccount
	}

	mint, err := e.resolveNftMint(esc, sellerAcc)
	if err != nil {
		return zero, err
	}

	if sellerAcc.Owner != seller {
		return zero, ErrInvalidNftOwner
	}
	if sellerAcc.Amount == nil || sellerAcc.Amount.Cmp(big.NewInt(1)) != 0 {
		return zero, ErrInvalidNftAmount
	}

	if esc.BuyerNftAccount == nil {
		return zero, ErrMissingBuyerNftAccount
	}
	buyerAcc, ok, err := e.ledger.Account(*esc.BuyerNftAccount)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrMissingBuyerNftAccount
	}
	if buyerAcc.Owner != esc.Buyer {
		return zero, ErrInvalidNftOwner
	}
	if buyerAcc.Mint != mint {
		return zero, ErrInvalidNftAccount
	}

	if err := e.ledger.Transfer(ledger.OwnerAuthority(seller), sellerAcc.Address, buyerAcc.Address, mint, big.NewInt(1)); err != nil {
		return zero, err
	}
	if esc.NftMint == nil {
		resolved := mint
		esc.NftMint = &resolved
	}
	return mint, nil
}

// resolveNftMint returns the unique asset the order demands. Direct orders
// pin the mint at creation; collection orders accept any mint whose metadata
// names the order's collection.
func (e *Engine) resolveNftMint(esc *Escrow, sellerAcc *ledger.TokenAccount) (ledger.MintID, error) {
	var zero ledger.MintID
	switch {
	case esc.NftMint != nil:
		if sellerAcc.Mint != *esc.NftMint {
			return zero, ErrInvalidNftAccount
		}
		return *esc.NftMint, nil
	case esc.CollectionMint != nil:
		info, err := e.ledger.Mint(sellerAcc.Mint)
		if err != nil {
			return zero, ErrInvalidNftAccount
		}
		if !info.NFT {
			return zero, ErrInvalidNftAccount
		}
		meta, ok, err := e.ledger.Metadata(sellerAcc.Mint)
		if err != nil {
			return zero, err
		}
		if !ok {
			return zero, ErrMissingMetadata
		}
		if meta.Collection != *esc.CollectionMint {
			return zero, ErrInvalidMetadata
		}
		return sellerAcc.Mint, nil
	default:
		return zero, ErrMissingNftMint
	}
}
