package escrow

import "errors"

// Order lookup failures.
var (
	ErrOrderNotFound = errors.New("escrow: order not found")
	ErrOrderExists   = errors.New("escrow: order already exists for buyer")
)

// Input validation failures.
var (
	ErrAmountZero          = errors.New("escrow: amount must be greater than zero")
	ErrExpirationTooSoon   = errors.New("escrow: expiration must be at least 60 seconds in the future")
	ErrExpirationTooFar    = errors.New("escrow: order expired")
	ErrInvalidNftSelection = errors.New("escrow: exactly one of nft mint or collection mint must be set")
)

// State-guard violations. Each signals that the operation is illegal for the
// order's current status or time.
var (
	ErrCancellationNotAllowed       = errors.New("escrow: cancellation not allowed in current order status")
	ErrFundsReleaseNotAllowed       = errors.New("escrow: current order status does not allow funds to be released")
	ErrSellerConfirmationNotAllowed = errors.New("escrow: seller confirmation not allowed in current order status")
)

// Asset-identity violations on the NFT exchange path.
var (
	ErrMissingNftAccount      = errors.New("escrow: the seller must provide a valid nft account")
	ErrInvalidNftAccount      = errors.New("escrow: the provided nft mint does not match the expected mint in the order")
	ErrInvalidNftOwner        = errors.New("escrow: the seller does not own the specified nft")
	ErrInvalidNftAmount       = errors.New("escrow: the nft account must contain exactly one nft")
	ErrMissingMetadata        = errors.New("escrow: the metadata account for the nft is required but was not provided")
	ErrInvalidMetadata        = errors.New("escrow: failed to verify the nft metadata against the order collection")
	ErrMissingNftMint         = errors.New("escrow: the nft mint is required but was not provided")
	ErrMissingBuyerNftAccount = errors.New("escrow: the buyer's nft account is required but was not provided")
	ErrMissingCollectionMint  = errors.New("escrow: the collection mint is required but was not provided")
)
