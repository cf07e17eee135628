package state

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"ordervault/ledger"
	"ordervault/native/escrow"
	"ordervault/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func sampleOrder(buyer [20]byte) *escrow.Escrow {
	seller := testAddr(0x22)
	nftAcc := testAddr(0x33)
	nftMint := ledger.DeriveMintID("RELIC-1")
	collection := ledger.DeriveMintID("RELICS")
	return &escrow.Escrow{
		Buyer:           buyer,
		Seller:          &seller,
		TokenMint:       ledger.DeriveMintID("USDV"),
		Amount:          big.NewInt(12345),
		Vault:           ledger.DeriveVault(buyer),
		IsNFT:           true,
		NftMint:         &nftMint,
		CollectionMint:  &collection,
		BuyerNftAccount: &nftAcc,
		Expiration:      1_700_003_600,
		CreatedAt:       1_700_000_000,
		Status:          escrow.StatusInTransit,
	}
}

func TestOrderRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	buyer := testAddr(0x11)
	in := sampleOrder(buyer)

	if err := m.OrderPut(in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, ok, err := m.OrderGet(buyer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected order")
	}
	if out.Buyer != in.Buyer || out.Vault != in.Vault || out.TokenMint != in.TokenMint {
		t.Fatalf("identity fields mismatch")
	}
	if out.Amount.Cmp(in.Amount) != 0 {
		t.Fatalf("amount mismatch: %s != %s", out.Amount, in.Amount)
	}
	if out.Status != escrow.StatusInTransit {
		t.Fatalf("status mismatch: %v", out.Status)
	}
	if out.Seller == nil || *out.Seller != *in.Seller {
		t.Fatalf("seller mismatch")
	}
	if out.NftMint == nil || *out.NftMint != *in.NftMint {
		t.Fatalf("nft mint mismatch")
	}
	if out.CollectionMint == nil || *out.CollectionMint != *in.CollectionMint {
		t.Fatalf("collection mint mismatch")
	}
	if out.BuyerNftAccount == nil || *out.BuyerNftAccount != *in.BuyerNftAccount {
		t.Fatalf("buyer nft account mismatch")
	}
	if out.Expiration != in.Expiration || out.CreatedAt != in.CreatedAt {
		t.Fatalf("timestamp mismatch")
	}
	if out.Arbitrator != nil {
		t.Fatalf("absent arbitrator must stay absent")
	}
}

func TestOrderOptionalFieldsAbsent(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	buyer := testAddr(0x12)
	in := &escrow.Escrow{
		Buyer:      buyer,
		TokenMint:  ledger.DeriveMintID("USDV"),
		Amount:     big.NewInt(1),
		Vault:      ledger.DeriveVault(buyer),
		Expiration: 1_700_003_600,
		CreatedAt:  1_700_000_000,
		Status:     escrow.StatusCreated,
	}
	if err := m.OrderPut(in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, ok, err := m.OrderGet(buyer)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Seller != nil || out.NftMint != nil || out.CollectionMint != nil || out.BuyerNftAccount != nil {
		t.Fatalf("absent optional fields must decode as nil")
	}
}

func TestOrderGetMissing(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	_, ok, err := m.OrderGet(testAddr(0x13))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected no order")
	}
}

func TestTokenAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	owner := testAddr(0x14)
	mint := ledger.DeriveMintID("USDV")
	in := &ledger.TokenAccount{
		Address: ledger.DeriveAccount(owner, mint),
		Owner:   owner,
		Mint:    mint,
		Amount:  big.NewInt(987654321),
	}
	if err := m.TokenAccountPut(in); err != nil {
		t.Fatalf("put: %v", err)
	}
	out, ok, err := m.TokenAccountGet(in.Address)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Owner != owner || out.Mint != mint || out.Amount.Cmp(in.Amount) != 0 {
		t.Fatalf("account round trip mismatch")
	}
}

func TestMintAndMetadataRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	id := ledger.DeriveMintID("RELIC-1")
	if err := m.MintPut(&ledger.MintInfo{ID: id, Symbol: "RELIC-1", Decimals: 0, NFT: true}); err != nil {
		t.Fatalf("mint put: %v", err)
	}
	info, ok, err := m.MintGet(id)
	if err != nil || !ok {
		t.Fatalf("mint get: ok=%v err=%v", ok, err)
	}
	if info.Symbol != "RELIC-1" || !info.NFT || info.Decimals != 0 {
		t.Fatalf("mint round trip mismatch")
	}

	collection := ledger.DeriveMintID("RELICS")
	if err := m.MetadataPut(&ledger.Metadata{Mint: id, Collection: collection, Name: "Relic #1"}); err != nil {
		t.Fatalf("metadata put: %v", err)
	}
	meta, ok, err := m.MetadataGet(id)
	if err != nil || !ok {
		t.Fatalf("metadata get: ok=%v err=%v", ok, err)
	}
	if meta.Collection != collection || meta.Name != "Relic #1" {
		t.Fatalf("metadata round trip mismatch")
	}
}

func TestOverlayCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	buyer := testAddr(0x15)

	if err := m.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.OrderPut(sampleOrder(buyer)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Reads inside the overlay see the pending write.
	if _, ok, err := m.OrderGet(buyer); err != nil || !ok {
		t.Fatalf("overlay read: ok=%v err=%v", ok, err)
	}
	// The database does not, until commit.
	if _, err := db.Get(orderStorageKey(buyer)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("write leaked to database before commit")
	}

	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := db.Get(orderStorageKey(buyer)); err != nil {
		t.Fatalf("committed write missing from database: %v", err)
	}
}

func TestOverlayRollback(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	buyer := testAddr(0x16)

	if err := m.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.OrderPut(sampleOrder(buyer)); err != nil {
		t.Fatalf("put: %v", err)
	}
	m.Rollback()

	if _, ok, err := m.OrderGet(buyer); err != nil {
		t.Fatalf("get after rollback: %v", err)
	} else if ok {
		t.Fatalf("rolled back write must not be visible")
	}
}

func TestOverlayGuards(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if err := m.Commit(); !errors.Is(err, errNoOverlay) {
		t.Fatalf("expected errNoOverlay, got %v", err)
	}
	if err := m.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Begin(); !errors.Is(err, errOverlayOpen) {
		t.Fatalf("expected errOverlayOpen, got %v", err)
	}
	m.Rollback()
}

func TestGenesisFlag(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	applied, err := m.GenesisApplied()
	if err != nil {
		t.Fatalf("genesis applied: %v", err)
	}
	if applied {
		t.Fatalf("fresh database must not report genesis")
	}
	if err := m.MarkGenesisApplied(); err != nil {
		t.Fatalf("mark: %v", err)
	}
	applied, err = m.GenesisApplied()
	if err != nil {
		t.Fatalf("genesis applied: %v", err)
	}
	if !applied {
		t.Fatalf("expected genesis flag set")
	}
}
