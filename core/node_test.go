package core

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"ordervault/core/events"
	"ordervault/crypto"
	"ordervault/ledger"
	"ordervault/native/escrow"
	"ordervault/storage"
)

func formatTestAddress(raw [20]byte) string {
	return crypto.NewAddress(crypto.OVPrefix, raw[:]).String()
}

const testNow int64 = 1_700_000_000

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestNode(t *testing.T) (*Node, *recordingEmitter, ledger.MintID) {
	t.Helper()
	node, err := NewNode(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	emitter := &recordingEmitter{}
	node.SetEmitter(emitter)
	node.SetNowFunc(func() int64 { return testNow })

	spec := &GenesisSpec{
		Mints: []GenesisMint{{Symbol: "USDV", Decimals: 6}},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	mint, err := node.MintBySymbol("USDV")
	if err != nil {
		t.Fatalf("mint lookup: %v", err)
	}
	return node, emitter, mint.ID
}

func seedBuyer(t *testing.T, node *Node, buyer [20]byte, mint ledger.MintID, amount int64) {
	t.Helper()
	err := node.withAtomic(func() error {
		return node.ledger.Deposit(buyer, mint, big.NewInt(amount))
	})
	if err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
}

func TestNodeLifecycleRoundTrip(t *testing.T) {
	node, emitter, mint := newTestNode(t)
	buyer := testAddr(0x01)
	seller := testAddr(0x02)
	seedBuyer(t, node, buyer, mint, 1000)

	if _, err := node.CreateOrder(buyer, mint, big.NewInt(600), testNow+3600, false, nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := node.FundOrder(buyer); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := node.ConfirmOrder(buyer, seller, nil); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := node.ReleaseOrder(buyer); err != nil {
		t.Fatalf("release: %v", err)
	}

	esc, err := node.GetOrder(buyer)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if esc.Status != escrow.StatusSuccess {
		t.Fatalf("expected success status, got %v", esc.Status)
	}
	sellerBal, err := node.BalanceOf(seller, mint)
	if err != nil {
		t.Fatalf("seller balance: %v", err)
	}
	if sellerBal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected seller balance 600, got %s", sellerBal)
	}
	vaultBal, err := node.VaultBalance(buyer)
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vaultBal.Sign() != 0 {
		t.Fatalf("expected drained vault, got %s", vaultBal)
	}

	want := []string{
		escrow.TypeOrderMade,
		escrow.TypeBuyerTransfers,
		escrow.TypeOrderFunded,
		escrow.TypeSellerConfirmed,
		escrow.TypeFundsReleased,
	}
	if len(emitter.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(emitter.events))
	}
	for i, evt := range emitter.events {
		if evt.EventType() != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], evt.EventType())
		}
	}
}

func TestNodeRollsBackFailedOperation(t *testing.T) {
	node, emitter, mint := newTestNode(t)
	buyer := testAddr(0x03)

	if _, err := node.CreateOrder(buyer, mint, big.NewInt(600), testNow+3600, false, nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	emitted := len(emitter.events)

	// Funding fails on balance; nothing may change and nothing may emit.
	if err := node.FundOrder(buyer); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	esc, err := node.GetOrder(buyer)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if esc.Status != escrow.StatusCreated {
		t.Fatalf("failed fund must leave status untouched, got %v", esc.Status)
	}
	if len(emitter.events) != emitted {
		t.Fatalf("failed operation must not publish events")
	}
}

func TestNodeTimeoutSweep(t *testing.T) {
	node, _, mint := newTestNode(t)
	buyer := testAddr(0x04)
	seedBuyer(t, node, buyer, mint, 1000)

	if _, err := node.CreateOrder(buyer, mint, big.NewInt(600), testNow+3600, false, nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := node.FundOrder(buyer); err != nil {
		t.Fatalf("fund: %v", err)
	}

	node.SetNowFunc(func() int64 { return testNow + 7200 })
	if err := node.TimeoutCheck(buyer); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	esc, err := node.GetOrder(buyer)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if esc.Status != escrow.StatusExpired {
		t.Fatalf("expected expired status, got %v", esc.Status)
	}
	buyerBal, err := node.BalanceOf(buyer, mint)
	if err != nil {
		t.Fatalf("buyer balance: %v", err)
	}
	if buyerBal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected full refund, got %s", buyerBal)
	}
}

func TestNodeGetOrderMissing(t *testing.T) {
	node, _, _ := newTestNode(t)
	if _, err := node.GetOrder(testAddr(0x05)); !errors.Is(err, escrow.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestApplyGenesisOnce(t *testing.T) {
	node, _, mint := newTestNode(t)
	owner := testAddr(0x06)

	spec := &GenesisSpec{
		Mints: []GenesisMint{{Symbol: "USDV", Decimals: 6}},
	}
	// Reapplication is a no-op, not a duplicate-mint failure.
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("reapply genesis: %v", err)
	}

	bal, err := node.BalanceOf(owner, mint)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("unexpected balance %s", bal)
	}
}

func TestGenesisSeedsBalancesAndNfts(t *testing.T) {
	node, err := NewNode(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	owner := testAddr(0x07)
	ownerAddr := formatTestAddress(owner)

	spec := &GenesisSpec{
		Mints: []GenesisMint{
			{Symbol: "USDV", Decimals: 6},
			{Symbol: "RELIC-1", NFT: true},
			{Symbol: "RELICS", NFT: true},
		},
		Metadata: []GenesisMetadata{{Symbol: "RELIC-1", Collection: "RELICS", Name: "Relic #1"}},
		Alloc:    map[string]map[string]string{ownerAddr: {"USDV": "2500"}},
		NFTs:     []GenesisNFT{{Symbol: "RELIC-1", Owner: ownerAddr}},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	usd, err := node.MintBySymbol("USDV")
	if err != nil {
		t.Fatalf("usd lookup: %v", err)
	}
	bal, err := node.BalanceOf(owner, usd.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(2500)) != 0 {
		t.Fatalf("expected 2500, got %s", bal)
	}
	relic, err := node.MintBySymbol("RELIC-1")
	if err != nil {
		t.Fatalf("relic lookup: %v", err)
	}
	nftBal, err := node.BalanceOf(owner, relic.ID)
	if err != nil {
		t.Fatalf("nft balance: %v", err)
	}
	if nftBal.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected one nft unit, got %s", nftBal)
	}
}
