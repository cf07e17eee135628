package core

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"ordervault/crypto"
	"ordervault/ledger"
)

// GenesisSpec seeds the ledger on first boot: the mint registry, NFT metadata,
// and initial balances. Application is deterministic: every map is walked in
// sorted order.
type GenesisSpec struct {
	Mints    []GenesisMint                `yaml:"mints"`
	Alloc    map[string]map[string]string `yaml:"alloc"` // addr -> symbol -> amount
	NFTs     []GenesisNFT                 `yaml:"nfts"`
	Metadata []GenesisMetadata            `yaml:"metadata"`
}

type GenesisMint struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	NFT      bool   `yaml:"nft"`
}

// GenesisNFT assigns one unit of an NFT mint to an owner.
type GenesisNFT struct {
	Symbol string `yaml:"symbol"`
	Owner  string `yaml:"owner"`
}

// GenesisMetadata links an NFT mint to its collection mint.
type GenesisMetadata struct {
	Symbol     string `yaml:"symbol"`
	Collection string `yaml:"collection"`
	Name       string `yaml:"name"`
}

// LoadGenesisSpec reads and parses a genesis seed file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: read genesis spec: %w", err)
	}
	spec := new(GenesisSpec)
	if err := yaml.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("core: parse genesis spec: %w", err)
	}
	return spec, nil
}

// ApplyGenesis seeds the ledger from the genesis file. It runs at most once per
// database: subsequent calls are no-ops.
func (n *Node) ApplyGenesis(spec *GenesisSpec) error {
	if spec == nil {
		return fmt.Errorf("core: genesis spec must not be nil")
	}
	return n.withAtomic(func() error {
		applied, err := n.manager.GenesisApplied()
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		if err := n.applyGenesisSpec(spec); err != nil {
			return err
		}
		return n.manager.MarkGenesisApplied()
	})
}

func (n *Node) applyGenesisSpec(spec *GenesisSpec) error {
	for _, mint := range spec.Mints {
		symbol := strings.ToUpper(strings.TrimSpace(mint.Symbol))
		if symbol == "" {
			return fmt.Errorf("core: genesis mint with empty symbol")
		}
		if _, err := n.ledger.CreateMint(symbol, mint.Decimals, mint.NFT); err != nil {
			return fmt.Errorf("core: genesis mint %q: %w", symbol, err)
		}
	}

	for _, meta := range spec.Metadata {
		mintID := ledger.DeriveMintID(strings.ToUpper(strings.TrimSpace(meta.Symbol)))
		collectionID := ledger.DeriveMintID(strings.ToUpper(strings.TrimSpace(meta.Collection)))
		if err := n.ledger.SetMetadata(mintID, collectionID, meta.Name); err != nil {
			return fmt.Errorf("core: genesis metadata %q: %w", meta.Symbol, err)
		}
	}

	allocAddrs := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		allocAddrs = append(allocAddrs, addr)
	}
	sort.Strings(allocAddrs)
	for _, addrStr := range allocAddrs {
		owner, err := parseGenesisAccount(addrStr)
		if err != nil {
			return fmt.Errorf("core: genesis alloc[%q]: %w", addrStr, err)
		}
		balances := spec.Alloc[addrStr]
		symbols := make([]string, 0, len(balances))
		for symbol := range balances {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			normalized := strings.ToUpper(strings.TrimSpace(symbol))
			amount, ok := new(big.Int).SetString(strings.TrimSpace(balances[symbol]), 10)
			if !ok {
				return fmt.Errorf("core: genesis alloc[%q][%q]: invalid amount %q", addrStr, symbol, balances[symbol])
			}
			if err := n.ledger.Deposit(owner, ledger.DeriveMintID(normalized), amount); err != nil {
				return fmt.Errorf("core: genesis alloc[%q][%q]: %w", addrStr, symbol, err)
			}
		}
	}

	for _, nft := range spec.NFTs {
		owner, err := parseGenesisAccount(nft.Owner)
		if err != nil {
			return fmt.Errorf("core: genesis nft %q: %w", nft.Symbol, err)
		}
		mintID := ledger.DeriveMintID(strings.ToUpper(strings.TrimSpace(nft.Symbol)))
		if err := n.ledger.Deposit(owner, mintID, big.NewInt(1)); err != nil {
			return fmt.Errorf("core: genesis nft %q: %w", nft.Symbol, err)
		}
	}
	return nil
}

func parseGenesisAccount(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}
