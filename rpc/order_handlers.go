package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"ordervault/crypto"
	"ordervault/ledger"
	"ordervault/native/escrow"
)

const (
	codeOrderInvalidParams = -32021
	codeOrderNotFound      = -32022
	codeOrderForbidden     = -32023
	codeOrderConflict      = -32024
	codeOrderInternal      = -32025
)

type orderCreateParams struct {
	Buyer           string `json:"buyer"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	Expiration      int64  `json:"expiration"`
	IsNFT           bool   `json:"isNft"`
	NftMint         string `json:"nftMint,omitempty"`
	CollectionMint  string `json:"collectionMint,omitempty"`
	BuyerNftAccount string `json:"buyerNftAccount,omitempty"`
}

type orderBuyerParams struct {
	Buyer string `json:"buyer"`
}

type orderConfirmParams struct {
	Buyer            string `json:"buyer"`
	Seller           string `json:"seller"`
	SellerNftAccount string `json:"sellerNftAccount,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type balanceResult struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type orderJSON struct {
	Buyer           string  `json:"buyer"`
	Seller          *string `json:"seller,omitempty"`
	TokenMint       string  `json:"tokenMint"`
	Amount          string  `json:"amount"`
	Vault           string  `json:"vault"`
	IsNFT           bool    `json:"isNft"`
	NftMint         *string `json:"nftMint,omitempty"`
	CollectionMint  *string `json:"collectionMint,omitempty"`
	BuyerNftAccount *string `json:"buyerNftAccount,omitempty"`
	Expiration      int64   `json:"expiration"`
	CreatedAt       int64   `json:"createdAt"`
	Status          string  `json:"status"`
}

func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params orderCreateParams
	if status := decodeParams(w, req, &params); status != 0 {
		return status
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		return invalidParams(w, req, err)
	}
	mint, err := s.resolveMint(params.Token)
	if err != nil {
		return invalidParams(w, req, err)
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return invalidParams(w, req, err)
	}
	var nftMint, collectionMint *ledger.MintID
	if strings.TrimSpace(params.NftMint) != "" {
		id := ledger.DeriveMintID(strings.ToUpper(strings.TrimSpace(params.NftMint)))
		nftMint = &id
	}
	if strings.TrimSpace(params.CollectionMint) != "" {
		id := ledger.DeriveMintID(strings.ToUpper(strings.TrimSpace(params.CollectionMint)))
		collectionMint = &id
	}
	var buyerNftAccount *[20]byte
	if strings.TrimSpace(params.BuyerNftAccount) != "" {
		acc, err := parseBech32Address(params.BuyerNftAccount)
		if err != nil {
			return invalidParams(w, req, err)
		}
		buyerNftAccount = &acc
	}
	esc, err := s.node.CreateOrder(buyer, mint, amount, params.Expiration, params.IsNFT, nftMint, collectionMint, buyerNftAccount)
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, orderToJSON(esc))
	return http.StatusOK
}

func (s *Server) handleOrderFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	return s.buyerOp(w, req, s.node.FundOrder)
}

func (s *Server) handleOrderConfirm(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params orderConfirmParams
	if status := decodeParams(w, req, &params); status != 0 {
		return status
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		return invalidParams(w, req, err)
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		return invalidParams(w, req, err)
	}
	var sellerNftAccount *[20]byte
	if strings.TrimSpace(params.SellerNftAccount) != "" {
		acc, err := parseBech32Address(params.SellerNftAccount)
		if err != nil {
			return invalidParams(w, req, err)
		}
		sellerNftAccount = &acc
	}
	if err := s.node.ConfirmOrder(buyer, seller, sellerNftAccount); err != nil {
		return writeOrderError(w, req, err)
	}
	return s.writeOrderResult(w, req, buyer)
}

func (s *Server) handleOrderRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	return s.buyerOp(w, req, s.node.ReleaseOrder)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	return s.buyerOp(w, req, s.node.CancelOrder)
}

func (s *Server) handleOrderTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	return s.buyerOp(w, req, s.node.TimeoutCheck)
}

func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params orderBuyerParams
	if status := decodeParams(w, req, &params); status != 0 {
		return status
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		return invalidParams(w, req, err)
	}
	return s.writeOrderResult(w, req, buyer)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params balanceParams
	if status := decodeParams(w, req, &params); status != 0 {
		return status
	}
	owner, err := parseBech32Address(params.Address)
	if err != nil {
		return invalidParams(w, req, err)
	}
	mint, err := s.resolveMint(params.Token)
	if err != nil {
		return invalidParams(w, req, err)
	}
	balance, err := s.node.BalanceOf(owner, mint)
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, balanceResult{
		Address: params.Address,
		Token:   strings.ToUpper(strings.TrimSpace(params.Token)),
		Balance: balance.String(),
	})
	return http.StatusOK
}

func (s *Server) buyerOp(w http.ResponseWriter, req *RPCRequest, op func([20]byte) error) int {
	var params orderBuyerParams
	if status := decodeParams(w, req, &params); status != 0 {
		return status
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		return invalidParams(w, req, err)
	}
	if err := op(buyer); err != nil {
		return writeOrderError(w, req, err)
	}
	return s.writeOrderResult(w, req, buyer)
}

func (s *Server) writeOrderResult(w http.ResponseWriter, req *RPCRequest, buyer [20]byte) int {
	esc, err := s.node.GetOrder(buyer)
	if err != nil {
		return writeOrderError(w, req, err)
	}
	writeResult(w, req.ID, orderToJSON(esc))
	return http.StatusOK
}

func (s *Server) resolveMint(symbol string) (ledger.MintID, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return ledger.MintID{}, fmt.Errorf("token symbol required")
	}
	info, err := s.node.MintBySymbol(trimmed)
	if err != nil {
		return ledger.MintID{}, fmt.Errorf("unknown token %q", trimmed)
	}
	return info.ID, nil
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) int {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", "exactly one parameter object expected")
		return http.StatusBadRequest
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", err.Error())
		return http.StatusBadRequest
	}
	return 0
}

func invalidParams(w http.ResponseWriter, req *RPCRequest, err error) int {
	writeError(w, http.StatusBadRequest, req.ID, codeOrderInvalidParams, "invalid_params", err.Error())
	return http.StatusBadRequest
}

// writeOrderError translates engine and ledger sentinels into JSON-RPC error
// codes and HTTP statuses.
func writeOrderError(w http.ResponseWriter, req *RPCRequest, err error) int {
	status := http.StatusInternalServerError
	code := codeOrderInternal
	message := "internal error"
	switch {
	case errors.Is(err, escrow.ErrOrderNotFound), errors.Is(err, ledger.ErrMintNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		status, code, message = http.StatusNotFound, codeOrderNotFound, "not_found"
	case errors.Is(err, escrow.ErrOrderExists),
		errors.Is(err, escrow.ErrCancellationNotAllowed),
		errors.Is(err, escrow.ErrFundsReleaseNotAllowed),
		errors.Is(err, escrow.ErrSellerConfirmationNotAllowed),
		errors.Is(err, escrow.ErrExpirationTooFar),
		errors.Is(err, ledger.ErrInsufficientFunds):
		status, code, message = http.StatusConflict, codeOrderConflict, "conflict"
	case errors.Is(err, escrow.ErrInvalidNftOwner), errors.Is(err, ledger.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeOrderForbidden, "forbidden"
	case errors.Is(err, escrow.ErrAmountZero),
		errors.Is(err, escrow.ErrExpirationTooSoon),
		errors.Is(err, escrow.ErrInvalidNftSelection),
		errors.Is(err, escrow.ErrMissingNftAccount),
		errors.Is(err, escrow.ErrInvalidNftAccount),
		errors.Is(err, escrow.ErrInvalidNftAmount),
		errors.Is(err, escrow.ErrMissingMetadata),
		errors.Is(err, escrow.ErrInvalidMetadata),
		errors.Is(err, escrow.ErrMissingNftMint),
		errors.Is(err, escrow.ErrMissingBuyerNftAccount),
		errors.Is(err, escrow.ErrMissingCollectionMint),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSelfTransfer):
		status, code, message = http.StatusBadRequest, codeOrderInvalidParams, "invalid_params"
	}
	writeError(w, status, req.ID, code, message, err.Error())
	return status
}

func parseBech32Address(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func orderToJSON(esc *escrow.Escrow) *orderJSON {
	if esc == nil {
		return nil
	}
	out := &orderJSON{
		Buyer:      formatAddress(esc.Buyer),
		TokenMint:  esc.TokenMint.String(),
		Amount:     esc.Amount.String(),
		Vault:      formatAddress(esc.Vault),
		IsNFT:      esc.IsNFT,
		Expiration: esc.Expiration,
		CreatedAt:  esc.CreatedAt,
		Status:     esc.Status.String(),
	}
	if esc.Seller != nil {
		seller := formatAddress(*esc.Seller)
		out.Seller = &seller
	}
	if esc.NftMint != nil {
		mint := esc.NftMint.String()
		out.NftMint = &mint
	}
	if esc.CollectionMint != nil {
		mint := esc.CollectionMint.String()
		out.CollectionMint = &mint
	}
	if esc.BuyerNftAccount != nil {
		acc := formatAddress(*esc.BuyerNftAccount)
		out.BuyerNftAccount = &acc
	}
	return out
}

func formatAddress(raw [20]byte) string {
	return crypto.NewAddress(crypto.OVPrefix, raw[:]).String()
}
