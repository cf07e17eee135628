package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ordervault/core"
	"ordervault/crypto"
	"ordervault/storage"
)

const testNow int64 = 1_700_000_000

type rpcTestEnv struct {
	node   *core.Node
	server *Server
	ts     *httptest.Server
	secret string
}

func newRPCTestEnv(t *testing.T, secret string) *rpcTestEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return testNow })
	if err := node.ApplyGenesis(&core.GenesisSpec{
		Mints: []core.GenesisMint{{Symbol: "USDV", Decimals: 6}},
		Alloc: map[string]map[string]string{
			testBech32(0x01): {"USDV": "1000"},
		},
	}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	server := NewServer(node, Options{AuthSecret: secret, RateLimit: 1000, RateBurst: 1000})
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &rpcTestEnv{node: node, server: server, ts: ts, secret: secret}
}

func testBech32(fill byte) string {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.OVPrefix, raw).String()
}

func (env *rpcTestEnv) bearerToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tests",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(env.secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (env *rpcTestEnv) call(t *testing.T, token, method string, params interface{}) (*http.Response, *RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.ts.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func decodeOrder(t *testing.T, result interface{}) *orderJSON {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	out := &orderJSON{}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return out
}

func TestOrderLifecycleOverRPC(t *testing.T) {
	env := newRPCTestEnv(t, "test-secret")
	token := env.bearerToken(t)
	buyer := testBech32(0x01)
	seller := testBech32(0x02)

	resp, rpcResp := env.call(t, token, "order_create", orderCreateParams{
		Buyer:      buyer,
		Token:      "USDV",
		Amount:     "600",
		Expiration: testNow + 3600,
	})
	if resp.StatusCode != http.StatusOK || rpcResp.Error != nil {
		t.Fatalf("create failed: status=%d err=%+v", resp.StatusCode, rpcResp.Error)
	}
	order := decodeOrder(t, rpcResp.Result)
	if order.Status != "created" {
		t.Fatalf("expected created, got %s", order.Status)
	}

	_, rpcResp = env.call(t, token, "order_fund", orderBuyerParams{Buyer: buyer})
	if rpcResp.Error != nil {
		t.Fatalf("fund failed: %+v", rpcResp.Error)
	}
	if decodeOrder(t, rpcResp.Result).Status != "funded" {
		t.Fatalf("expected funded status")
	}

	_, rpcResp = env.call(t, token, "order_confirm", orderConfirmParams{Buyer: buyer, Seller: seller})
	if rpcResp.Error != nil {
		t.Fatalf("confirm failed: %+v", rpcResp.Error)
	}
	order = decodeOrder(t, rpcResp.Result)
	if order.Status != "in_transit" {
		t.Fatalf("expected in_transit status, got %s", order.Status)
	}
	if order.Seller == nil || *order.Seller != seller {
		t.Fatalf("seller not reported")
	}

	_, rpcResp = env.call(t, token, "order_release", orderBuyerParams{Buyer: buyer})
	if rpcResp.Error != nil {
		t.Fatalf("release failed: %+v", rpcResp.Error)
	}
	if decodeOrder(t, rpcResp.Result).Status != "success" {
		t.Fatalf("expected success status")
	}

	_, rpcResp = env.call(t, "", "token_getBalance", balanceParams{Address: seller, Token: "USDV"})
	if rpcResp.Error != nil {
		t.Fatalf("balance failed: %+v", rpcResp.Error)
	}
	var bal balanceResult
	raw, _ := json.Marshal(rpcResp.Result)
	if err := json.Unmarshal(raw, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Balance != big.NewInt(600).String() {
		t.Fatalf("expected seller balance 600, got %s", bal.Balance)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newRPCTestEnv(t, "test-secret")
	buyer := testBech32(0x01)

	resp, rpcResp := env.call(t, "", "order_create", orderCreateParams{
		Buyer:      buyer,
		Token:      "USDV",
		Amount:     "600",
		Expiration: testNow + 3600,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", rpcResp.Error)
	}

	// A token signed with the wrong secret is rejected.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	resp, _ = env.call(t, signed, "order_create", orderCreateParams{
		Buyer:      buyer,
		Token:      "USDV",
		Amount:     "600",
		Expiration: testNow + 3600,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", resp.StatusCode)
	}
}

func TestReadMethodsSkipAuth(t *testing.T) {
	env := newRPCTestEnv(t, "test-secret")
	buyer := testBech32(0x01)

	// order_get needs no credentials, and a missing order maps to 404.
	resp, rpcResp := env.call(t, "", "order_get", orderBuyerParams{Buyer: buyer})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != codeOrderNotFound {
		t.Fatalf("expected not-found error, got %+v", rpcResp.Error)
	}

	// order_timeout is deliberately open as well; unknown orders still 404.
	resp, _ = env.call(t, "", "order_timeout", orderBuyerParams{Buyer: testBech32(0x09)})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sweep target, got %d", resp.StatusCode)
	}
}

func TestInvalidRequests(t *testing.T) {
	env := newRPCTestEnv(t, "")

	resp, rpcResp := env.call(t, "", "order_noSuchMethod", nil)
	if resp.StatusCode != http.StatusNotFound || rpcResp.Error == nil || rpcResp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got status=%d err=%+v", resp.StatusCode, rpcResp.Error)
	}

	resp, rpcResp = env.call(t, "", "order_get", map[string]string{"buyer": "not-an-address"})
	if resp.StatusCode != http.StatusBadRequest || rpcResp.Error == nil || rpcResp.Error.Code != codeOrderInvalidParams {
		t.Fatalf("expected invalid params, got status=%d err=%+v", resp.StatusCode, rpcResp.Error)
	}

	httpResp, err := env.ts.Client().Post(env.ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post raw: %v", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", httpResp.StatusCode)
	}
}

func TestConflictMapping(t *testing.T) {
	env := newRPCTestEnv(t, "")
	buyer := testBech32(0x01)

	_, rpcResp := env.call(t, "", "order_create", orderCreateParams{
		Buyer:      buyer,
		Token:      "USDV",
		Amount:     "600",
		Expiration: testNow + 3600,
	})
	if rpcResp.Error != nil {
		t.Fatalf("create failed: %+v", rpcResp.Error)
	}

	resp, rpcResp := env.call(t, "", "order_create", orderCreateParams{
		Buyer:      buyer,
		Token:      "USDV",
		Amount:     "600",
		Expiration: testNow + 3600,
	})
	if resp.StatusCode != http.StatusConflict || rpcResp.Error == nil || rpcResp.Error.Code != codeOrderConflict {
		t.Fatalf("expected conflict for duplicate order, got status=%d err=%+v", resp.StatusCode, rpcResp.Error)
	}

	// Releasing an unconfirmed order is a state conflict too.
	resp, _ = env.call(t, "", "order_release", orderBuyerParams{Buyer: buyer})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict for premature release, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newRPCTestEnv(t, "")
	resp, err := env.ts.Client().Get(fmt.Sprintf("%s/healthz", env.ts.URL))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
