// Package rpc exposes the escrow node over JSON-RPC with a websocket event
// stream alongside. Mutating methods require a bearer token; every request is
// rate limited per source address.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"ordervault/core"
	"ordervault/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	sourceLimiterTTL = 15 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	node   *core.Node
	logger *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*sourceLimiter
	rateLimit    rate.Limit
	rateBurst    int
	authSecret   []byte
	hub          *EventHub
	httpSrv      *http.Server
}

// Options configures the RPC server.
type Options struct {
	// AuthSecret signs and verifies bearer tokens for mutating methods.
	// Empty disables authentication entirely.
	AuthSecret string
	// RateLimit and RateBurst bound request throughput per source address.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

func NewServer(node *core.Node, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:         node,
		logger:       logger,
		rateLimiters: make(map[string]*sourceLimiter),
		rateLimit:    rate.Limit(opts.RateLimit),
		rateBurst:    opts.RateBurst,
		authSecret:   []byte(strings.TrimSpace(opts.AuthSecret)),
		hub:          newEventHub(),
	}
	return s
}

// Hub exposes the websocket fan-out. Wire it into the node's emitter chain so
// committed lifecycle events reach subscribers.
func (s *Server) Hub() *EventHub { return s.hub }

// Router assembles the HTTP surface: JSON-RPC at the root, health and
// Prometheus endpoints, and the websocket event stream.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(r, "ordervault.rpc")
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc: listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(sourceAddr(r)) {
		observability.RPCMetrics().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	status := http.StatusOK
	switch req.Method {
	case "order_create":
		status = s.withAuth(w, r, req, s.handleOrderCreate)
	case "order_fund":
		status = s.withAuth(w, r, req, s.handleOrderFund)
	case "order_confirm":
		status = s.withAuth(w, r, req, s.handleOrderConfirm)
	case "order_release":
		status = s.withAuth(w, r, req, s.handleOrderRelease)
	case "order_cancel":
		status = s.withAuth(w, r, req, s.handleOrderCancel)
	case "order_timeout":
		// Deliberately unauthenticated: anyone may sweep an expired order.
		status = s.handleOrderTimeout(w, r, req)
	case "order_get":
		status = s.handleOrderGet(w, r, req)
	case "token_getBalance":
		status = s.handleGetBalance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		status = http.StatusNotFound
	}
	observability.RPCMetrics().Observe(req.Method, status, time.Since(started))
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest) int

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) int {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return http.StatusUnauthorized
	}
	return next(w, r, req)
}

// requireAuth validates the HMAC-signed bearer token on mutating methods.
// When no secret is configured authentication is disabled and every request
// is admitted.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if len(s.authSecret) == 0 {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	_, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.authSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil {
		s.logger.Warn("rpc: token validation failed", "error", err)
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.rateLimiters[source]
	if !ok {
		entry = &sourceLimiter{limiter: rate.NewLimiter(s.rateLimit, s.rateBurst)}
		s.rateLimiters[source] = entry
	}
	entry.lastSeen = now

	if len(s.rateLimiters) > 1024 {
		for key, st := range s.rateLimiters {
			if now.Sub(st.lastSeen) > sourceLimiterTTL {
				delete(s.rateLimiters, key)
			}
		}
	}

	return entry.limiter.Allow()
}

func sourceAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
