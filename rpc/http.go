package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"marginledger/core"
	"marginledger/core/state"
	"marginledger/crypto"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// AuthTokenEnv names the environment variable holding the bearer token
	// required for batch submission. Submission stays disabled until it is
	// set; queries are always open.
	AuthTokenEnv = "LEDGER_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeBatchRejected  = -32010
)

// Server exposes the ledger over JSON-RPC: batch submission plus read-only
// record queries. All mutation flows through the processor so the usual
// commit-or-rollback semantics apply to submitted batches.
type Server struct {
	processor *core.Processor
	state     *state.Manager
	authToken string
}

// NewServer wires a server to the processor that executes batches and the
// state manager the queries read from.
func NewServer(processor *core.Processor, manager *state.Manager) *Server {
	token := strings.TrimSpace(os.Getenv(AuthTokenEnv))
	return &Server{
		processor: processor,
		state:     manager,
		authToken: token,
	}
}

// Start serves the RPC endpoint on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
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

// handle routes a JSON-RPC request to the method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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

	switch req.Method {
	case "ledger_executeBatch":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleExecuteBatch(w, r, req)
	case "ledger_getRoot":
		s.handleGetRoot(w, r, req)
	case "ledger_getGroup":
		s.handleGetGroup(w, r, req)
	case "ledger_getBank":
		s.handleGetBank(w, r, req)
	case "ledger_getTokenAccount":
		s.handleGetTokenAccount(w, r, req)
	case "ledger_getMarginAccount":
		s.handleGetMarginAccount(w, r, req)
	case "ledger_getPrice":
		s.handleGetPrice(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "batch parameter required", nil)
		return
	}
	param := &BatchParam{}
	if err := json.Unmarshal(req.Params[0], param); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid batch parameter", err.Error())
		return
	}
	submitted, err := param.toBatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "malformed batch", err.Error())
		return
	}
	emitted, err := s.processor.ExecuteBatch(submitted)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeBatchRejected, "batch rejected", err.Error())
		return
	}
	root := s.state.Root()
	writeResult(w, req.ID, &ExecuteBatchResult{
		BatchID: submitted.ID,
		Root:    hex.EncodeToString(root[:]),
		Events:  emitted,
	})
}

func (s *Server) handleGetRoot(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	root := s.state.Root()
	writeResult(w, req.ID, &RootResult{Root: hex.EncodeToString(root[:])})
}

// addressParam decodes the single bech32 address parameter carried by the
// record queries.
func addressParam(req *RPCRequest) (crypto.Address, *RPCError) {
	if len(req.Params) == 0 {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "address parameter required"}
	}
	var addrStr string
	if err := json.Unmarshal(req.Params[0], &addrStr); err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid address parameter", Data: err.Error()}
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(addrStr))
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeInvalidParams, Message: "failed to decode address", Data: err.Error()}
	}
	return addr, nil
}

func (s *Server) handleGetGroup(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	group, err := s.state.GetGroup(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load group", err.Error())
		return
	}
	if group == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "group not found", addr.String())
		return
	}
	writeResult(w, req.ID, groupResultFrom(group))
}

func (s *Server) handleGetBank(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	bank, err := s.state.GetBank(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load bank", err.Error())
		return
	}
	if bank == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "bank not found", addr.String())
		return
	}
	writeResult(w, req.ID, bankResultFrom(bank))
}

func (s *Server) handleGetTokenAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	account, err := s.state.GetTokenAccount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load token account", err.Error())
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "token account not found", addr.String())
		return
	}
	writeResult(w, req.ID, tokenAccountResultFrom(account))
}

func (s *Server) handleGetMarginAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	account, err := s.state.GetMarginAccount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load margin account", err.Error())
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "margin account not found", addr.String())
		return
	}
	writeResult(w, req.ID, marginAccountResultFrom(account))
}

func (s *Server) handleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, rpcErr := addressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	entry, err := s.state.GetPriceEntry(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load price entry", err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "price entry not found", addr.String())
		return
	}
	writeResult(w, req.ID, priceResultFrom(entry))
}
