package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"vestd/audit"
	"vestd/core/events"
	"vestd/gateway/middleware"
	"vestd/native/vesting"
	"vestd/observability/metrics"
	"vestd/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// ServerConfig wires the RPC server's collaborators.
type ServerConfig struct {
	State               *state.Manager
	Journal             *audit.Journal
	Emitter             events.Emitter
	Logger              *slog.Logger
	AdminAddress        [20]byte
	AllowPastStartTimes bool
	Auth                middleware.AuthConfig
	RateLimit           middleware.RateLimit
	ServiceName         string

	// NowFn overrides the engine clock. Tests only.
	NowFn func() int64
}

// Server exposes the vesting engine over JSON-RPC 2.0. Every mutating method
// runs inside a state transaction, so a rejected operation leaves no partial
// effect.
type Server struct {
	cfg     ServerConfig
	state   *state.Manager
	journal *audit.Journal
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.VestingMetrics
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
}

// NewServer constructs the RPC server. The emitter receives engine events of
// committed operations; pass nil to rely on the journal alone.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("rpc: state manager required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		if cfg.Journal != nil {
			emitter = cfg.Journal
		} else {
			emitter = events.NoopEmitter{}
		}
	}
	return &Server{
		cfg:     cfg,
		state:   cfg.State,
		journal: cfg.Journal,
		emitter: emitter,
		logger:  logger,
		metrics: metrics.Vesting(),
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit),
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.ServiceName,
		}),
	}, nil
}

// Router assembles the HTTP surface: the JSON-RPC endpoint behind auth and
// rate limiting, plus health and metrics endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	r.Group(func(g chi.Router) {
		g.Use(s.obs.Middleware("rpc"))
		g.Use(s.limiter.Middleware())
		g.Use(s.auth.Middleware())
		g.Post("/", s.handle)
	})
	return r
}

// Start serves the router on the given address, blocking until the listener
// fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// newEngine builds an engine bound to the given transaction view.
func (s *Server) newEngine(tx *state.Tx) *vesting.Engine {
	eng := vesting.NewEngine()
	eng.SetState(tx)
	eng.SetEmitter(s.emitter)
	eng.SetAllowPastStartTimes(s.cfg.AllowPastStartTimes)
	if s.cfg.NowFn != nil {
		eng.SetNowFunc(s.cfg.NowFn)
	}
	return eng
}

// runMutation executes fn inside a state transaction with engine events held
// in a buffer. Events reach the configured emitter only after the
// transaction, including its commit, has succeeded, so the journal never
// records operations that were rolled back.
func (s *Server) runMutation(op string, fn func(*vesting.Engine) error) error {
	buffer := &events.Buffer{}
	txErr := s.state.WithTransaction(func(tx *state.Tx) error {
		eng := s.newEngine(tx)
		eng.SetEmitter(buffer)
		return fn(eng)
	})
	s.metrics.ObserveOperation(op, txErr)
	if txErr != nil {
		return txErr
	}
	buffer.FlushTo(s.emitter)
	s.refreshGauges()
	return nil
}

// refreshGauges re-reads the gauge-backed aggregates after a committed
// mutation.
func (s *Server) refreshGauges() {
	_ = s.state.View(func(tx *state.Tx) error {
		esc, err := tx.EscrowGet()
		if err != nil {
			return nil
		}
		dust, _ := new(big.Float).SetInt(esc.Dust).Float64()
		s.metrics.SetDustBalance(dust)
		addrs, err := tx.RecipientAddresses()
		if err != nil {
			return nil
		}
		live := 0
		for _, addr := range addrs {
			if r, ok := tx.RecipientGet(addr); ok && r.Status != vesting.RecipientTerminated {
				live++
			}
		}
		s.metrics.SetLiveRecipients(float64(live))
		return nil
	})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
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

// handle is the main request handler that routes to specific handlers.
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
	case "vesting_addRecipients":
		s.adminOnly(w, r, req, s.handleAddRecipients)
	case "vesting_pause":
		s.adminOnly(w, r, req, s.handlePause)
	case "vesting_unpause":
		s.adminOnly(w, r, req, s.handleUnpause)
	case "vesting_terminateRecipient":
		s.adminOnly(w, r, req, s.handleTerminateRecipient)
	case "vesting_terminateEscrow":
		s.adminOnly(w, r, req, s.handleTerminateEscrow)
	case "vesting_claim":
		s.handleClaim(w, r, req)
	case "vesting_seizeLockedTokens":
		s.adminOnly(w, r, req, s.handleSeizeLockedTokens)
	case "vesting_transferDust":
		s.adminOnly(w, r, req, s.handleTransferDust)
	case "vesting_updateSafeAddress":
		s.adminOnly(w, r, req, s.handleUpdateSafeAddress)
	case "vesting_getRecipient":
		s.handleGetRecipient(w, r, req)
	case "vesting_claimable":
		s.handleClaimable(w, r, req)
	case "vesting_locked":
		s.handleLocked(w, r, req)
	case "vesting_escrowInfo":
		s.handleEscrowInfo(w, r, req)
	case "vesting_auditLog":
		s.adminOnly(w, r, req, s.handleAuditLog)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

// adminOnly gates a mutating handler on the administrator identity carried in
// the bearer token subject.
func (s *Server) adminOnly(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if rpcErr := s.requireAdmin(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if !s.cfg.Auth.Enabled {
		return nil
	}
	subject := middleware.Subject(r.Context())
	if subject == "" {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	caller, err := parseAddress(subject)
	if err != nil {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "token subject is not an address"}
	}
	if caller != s.cfg.AdminAddress {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "caller is not the administrator"}
	}
	return nil
}

// callerAddress resolves the caller identity for recipient-scoped methods.
// With auth enabled the token subject is authoritative; otherwise the signer
// address must be supplied in the params.
func (s *Server) callerAddress(r *http.Request, fallback string) ([20]byte, *RPCError) {
	if s.cfg.Auth.Enabled {
		subject := middleware.Subject(r.Context())
		if subject == "" {
			return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
		}
		addr, err := parseAddress(subject)
		if err != nil {
			return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "token subject is not an address"}
		}
		return addr, nil
	}
	addr, err := parseAddress(fallback)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: "caller address required"}
	}
	return addr, nil
}

func parseAddress(s string) ([20]byte, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return [20]byte{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// decodeOptionalParams tolerates methods invoked without parameters.
func decodeOptionalParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return nil
	}
	return decodeParams(req, out)
}
