package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/thetavault/pkg/chain"
	"github.com/luxfi/thetavault/pkg/fault"
	"github.com/luxfi/thetavault/pkg/vault"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against one vault
type JSONRPCServer struct {
	seq    *vault.Sequencer
	world  *chain.World
	clock  *chain.ManualClock
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server. clock may be nil, in
// which case dev_advanceTime is unavailable.
func NewJSONRPCServer(seq *vault.Sequencer, world *chain.World, clock *chain.ManualClock, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		seq:    seq,
		world:  world,
		clock:  clock,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Vault error codes, one per error kind
const (
	TimingError              = -32001
	InsufficientBalanceError = -32002
	SlippageError            = -32003
	StateConflictError       = -32004
	UnauthorizedError        = -32005
)

// CodeOf maps an engine error to its JSON-RPC code.
func CodeOf(err error) int {
	switch fault.KindOf(err) {
	case fault.Timing:
		return TimingError
	case fault.InsufficientBalance:
		return InsufficientBalanceError
	case fault.SlippageViolation:
		return SlippageError
	case fault.StateConflict, fault.Reentrancy:
		return StateConflictError
	case fault.Unauthorized:
		return UnauthorizedError
	case fault.InvalidArgument:
		return InvalidParams
	default:
		return InternalError
	}
}

func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RPCError{Code: CodeOf(err), Message: err.Error(), Data: fault.KindOf(err).String()}
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, &RPCError{Code: ParseError, Message: "Parse error"})
		return
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		s.sendError(w, req.ID, &RPCError{Code: InvalidRequest, Message: "Invalid Request"})
		return
	}

	// Route to method handler
	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == InternalError {
			s.logger.Warn("JSON-RPC call failed", "method", req.Method, "error", err)
		} else {
			s.logger.Debug("JSON-RPC call rejected", "method", req.Method, "code", rpcErr.Code, "error", err)
		}
		s.sendError(w, req.ID, rpcErr)
		return
	}

	// Send success response
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Deposits and withdrawals
	case "vault_depositETH":
		return s.accountAmount(params, (*vault.Vault).DepositETH)
	case "vault_deposit":
		return s.accountAmount(params, (*vault.Vault).Deposit)
	case "vault_depositYieldToken":
		return s.accountAmount(params, (*vault.Vault).DepositYieldToken)
	case "vault_withdrawInstantly":
		return s.withdrawInstantly(params)
	case "vault_initiateWithdraw":
		return s.accountAmount(params, (*vault.Vault).InitiateWithdraw)
	case "vault_completeWithdraw":
		return s.completeWithdraw(params)
	case "vault_redeem":
		return s.accountAmount(params, (*vault.Vault).Redeem)
	case "vault_maxRedeem":
		return s.account(params, (*vault.Vault).MaxRedeem)

	// Round lifecycle
	case "vault_commitAndClose":
		return s.account(params, (*vault.Vault).CommitAndClose)
	case "vault_rollToNextOption":
		return s.account(params, (*vault.Vault).RollToNextOption)
	case "vault_burnRemainingOTokens":
		return s.account(params, (*vault.Vault).BurnRemainingOTokens)

	// Owner settings
	case "vault_setManagementFee":
		return s.accountAmount(params, (*vault.Vault).SetManagementFee)
	case "vault_setPerformanceFee":
		return s.accountAmount(params, (*vault.Vault).SetPerformanceFee)
	case "vault_setStrikePrice":
		return s.accountAmount(params, (*vault.Vault).SetStrikePrice)
	case "vault_setPremiumDiscount":
		return s.setPremiumDiscount(params)
	case "vault_setAuctionDuration":
		return s.setAuctionDuration(params)

	// Views
	case "vault_getInfo":
		return s.getInfo()
	case "vault_getState":
		return s.getState()
	case "vault_getWithdrawal":
		return s.getWithdrawal(params)
	case "vault_getDepositReceipt":
		return s.getDepositReceipt(params)
	case "vault_getAccountBalance":
		return s.getAccountBalance(params)
	case "vault_getRoundPricePerShare":
		return s.getRoundPricePerShare(params)
	case "vault_getPricePerShareHistory":
		return s.getPricePerShareHistory()

	// Development helpers
	case "dev_fund":
		return s.fund(params)
	case "dev_balances":
		return s.balances(params)
	case "dev_advanceTime":
		return s.advanceTime(params)
	case "dev_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

type accountParams struct {
	Account common.Address `json:"account"`
}

type amountParams struct {
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}

func decodeAmount(params json.RawMessage) (amountParams, error) {
	var p amountParams
	if err := decode(params, &p); err != nil {
		return p, err
	}
	if p.Amount == nil {
		return p, &RPCError{Code: InvalidParams, Message: "Missing amount"}
	}
	return p, nil
}

func (s *JSONRPCServer) account(params json.RawMessage, op func(*vault.Vault, common.Address) error) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := s.seq.Do(func(v *vault.Vault) error { return op(v, p.Account) }); err != nil {
		return nil, err
	}
	return s.receipt()
}

func (s *JSONRPCServer) accountAmount(params json.RawMessage, op func(*vault.Vault, common.Address, *uint256.Int) error) (interface{}, error) {
	p, err := decodeAmount(params)
	if err != nil {
		return nil, err
	}
	if err := s.seq.Do(func(v *vault.Vault) error { return op(v, p.Account, p.Amount) }); err != nil {
		return nil, err
	}
	return s.receipt()
}

func (s *JSONRPCServer) withdrawInstantly(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account common.Address `json:"account"`
		Amount  *uint256.Int   `json:"amount"`
		MinOut  *uint256.Int   `json:"minOut"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Amount == nil || p.MinOut == nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Missing amount or minOut"}
	}
	if err := s.seq.Do(func(v *vault.Vault) error { return v.WithdrawInstantly(p.Account, p.Amount, p.MinOut) }); err != nil {
		return nil, err
	}
	return s.receipt()
}

func (s *JSONRPCServer) completeWithdraw(params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		before := s.world.StETH.BalanceOf(p.Account)
		if err := v.CompleteWithdraw(p.Account); err != nil {
			return err
		}
		received := s.world.StETH.BalanceOf(p.Account)
		received.Sub(received, before)
		out = map[string]interface{}{
			"round":    v.Round(),
			"received": received,
			"human":    human(received, v.Params().Decimals),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *JSONRPCServer) setPremiumDiscount(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account  common.Address `json:"account"`
		Discount uint64         `json:"discount"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := s.seq.Do(func(v *vault.Vault) error { return v.SetPremiumDiscount(p.Account, p.Discount) }); err != nil {
		return nil, err
	}
	return s.receipt()
}

func (s *JSONRPCServer) setAuctionDuration(params json.RawMessage) (interface{}, error) {
	var p struct {
		Account common.Address `json:"account"`
		Seconds int64          `json:"seconds"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	d := time.Duration(p.Seconds) * time.Second
	if err := s.seq.Do(func(v *vault.Vault) error { return v.SetAuctionDuration(p.Account, d) }); err != nil {
		return nil, err
	}
	return s.receipt()
}

// receipt is the result of a successful mutating call.
func (s *JSONRPCServer) receipt() (interface{}, error) {
	var out map[string]interface{}
	s.seq.Do(func(v *vault.Vault) error {
		out = map[string]interface{}{
			"status": "ok",
			"round":  v.Round(),
			"phase":  v.Phase().String(),
		}
		return nil
	})
	return out, nil
}

// human renders a fixed point amount in whole units.
func human(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

func (s *JSONRPCServer) getInfo() (interface{}, error) {
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		p := v.Params()
		settings := v.Settings()
		out = map[string]interface{}{
			"address":  v.Address(),
			"owner":    v.Owner(),
			"keeper":   v.Keeper(),
			"params":   p,
			"phase":    v.Phase().String(),
			"round":    v.Round(),
			"settings": settings,
			"fees": map[string]string{
				"managementPercent":  decimal.NewFromBigInt(settings.ManagementFee.ToBig(), -6).String(),
				"performancePercent": decimal.NewFromBigInt(settings.PerformanceFee.ToBig(), -6).String(),
			},
			"cap":       human(p.Cap, p.Decimals),
			"timestamp": s.world.Chain.Now().Unix(),
		}
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getState() (interface{}, error) {
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		dec := v.Params().Decimals
		state := v.VaultState()
		total := v.TotalBalance()
		out = map[string]interface{}{
			"state":        state,
			"option":       v.OptionState(),
			"books":        v.Books(),
			"totalBalance": total,
			"human": map[string]string{
				"totalBalance":         human(total, dec),
				"lockedAmount":         human(state.LockedAmount, dec),
				"totalPending":         human(state.TotalPending, dec),
				"queuedWithdrawAmount": human(state.CurrentQueuedWithdrawAmount, dec),
			},
		}
		if pps, err := v.PricePerShare(); err == nil {
			out["pricePerShare"] = pps
		}
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getWithdrawal(params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		value, err := v.WithdrawalValue(p.Account)
		if err != nil {
			return err
		}
		out = map[string]interface{}{
			"withdrawal": v.Withdrawals(p.Account),
			"value":      value,
			"human":      human(value, v.Params().Decimals),
		}
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getDepositReceipt(params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out vault.DepositReceipt
	err := s.seq.Do(func(v *vault.Vault) error {
		out = v.DepositReceipt(p.Account)
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getAccountBalance(params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		held, unredeemed, err := v.ShareBalances(p.Account)
		if err != nil {
			return err
		}
		value, err := v.AccountVaultBalance(p.Account)
		if err != nil {
			return err
		}
		out = map[string]interface{}{
			"shares":     held,
			"unredeemed": unredeemed,
			"value":      value,
			"human":      human(value, v.Params().Decimals),
		}
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getRoundPricePerShare(params json.RawMessage) (interface{}, error) {
	var p struct {
		Round uint16 `json:"round"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out map[string]interface{}
	err := s.seq.Do(func(v *vault.Vault) error {
		pps, ok := v.RoundPricePerShare(p.Round)
		if !ok {
			return &RPCError{Code: StateConflictError, Message: fmt.Sprintf("round %d not priced", p.Round)}
		}
		out = map[string]interface{}{
			"round":         p.Round,
			"pricePerShare": pps,
			"human":         human(pps, v.Params().Decimals),
		}
		return nil
	})
	return out, err
}

func (s *JSONRPCServer) getPricePerShareHistory() (interface{}, error) {
	var out map[uint16]*uint256.Int
	err := s.seq.Do(func(v *vault.Vault) error {
		out = v.PricePerShareHistory()
		return nil
	})
	return out, err
}

// Development helpers

func (s *JSONRPCServer) fund(params json.RawMessage) (interface{}, error) {
	var p struct {
		amountParams
		Asset string `json:"asset"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return nil, &RPCError{Code: InvalidParams, Message: "Missing amount"}
	}
	err := s.seq.Do(func(*vault.Vault) error {
		w := s.world
		if err := w.Fund(p.Account, p.Amount); err != nil {
			return err
		}
		switch p.Asset {
		case "", "eth":
			return nil
		case "weth":
			return w.WETH.Deposit(p.Account, p.Amount)
		case "steth", "wsteth":
			if _, err := w.StETH.Submit(p.Account, p.Amount); err != nil {
				return err
			}
			if p.Asset == "wsteth" {
				_, err := w.WstETH.Wrap(p.Account, w.StETH.BalanceOf(p.Account))
				return err
			}
			return nil
		default:
			return &RPCError{Code: InvalidParams, Message: "Unknown asset " + p.Asset}
		}
	})
	if err != nil {
		return nil, err
	}
	return s.balances(params)
}

func (s *JSONRPCServer) balances(params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var out map[string]*uint256.Int
	s.seq.Do(func(*vault.Vault) error {
		w := s.world
		out = map[string]*uint256.Int{
			"eth":    w.ETH.BalanceOf(p.Account),
			"weth":   w.WETH.BalanceOf(p.Account),
			"steth":  w.StETH.BalanceOf(p.Account),
			"wsteth": w.WstETH.BalanceOf(p.Account),
		}
		return nil
	})
	return out, nil
}

func (s *JSONRPCServer) advanceTime(params json.RawMessage) (interface{}, error) {
	if s.clock == nil {
		return nil, &RPCError{Code: MethodNotFound, Message: "Clock is not manual"}
	}
	var p struct {
		Seconds int64 `json:"seconds"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Seconds <= 0 {
		return nil, &RPCError{Code: InvalidParams, Message: "Seconds must be positive"}
	}
	var now time.Time
	s.seq.Do(func(*vault.Vault) error {
		now = s.clock.Advance(time.Duration(p.Seconds) * time.Second)
		return nil
	})
	return map[string]interface{}{"timestamp": now.Unix(), "time": now.Format(time.RFC3339)}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer serves handler on addr until ctx is cancelled
func StartJSONRPCServer(ctx context.Context, addr string, handler http.Handler, logger log.Logger) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
