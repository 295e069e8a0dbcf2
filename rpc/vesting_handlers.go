package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"vestd/audit"
	"vestd/native/vesting"
	"vestd/state"
)

type allocationEntryParams struct {
	Address       string `json:"address"`
	Amount        string `json:"amount"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	CliffDuration int64  `json:"cliffDuration"`
}

type addRecipientsParams struct {
	Funder       string                  `json:"funder"`
	Entries      []allocationEntryParams `json:"entries"`
	TotalFunding string                  `json:"totalFunding"`
}

type addRecipientsResult struct {
	Count     int    `json:"count"`
	Allocated string `json:"allocated"`
	Dust      string `json:"dust"`
}

type addressParams struct {
	Address string `json:"address"`
}

type claimParams struct {
	Address string `json:"address,omitempty"`
	Amount  string `json:"amount"`
}

type seizeParams struct {
	Addresses []string `json:"addresses"`
}

type auditLogParams struct {
	Recipient string `json:"recipient,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type statusResult struct {
	Status string `json:"status"`
}

type recipientJSON struct {
	Address            string `json:"address"`
	StartTime          int64  `json:"startTime"`
	EndTime            int64  `json:"endTime"`
	CliffDuration      int64  `json:"cliffDuration"`
	ClaimStartTime     int64  `json:"claimStartTime"`
	LastPausedAt       int64  `json:"lastPausedAt,omitempty"`
	VestingPerSec      string `json:"vestingPerSec"`
	TotalVestingAmount string `json:"totalVestingAmount"`
	TotalClaimed       string `json:"totalClaimed"`
	Status             string `json:"status"`
}

type escrowJSON struct {
	TotalAllocatedSupply string   `json:"totalAllocatedSupply"`
	TotalClaimed         string   `json:"totalClaimed"`
	Dust                 string   `json:"dust"`
	SafeAddress          string   `json:"safeAddress"`
	Status               string   `json:"status"`
	TerminatedAt         int64    `json:"terminatedAt,omitempty"`
	Seized               []string `json:"seized,omitempty"`
}

type auditEntryJSON struct {
	ID         string `json:"id"`
	EventType  string `json:"eventType"`
	Recipient  string `json:"recipient,omitempty"`
	Attributes string `json:"attributes,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

func (s *Server) handleAddRecipients(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addRecipientsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	funder, err := parseAddress(params.Funder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("funder: %v", err))
		return
	}
	funding, err := parseAmount(params.TotalFunding)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("totalFunding: %v", err))
		return
	}
	entries := make([]vesting.AllocationEntry, 0, len(params.Entries))
	allocated := big.NewInt(0)
	for i, raw := range params.Entries {
		addr, err := parseAddress(raw.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("entry %d address: %v", i, err))
			return
		}
		amount, err := parseAmount(raw.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("entry %d amount: %v", i, err))
			return
		}
		allocated.Add(allocated, amount)
		entries = append(entries, vesting.AllocationEntry{
			Address:       addr,
			Amount:        amount,
			StartTime:     raw.StartTime,
			EndTime:       raw.EndTime,
			CliffDuration: raw.CliffDuration,
		})
	}
	txErr := s.runMutation("add_recipients", func(eng *vesting.Engine) error {
		return eng.AddRecipients(funder, entries, funding)
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	dust := new(big.Int).Sub(funding, allocated)
	writeResult(w, req.ID, &addRecipientsResult{
		Count:     len(entries),
		Allocated: allocated.String(),
		Dust:      dust.String(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.recipientOp(w, req, "pause", func(eng *vesting.Engine, addr [20]byte) error {
		return eng.Pause(addr)
	})
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.recipientOp(w, req, "unpause", func(eng *vesting.Engine, addr [20]byte) error {
		return eng.Unpause(addr)
	})
}

func (s *Server) handleTerminateRecipient(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.recipientOp(w, req, "terminate_recipient", func(eng *vesting.Engine, addr [20]byte) error {
		return eng.TerminateRecipient(addr)
	})
}

// recipientOp factors the shared address-parameter plumbing of pause,
// unpause and terminate.
func (s *Server) recipientOp(w http.ResponseWriter, req *RPCRequest, op string, fn func(*vesting.Engine, [20]byte) error) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	txErr := s.runMutation(op, func(eng *vesting.Engine) error {
		return fn(eng, addr)
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	writeResult(w, req.ID, &statusResult{Status: "ok"})
}

func (s *Server) handleTerminateEscrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	txErr := s.runMutation("terminate_escrow", func(eng *vesting.Engine) error {
		return eng.TerminateEscrow()
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	writeResult(w, req.ID, &statusResult{Status: "ok"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params claimParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, rpcErr := s.callerAddress(r, params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("amount: %v", err))
		return
	}
	txErr := s.runMutation("claim", func(eng *vesting.Engine) error {
		return eng.Claim(caller, amount)
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	claimed, _ := new(big.Float).SetInt(amount).Float64()
	s.metrics.AddClaimed(claimed)
	writeResult(w, req.ID, &amountResult{Amount: amount.String()})
}

func (s *Server) handleSeizeLockedTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params seizeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if len(params.Addresses) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at least one address required")
		return
	}
	addrs := make([][20]byte, 0, len(params.Addresses))
	for i, raw := range params.Addresses {
		addr, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("address %d: %v", i, err))
			return
		}
		addrs = append(addrs, addr)
	}
	var seized *big.Int
	txErr := s.runMutation("seize_locked_tokens", func(eng *vesting.Engine) error {
		var err error
		seized, err = eng.SeizeLockedTokens(addrs)
		return err
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	swept, _ := new(big.Float).SetInt(seized).Float64()
	s.metrics.AddSeized(swept)
	writeResult(w, req.ID, &amountResult{Amount: seized.String()})
}

func (s *Server) handleTransferDust(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var dust *big.Int
	txErr := s.runMutation("transfer_dust", func(eng *vesting.Engine) error {
		var err error
		dust, err = eng.TransferDust()
		return err
	})
	if txErr != nil {
		writeVestingError(w, req.ID, txErr)
		return
	}
	writeResult(w, req.ID, &amountResult{Amount: dust.String()})
}

func (s *Server) handleUpdateSafeAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.recipientOp(w, req, "update_safe_address", func(eng *vesting.Engine, addr [20]byte) error {
		return eng.UpdateSafeAddress(addr)
	})
}

func (s *Server) handleGetRecipient(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var recipient *vesting.Recipient
	viewErr := s.state.View(func(tx *state.Tx) error {
		var err error
		recipient, err = s.newEngine(tx).GetRecipient(addr)
		return err
	})
	if viewErr != nil {
		writeVestingError(w, req.ID, viewErr)
		return
	}
	writeResult(w, req.ID, toRecipientJSON(recipient))
}

func (s *Server) handleClaimable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.valuationOp(w, req, func(eng *vesting.Engine, addr [20]byte) (*big.Int, error) {
		return eng.ClaimableAmountOf(addr)
	})
}

func (s *Server) handleLocked(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.valuationOp(w, req, func(eng *vesting.Engine, addr [20]byte) (*big.Int, error) {
		return eng.LockedAmountOf(addr)
	})
}

func (s *Server) valuationOp(w http.ResponseWriter, req *RPCRequest, fn func(*vesting.Engine, [20]byte) (*big.Int, error)) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var amount *big.Int
	viewErr := s.state.View(func(tx *state.Tx) error {
		var err error
		amount, err = fn(s.newEngine(tx), addr)
		return err
	})
	if viewErr != nil {
		writeVestingError(w, req.ID, viewErr)
		return
	}
	writeResult(w, req.ID, &amountResult{Amount: amount.String()})
}

func (s *Server) handleEscrowInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var esc *vesting.Escrow
	viewErr := s.state.View(func(tx *state.Tx) error {
		var err error
		esc, err = s.newEngine(tx).EscrowInfo()
		return err
	})
	if viewErr != nil {
		writeVestingError(w, req.ID, viewErr)
		return
	}
	writeResult(w, req.ID, toEscrowJSON(esc))
}

func (s *Server) handleAuditLog(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "audit journal disabled", nil)
		return
	}
	var params auditLogParams
	if err := decodeOptionalParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var (
		entries []audit.Entry
		err     error
	)
	if strings.TrimSpace(params.Recipient) != "" {
		addr, parseErr := parseAddress(params.Recipient)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		entries, err = s.journal.ByRecipient(common.Address(addr).Hex(), params.Limit)
	} else {
		entries, err = s.journal.Recent(params.Limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "audit query failed", err.Error())
		return
	}
	out := make([]auditEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, auditEntryJSON{
			ID:         entry.ID.String(),
			EventType:  entry.EventType,
			Recipient:  entry.Recipient,
			Attributes: entry.Attributes,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	writeResult(w, req.ID, out)
}

func toRecipientJSON(r *vesting.Recipient) *recipientJSON {
	if r == nil {
		return nil
	}
	return &recipientJSON{
		Address:            common.Address(r.Address).Hex(),
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		CliffDuration:      r.CliffDuration,
		ClaimStartTime:     vesting.ClaimStartTime(r),
		LastPausedAt:       r.LastPausedAt,
		VestingPerSec:      r.VestingPerSec.String(),
		TotalVestingAmount: r.TotalVestingAmount.String(),
		TotalClaimed:       r.TotalClaimed.String(),
		Status:             r.Status.String(),
	}
}

func toEscrowJSON(esc *vesting.Escrow) *escrowJSON {
	if esc == nil {
		return nil
	}
	seized := make([]string, 0, len(esc.Seized))
	for addr, swept := range esc.Seized {
		if swept {
			seized = append(seized, addr)
		}
	}
	sort.Strings(seized)
	return &escrowJSON{
		TotalAllocatedSupply: esc.TotalAllocatedSupply.String(),
		TotalClaimed:         esc.TotalClaimed.String(),
		Dust:                 esc.Dust.String(),
		SafeAddress:          common.Address(esc.SafeAddress).Hex(),
		Status:               esc.Status.String(),
		TerminatedAt:         esc.TerminatedAt,
		Seized:               seized,
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}
