package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vestd/audit"
	"vestd/gateway/middleware"
	"vestd/state"
	"vestd/storage"
)

const (
	adminHex     = "0x1111111111111111111111111111111111111111"
	funderHex    = "0xFa01000000000000000000000000000000000000"
	recipientHex = "0x2222222222222222222222222222222222222222"
	otherHex     = "0x3333333333333333333333333333333333333333"
)

type testEnv struct {
	server  *httptest.Server
	now     *int64
	manager *state.Manager
	journal *audit.Journal
}

// faultDB wraps a Database so tests can force commit-time write failures.
type faultDB struct {
	storage.Database
	failPuts bool
}

func (f *faultDB) Put(key, value []byte) error {
	if f.failPuts {
		return errors.New("disk full")
	}
	return f.Database.Put(key, value)
}

func hexToAddr(t *testing.T, s string) [20]byte {
	t.Helper()
	if !common.IsHexAddress(s) {
		t.Fatalf("bad test address %q", s)
	}
	return common.HexToAddress(s)
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, authEnabled, storage.NewMemDB())
}

func newTestEnvWithDB(t *testing.T, authEnabled bool, db storage.Database) *testEnv {
	t.Helper()
	manager, err := state.NewManager(db, hexToAddr(t, "0x00000000000000000000000000005645535444EE"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := manager.InitEscrow(hexToAddr(t, "0x5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a")); err != nil {
		t.Fatalf("init escrow: %v", err)
	}
	if err := manager.Credit(hexToAddr(t, funderHex), mustBig(t, "1000000")); err != nil {
		t.Fatalf("credit funder: %v", err)
	}

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	journal, err := audit.OpenWithDB(gormDB, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	now := int64(900)
	srv, err := NewServer(ServerConfig{
		State:        manager,
		Journal:      journal,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		AdminAddress: hexToAddr(t, adminHex),
		ServiceName:  "vestd-test",
		Auth: middleware.AuthConfig{
			Enabled:    authEnabled,
			HMACSecret: "test-secret",
		},
		RateLimit: middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000},
		NowFn:     func() int64 { return now },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, now: &now, manager: manager, journal: journal}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int %q", s)
	}
	return v
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var rpcResp RPCResponse
	if len(raw) > 0 && json.Valid(raw) {
		if err := json.Unmarshal(raw, &rpcResp); err != nil {
			t.Fatalf("decode response %s: %v", raw, err)
		}
	}
	return resp, rpcResp
}

func (env *testEnv) mustCall(t *testing.T, method string, params interface{}) json.RawMessage {
	t.Helper()
	resp, rpcResp := env.call(t, "", method, params)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s status = %d, error = %+v", method, resp.StatusCode, rpcResp.Error)
	}
	if rpcResp.Error != nil {
		t.Fatalf("%s error = %+v", method, rpcResp.Error)
	}
	raw, err := json.Marshal(rpcResp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	return raw
}

func defaultBatch() map[string]interface{} {
	return map[string]interface{}{
		"funder":       funderHex,
		"totalFunding": "1100",
		"entries": []map[string]interface{}{{
			"address":       recipientHex,
			"amount":        "1000",
			"startTime":     1000,
			"endTime":       2000,
			"cliffDuration": 100,
		}},
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestVestingLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, false)

	var added addRecipientsResult
	if err := json.Unmarshal(env.mustCall(t, "vesting_addRecipients", defaultBatch()), &added); err != nil {
		t.Fatalf("decode add result: %v", err)
	}
	if added.Count != 1 || added.Dust != "100" {
		t.Fatalf("add result = %+v", added)
	}

	var record recipientJSON
	if err := json.Unmarshal(env.mustCall(t, "vesting_getRecipient", map[string]string{"address": recipientHex}), &record); err != nil {
		t.Fatalf("decode recipient: %v", err)
	}
	if record.VestingPerSec != "1" || record.Status != "unpaused" {
		t.Fatalf("recipient = %+v", record)
	}
	if record.ClaimStartTime != 1100 {
		t.Fatalf("claim start = %d, want 1100", record.ClaimStartTime)
	}

	*env.now = 1600
	var claimable amountResult
	if err := json.Unmarshal(env.mustCall(t, "vesting_claimable", map[string]string{"address": recipientHex}), &claimable); err != nil {
		t.Fatalf("decode claimable: %v", err)
	}
	if claimable.Amount != "500" {
		t.Fatalf("claimable = %q, want 500", claimable.Amount)
	}

	env.mustCall(t, "vesting_claim", map[string]string{"address": recipientHex, "amount": "200"})
	balance, err := env.manager.BalanceOf(hexToAddr(t, recipientHex))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 200 {
		t.Fatalf("recipient balance = %s, want 200", balance)
	}

	env.mustCall(t, "vesting_pause", map[string]string{"address": recipientHex})
	*env.now = 1700
	env.mustCall(t, "vesting_unpause", map[string]string{"address": recipientHex})
	if err := json.Unmarshal(env.mustCall(t, "vesting_getRecipient", map[string]string{"address": recipientHex}), &record); err != nil {
		t.Fatalf("decode recipient: %v", err)
	}
	if record.EndTime != 2100 || record.CliffDuration != 200 {
		t.Fatalf("shifted schedule = %+v", record)
	}

	var dust amountResult
	if err := json.Unmarshal(env.mustCall(t, "vesting_transferDust", nil), &dust); err != nil {
		t.Fatalf("decode dust: %v", err)
	}
	if dust.Amount != "100" {
		t.Fatalf("dust = %q, want 100", dust.Amount)
	}

	env.mustCall(t, "vesting_terminateEscrow", nil)
	var seized amountResult
	if err := json.Unmarshal(env.mustCall(t, "vesting_seizeLockedTokens", map[string]interface{}{"addresses": []string{recipientHex}}), &seized); err != nil {
		t.Fatalf("decode seized: %v", err)
	}
	if seized.Amount != "500" {
		t.Fatalf("seized = %q, want 500", seized.Amount)
	}

	var escrow escrowJSON
	if err := json.Unmarshal(env.mustCall(t, "vesting_escrowInfo", nil), &escrow); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	if escrow.Status != "terminated" || len(escrow.Seized) != 1 {
		t.Fatalf("escrow = %+v", escrow)
	}

	var entries []auditEntryJSON
	if err := json.Unmarshal(env.mustCall(t, "vesting_auditLog", map[string]interface{}{"limit": 50}), &entries); err != nil {
		t.Fatalf("decode audit log: %v", err)
	}
	if len(entries) < 6 {
		t.Fatalf("audit entries = %d, want at least 6", len(entries))
	}
}

func TestRPCErrorMapping(t *testing.T) {
	env := newTestEnv(t, false)
	env.mustCall(t, "vesting_addRecipients", defaultBatch())

	tests := []struct {
		name     string
		method   string
		params   interface{}
		httpCode int
		rpcCode  int
	}{
		{"unknown recipient", "vesting_claimable", map[string]string{"address": otherHex}, http.StatusNotFound, codeVestingNotFound},
		{"seize before termination", "vesting_seizeLockedTokens", map[string]interface{}{"addresses": []string{recipientHex}}, http.StatusConflict, codeVestingEscrowNotTerminated},
		{"duplicate recipient", "vesting_addRecipients", defaultBatch(), http.StatusConflict, codeVestingExists},
		{"method not found", "vesting_bogus", nil, http.StatusNotFound, codeMethodNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, rpcResp := env.call(t, "", tc.method, tc.params)
			if resp.StatusCode != tc.httpCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.httpCode)
			}
			if rpcResp.Error == nil || rpcResp.Error.Code != tc.rpcCode {
				t.Fatalf("error = %+v, want code %d", rpcResp.Error, tc.rpcCode)
			}
		})
	}

	t.Run("claim exceeds entitlement", func(t *testing.T) {
		*env.now = 1600
		resp, rpcResp := env.call(t, "", "vesting_claim", map[string]string{"address": recipientHex, "amount": "9999"})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		if rpcResp.Error == nil || rpcResp.Error.Code != codeVestingClaimExceeds {
			t.Fatalf("error = %+v", rpcResp.Error)
		}
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/", "application/json", bytes.NewBufferString("{nope"))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var rpcResp RPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rpcResp.Error == nil || rpcResp.Error.Code != codeParseError {
			t.Fatalf("error = %+v, want parse error", rpcResp.Error)
		}
	})
}

func TestAdminAuthorization(t *testing.T) {
	env := newTestEnv(t, true)
	authCfg := middleware.AuthConfig{HMACSecret: "test-secret"}

	adminToken, err := middleware.IssueToken(authCfg, adminHex, time.Minute)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	otherToken, err := middleware.IssueToken(authCfg, otherHex, time.Minute)
	if err != nil {
		t.Fatalf("issue other token: %v", err)
	}

	t.Run("missing token rejected at the gateway", func(t *testing.T) {
		resp, _ := env.call(t, "", "vesting_escrowInfo", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("non-admin cannot mutate", func(t *testing.T) {
		resp, rpcResp := env.call(t, otherToken, "vesting_addRecipients", defaultBatch())
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		if rpcResp.Error == nil || rpcResp.Error.Code != codeUnauthorized {
			t.Fatalf("error = %+v", rpcResp.Error)
		}
	})

	t.Run("admin can mutate", func(t *testing.T) {
		resp, rpcResp := env.call(t, adminToken, "vesting_addRecipients", defaultBatch())
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, error = %+v", resp.StatusCode, rpcResp.Error)
		}
	})

	t.Run("claimant derived from token subject", func(t *testing.T) {
		batch := defaultBatch()
		batch["entries"] = []map[string]interface{}{{
			"address":       otherHex,
			"amount":        "1000",
			"startTime":     1000,
			"endTime":       2000,
			"cliffDuration": 100,
		}}
		if resp, rpcResp := env.call(t, adminToken, "vesting_addRecipients", batch); resp.StatusCode != http.StatusOK {
			t.Fatalf("provision: %d %+v", resp.StatusCode, rpcResp.Error)
		}
		*env.now = 1600
		// The amount param names no address; the subject of the bearer
		// token is the claimant.
		resp, rpcResp := env.call(t, otherToken, "vesting_claim", map[string]string{"amount": "100"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("claim: %d %+v", resp.StatusCode, rpcResp.Error)
		}
		balance, err := env.manager.BalanceOf(hexToAddr(t, otherHex))
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if balance.Int64() != 100 {
			t.Fatalf("claimant balance = %s, want 100", balance)
		}
	})
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestGaugesTrackStateChanges(t *testing.T) {
	env := newTestEnv(t, false)

	env.mustCall(t, "vesting_addRecipients", defaultBatch())
	if got := gaugeValue(t, "vesting_dust_balance"); got != 100 {
		t.Fatalf("dust gauge = %v, want 100", got)
	}
	if got := gaugeValue(t, "vesting_recipients_live"); got != 1 {
		t.Fatalf("live recipients gauge = %v, want 1", got)
	}

	env.mustCall(t, "vesting_transferDust", nil)
	if got := gaugeValue(t, "vesting_dust_balance"); got != 0 {
		t.Fatalf("dust gauge after sweep = %v, want 0", got)
	}

	env.mustCall(t, "vesting_terminateRecipient", map[string]string{"address": recipientHex})
	if got := gaugeValue(t, "vesting_recipients_live"); got != 0 {
		t.Fatalf("live recipients gauge after termination = %v, want 0", got)
	}
}

func TestAuditJournalSkipsRolledBackOperations(t *testing.T) {
	db := &faultDB{Database: storage.NewMemDB()}
	env := newTestEnvWithDB(t, false, db)

	db.failPuts = true
	resp, rpcResp := env.call(t, "", "vesting_addRecipients", defaultBatch())
	if resp.StatusCode == http.StatusOK || rpcResp.Error == nil {
		t.Fatalf("expected commit failure, got %d %+v", resp.StatusCode, rpcResp.Error)
	}
	db.failPuts = false

	entries, err := env.journal.Recent(50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("journal recorded %d rows for a rolled-back operation", len(entries))
	}

	env.mustCall(t, "vesting_addRecipients", defaultBatch())
	entries, err = env.journal.Recent(50)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal rows = %d, want 1", len(entries))
	}
}
