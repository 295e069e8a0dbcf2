package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"vestd/gateway/middleware"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("VESTD_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	rpcEndpoint = defaultRPCEndpoint()
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "token":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a subject address.")
			printUsage()
			return
		}
		issueToken(args[1], args[2:])
	case "add":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a batch YAML file.")
			printUsage()
			return
		}
		addRecipients(args[1])
	case "pause":
		requireAddressArg(args, func(addr string) {
			runAdminOp("vesting_pause", map[string]interface{}{"address": addr})
		})
	case "unpause":
		requireAddressArg(args, func(addr string) {
			runAdminOp("vesting_unpause", map[string]interface{}{"address": addr})
		})
	case "terminate":
		requireAddressArg(args, func(addr string) {
			runAdminOp("vesting_terminateRecipient", map[string]interface{}{"address": addr})
		})
	case "terminate-escrow":
		result, err := callRPC("vesting_terminateEscrow", nil, true)
		printResult(result, err)
	case "claim":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an amount.")
			printUsage()
			return
		}
		claim(args[1], args[2:])
	case "seize":
		if len(args) < 2 {
			fmt.Println("Error: Please provide at least one address.")
			printUsage()
			return
		}
		result, err := callRPC("vesting_seizeLockedTokens", map[string]interface{}{"addresses": args[1:]}, true)
		printResult(result, err)
	case "dust":
		result, err := callRPC("vesting_transferDust", nil, true)
		printResult(result, err)
	case "safe":
		requireAddressArg(args, func(addr string) {
			runAdminOp("vesting_updateSafeAddress", map[string]interface{}{"address": addr})
		})
	case "recipient":
		requireAddressArg(args, func(addr string) {
			result, err := callRPC("vesting_getRecipient", map[string]interface{}{"address": addr}, false)
			printResult(result, err)
		})
	case "claimable":
		requireAddressArg(args, func(addr string) {
			result, err := callRPC("vesting_claimable", map[string]interface{}{"address": addr}, false)
			printResult(result, err)
		})
	case "locked":
		requireAddressArg(args, func(addr string) {
			result, err := callRPC("vesting_locked", map[string]interface{}{"address": addr}, false)
			printResult(result, err)
		})
	case "escrow":
		result, err := callRPC("vesting_escrowInfo", nil, false)
		printResult(result, err)
	case "audit":
		auditLog(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func requireAddressArg(args []string, fn func(addr string)) {
	if len(args) < 2 {
		fmt.Println("Error: Please provide an address.")
		printUsage()
		return
	}
	fn(args[1])
}

func runAdminOp(method string, params map[string]interface{}) {
	result, err := callRPC(method, params, true)
	printResult(result, err)
}

func issueToken(subject string, rest []string) {
	secret := strings.TrimSpace(os.Getenv("VESTD_AUTH_SECRET"))
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: VESTD_AUTH_SECRET must be set to mint tokens.")
		os.Exit(1)
	}
	ttl := time.Hour
	for i := 0; i < len(rest); i++ {
		if strings.HasPrefix(rest[i], "--ttl=") {
			parsed, err := time.ParseDuration(strings.TrimPrefix(rest[i], "--ttl="))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid --ttl value: %v\n", err)
				os.Exit(1)
			}
			ttl = parsed
		}
	}
	token, err := middleware.IssueToken(middleware.AuthConfig{
		HMACSecret: secret,
		Issuer:     os.Getenv("VESTD_AUTH_ISSUER"),
		Audience:   os.Getenv("VESTD_AUTH_AUDIENCE"),
	}, subject, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error minting token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func claim(amount string, rest []string) {
	params := map[string]interface{}{"amount": amount}
	for i := 0; i < len(rest); i++ {
		if strings.HasPrefix(rest[i], "--address=") {
			params["address"] = strings.TrimPrefix(rest[i], "--address=")
		}
	}
	result, err := callRPC("vesting_claim", params, true)
	printResult(result, err)
}

func auditLog(rest []string) {
	params := map[string]interface{}{}
	for i := 0; i < len(rest); i++ {
		if strings.HasPrefix(rest[i], "--recipient=") {
			params["recipient"] = strings.TrimPrefix(rest[i], "--recipient=")
		}
		if strings.HasPrefix(rest[i], "--limit=") {
			params["limit"] = json.Number(strings.TrimPrefix(rest[i], "--limit="))
		}
	}
	result, err := callRPC("vesting_auditLog", params, true)
	printResult(result, err)
}

func printResult(result json.RawMessage, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, result, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(result))
}

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    string `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from service")
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Data != "" {
			return nil, fmt.Errorf("error from service: %s (%s)", rpcResp.Error.Message, rpcResp.Error.Data)
		}
		return nil, fmt.Errorf("error from service: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8547"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: vest-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Admin commands send a bearer token from VESTD_RPC_TOKEN; mint one with")
	fmt.Println("./vest-cli token <address> (requires VESTD_AUTH_SECRET).")
	fmt.Println("Commands:")
	fmt.Println("  token <address> [--ttl=1h]        - Mints a signed bearer token for the address")
	fmt.Println("  add <batch.yaml>                  - Provisions vesting schedules from a batch file")
	fmt.Println("  pause <address>                   - Pauses a recipient's vesting")
	fmt.Println("  unpause <address>                 - Resumes a paused recipient, shifting the schedule")
	fmt.Println("  terminate <address>               - Terminates a recipient, paying out what is claimable")
	fmt.Println("  terminate-escrow                  - Freezes the whole escrow")
	fmt.Println("  claim <amount> [--address=0x..]   - Claims vested tokens")
	fmt.Println("  seize <address> [address...]      - Sweeps locked tokens after escrow termination")
	fmt.Println("  dust                              - Transfers accumulated dust to the safe address")
	fmt.Println("  safe <address>                    - Updates the safe address")
	fmt.Println("  recipient <address>               - Shows a recipient record")
	fmt.Println("  claimable <address>               - Shows the claimable amount")
	fmt.Println("  locked <address>                  - Shows the locked amount")
	fmt.Println("  escrow                            - Shows the escrow aggregate")
	fmt.Println("  audit [--recipient=0x..] [--limit=N] - Shows recent audit journal entries")
}
