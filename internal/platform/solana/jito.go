package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

// DefaultJitoURL is the mainnet block engine bundle endpoint.
const DefaultJitoURL = "https://mainnet.block-engine.jito.wtf/api/v1/bundles"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type bundleStatusesResult struct {
	Value []*struct {
		BundleID           string          `json:"bundle_id"`
		Transactions       []string        `json:"transactions"`
		Slot               uint64          `json:"slot"`
		ConfirmationStatus string          `json:"confirmation_status"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

type inflightStatusesResult struct {
	Value []*struct {
		BundleID   string `json:"bundle_id"`
		Status     string `json:"status"`
		LandedSlot uint64 `json:"landed_slot"`
	} `json:"value"`
}

// JitoClient submits transaction bundles to a Jito block engine over its
// JSON-RPC interface.
type JitoClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewJitoClient creates a block engine client. An empty url selects the
// mainnet endpoint.
func NewJitoClient(url string) *JitoClient {
	if url == "" {
		url = DefaultJitoURL
	}
	return &JitoClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendBundle submits a single-transaction bundle and returns its id. The
// transaction must already pay the tip.
func (c *JitoClient) SendBundle(ctx context.Context, signed []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(signed)
	var id string
	if err := c.call(ctx, "sendBundle", []any{[]string{encoded}, map[string]string{"encoding": "base64"}}, &id); err != nil {
		return "", fmt.Errorf("solana/jito: send bundle: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("solana/jito: send bundle: empty bundle id")
	}
	return id, nil
}

// BundleStatus reports whether bundleID has landed. A bundle the engine
// has not yet processed is pending.
func (c *JitoClient) BundleStatus(ctx context.Context, bundleID string) (domain.BundleStatus, error) {
	var landed bundleStatusesResult
	if err := c.call(ctx, "getBundleStatuses", []any{[]string{bundleID}}, &landed); err != nil {
		return domain.BundleStatus{}, fmt.Errorf("solana/jito: bundle status %s: %w", bundleID, err)
	}
	if len(landed.Value) > 0 && landed.Value[0] != nil {
		st := landed.Value[0]
		if failed := bundleErr(st.Err); failed != "" {
			return domain.BundleStatus{State: domain.BundleFailed, Err: failed}, nil
		}
		switch st.ConfirmationStatus {
		case "confirmed", "finalized":
			var txID string
			if len(st.Transactions) > 0 {
				txID = st.Transactions[0]
			}
			return domain.BundleStatus{State: domain.BundleLanded, TxID: txID}, nil
		}
		return domain.BundleStatus{State: domain.BundlePending}, nil
	}

	var inflight inflightStatusesResult
	if err := c.call(ctx, "getInflightBundleStatuses", []any{[]string{bundleID}}, &inflight); err != nil {
		return domain.BundleStatus{}, fmt.Errorf("solana/jito: inflight status %s: %w", bundleID, err)
	}
	if len(inflight.Value) > 0 && inflight.Value[0] != nil && inflight.Value[0].Status == "Failed" {
		return domain.BundleStatus{State: domain.BundleFailed, Err: "bundle failed"}, nil
	}
	return domain.BundleStatus{State: domain.BundlePending}, nil
}

func (c *JitoClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := doJSON(ctx, c.httpClient, http.MethodPost, c.url, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}, nil)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// bundleErr returns a failure description, or "" when err is absent or
// reports {"Ok": null}.
func bundleErr(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var ok map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ok); err == nil {
		if _, has := ok["Ok"]; has {
			return ""
		}
	}
	return s
}
