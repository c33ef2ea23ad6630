package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func jitoServer(t *testing.T, results map[string]string) (*JitoClient, *[]string) {
	t.Helper()
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		methods = append(methods, req.Method)
		res, ok := results[req.Method]
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + res + `}`))
	}))
	t.Cleanup(srv.Close)
	return NewJitoClient(srv.URL), &methods
}

func TestJitoSendBundle(t *testing.T) {
	jc, methods := jitoServer(t, map[string]string{"sendBundle": `"bundle-1"`})
	id, err := jc.SendBundle(context.Background(), []byte("signed"))
	if err != nil {
		t.Fatalf("SendBundle: %v", err)
	}
	if id != "bundle-1" || (*methods)[0] != "sendBundle" {
		t.Errorf("id = %q methods = %v", id, *methods)
	}
}

func TestJitoBundleStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]string
		want    domain.BundleState
		txID    string
	}{
		{
			name: "landed",
			results: map[string]string{
				"getBundleStatuses": `{"context":{"slot":1},"value":[{"bundle_id":"b","transactions":["sig1"],"slot":1,"confirmation_status":"confirmed","err":{"Ok":null}}]}`,
			},
			want: domain.BundleLanded,
			txID: "sig1",
		},
		{
			name: "processed is still pending",
			results: map[string]string{
				"getBundleStatuses": `{"context":{"slot":1},"value":[{"bundle_id":"b","transactions":["sig1"],"slot":1,"confirmation_status":"processed","err":{"Ok":null}}]}`,
			},
			want: domain.BundlePending,
		},
		{
			name: "landed with error",
			results: map[string]string{
				"getBundleStatuses": `{"context":{"slot":1},"value":[{"bundle_id":"b","transactions":["sig1"],"slot":1,"confirmation_status":"confirmed","err":{"Err":"custom"}}]}`,
			},
			want: domain.BundleFailed,
		},
		{
			name: "unknown then inflight pending",
			results: map[string]string{
				"getBundleStatuses":         `{"context":{"slot":1},"value":[null]}`,
				"getInflightBundleStatuses": `{"context":{"slot":1},"value":[{"bundle_id":"b","status":"Pending","landed_slot":null}]}`,
			},
			want: domain.BundlePending,
		},
		{
			name: "inflight failed",
			results: map[string]string{
				"getBundleStatuses":         `{"context":{"slot":1},"value":[]}`,
				"getInflightBundleStatuses": `{"context":{"slot":1},"value":[{"bundle_id":"b","status":"Failed","landed_slot":null}]}`,
			},
			want: domain.BundleFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jc, _ := jitoServer(t, tt.results)
			st, err := jc.BundleStatus(context.Background(), "b")
			if err != nil {
				t.Fatalf("BundleStatus: %v", err)
			}
			if st.State != tt.want || st.TxID != tt.txID {
				t.Errorf("status = %+v, want %s %q", st, tt.want, tt.txID)
			}
		})
	}
}

func TestJitoRPCError(t *testing.T) {
	jc, _ := jitoServer(t, map[string]string{})
	if _, err := jc.SendBundle(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected rpc error")
	}
}
