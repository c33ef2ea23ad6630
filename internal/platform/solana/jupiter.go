package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

const (
	// DefaultQuoteURL is the Jupiter v1 quote endpoint.
	DefaultQuoteURL = "https://api.jup.ag/swap/v1/quote"
	// DefaultSwapURL is the Jupiter v1 swap endpoint.
	DefaultSwapURL = "https://api.jup.ag/swap/v1/swap"
	// NativeMint is the wrapped SOL mint Jupiter routes native SOL through.
	NativeMint = "So11111111111111111111111111111111111111112"
)

// Quote is a Jupiter route quote. Amounts are in base units. The raw
// response is kept because the swap endpoint expects it echoed back.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`

	raw json.RawMessage
}

// In returns InAmount as an integer.
func (q *Quote) In() (uint64, error) {
	return strconv.ParseUint(q.InAmount, 10, 64)
}

// Out returns OutAmount as an integer.
func (q *Quote) Out() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

// SwapFee selects how the swap transaction pays for priority. Exactly one
// of the fields is used; a positive JitoTipLamports takes precedence.
type SwapFee struct {
	PriorityLamports uint64
	JitoTipLamports  uint64
}

func (f SwapFee) value() any {
	if f.JitoTipLamports > 0 {
		return map[string]uint64{"jitoTipLamports": f.JitoTipLamports}
	}
	return f.PriorityLamports
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports any             `json:"prioritizationFeeLamports"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	Error                string `json:"error"`
}

// JupiterClient is the REST client for the Jupiter swap aggregator.
type JupiterClient struct {
	quoteURL   string
	swapURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewJupiterClient creates a Jupiter client. Empty URLs select the public
// endpoints. rps <= 0 disables client-side throttling.
func NewJupiterClient(quoteURL, swapURL, apiKey string, rps float64) *JupiterClient {
	if quoteURL == "" {
		quoteURL = DefaultQuoteURL
	}
	if swapURL == "" {
		swapURL = DefaultSwapURL
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &JupiterClient{
		quoteURL: quoteURL,
		swapURL:  swapURL,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: lim,
	}
}

// Quote requests an ExactIn route for amount base units of inputMint.
func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("solana/jupiter: quote: %w", err)
	}

	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))
	params.Set("swapMode", "ExactIn")

	body, err := j.get(ctx, j.quoteURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("solana/jupiter: quote %s->%s: %w", inputMint, outputMint, err)
	}

	var apiErr struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("solana/jupiter: quote %s->%s: %s", inputMint, outputMint, apiErr.Error)
	}

	q := &Quote{}
	if err := json.Unmarshal(body, q); err != nil {
		return nil, fmt.Errorf("solana/jupiter: decode quote: %w", err)
	}
	if q.OutAmount == "" || q.OutAmount == "0" {
		return nil, fmt.Errorf("solana/jupiter: quote %s->%s: empty route", inputMint, outputMint)
	}
	q.raw = json.RawMessage(body)
	return q, nil
}

// Swap turns a quote into an unsigned, serialized transaction for owner.
func (j *JupiterClient) Swap(ctx context.Context, q *Quote, owner string, fee SwapFee) ([]byte, error) {
	if q == nil || len(q.raw) == 0 {
		return nil, fmt.Errorf("solana/jupiter: swap: %w", domain.ErrInvalidOrder)
	}
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("solana/jupiter: swap: %w", err)
	}

	body, err := j.post(ctx, j.swapURL, swapRequest{
		QuoteResponse:             q.raw,
		UserPublicKey:             owner,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: fee.value(),
	})
	if err != nil {
		return nil, fmt.Errorf("solana/jupiter: swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("solana/jupiter: decode swap: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("solana/jupiter: swap: %s", resp.Error)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("solana/jupiter: swap: empty transaction")
	}

	tx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("solana/jupiter: decode swap transaction: %w", err)
	}
	return tx, nil
}

// QuotePrice returns the SOL value of one whole token by quoting a sale of
// 10^decimals base units.
func (j *JupiterClient) QuotePrice(ctx context.Context, mint string, decimals int) (float64, error) {
	q, err := j.Quote(ctx, mint, NativeMint, pow10(decimals), 1000)
	if err != nil {
		return 0, err
	}
	out, err := q.Out()
	if err != nil {
		return 0, fmt.Errorf("solana/jupiter: parse out amount: %w", err)
	}
	return float64(out) / lamportsPerSOL, nil
}

func (j *JupiterClient) get(ctx context.Context, u string) ([]byte, error) {
	return doJSON(ctx, j.httpClient, http.MethodGet, u, nil, j.header())
}

func (j *JupiterClient) post(ctx context.Context, u string, payload any) ([]byte, error) {
	return doJSON(ctx, j.httpClient, http.MethodPost, u, payload, j.header())
}

func (j *JupiterClient) header() http.Header {
	h := http.Header{}
	if j.apiKey != "" {
		h.Set("x-api-key", j.apiKey)
	}
	return h
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
