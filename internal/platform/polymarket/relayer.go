package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// RelayerClient talks to the gasless relayer, which submits on-chain
// transactions on the custody wallet's behalf so it never needs to hold
// POL for gas. It covers proxy wallet deployment, token approvals, and
// USDC transfers out of the proxy.
type RelayerClient struct {
	baseURL    string
	httpClient *http.Client
	funder     string
}

// NewRelayerClient creates a relayer client for the given funder (proxy
// wallet) address.
func NewRelayerClient(baseURL, funder string) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		funder: funder,
	}
}

// EnsureDeployed deploys the proxy wallet if it does not exist yet. The
// relayer treats an already-deployed proxy as success.
func (r *RelayerClient) EnsureDeployed(ctx context.Context) error {
	body := map[string]any{"from": r.funder, "type": "SAFE-CREATE"}
	if _, err := r.doPost(ctx, "/deploy", body); err != nil {
		return fmt.Errorf("polymarket/relayer: deploy proxy: %w", err)
	}
	return nil
}

// EnsureApprovals submits the USDC and conditional-token approvals required
// before the first order. Idempotent; approvals already in place succeed.
func (r *RelayerClient) EnsureApprovals(ctx context.Context) error {
	body := map[string]any{"from": r.funder, "type": "APPROVALS"}
	if _, err := r.doPost(ctx, "/approvals", body); err != nil {
		return fmt.Errorf("polymarket/relayer: approvals: %w", err)
	}
	return nil
}

// Transfer moves USDC base units from the proxy wallet to dest and returns
// the settlement transaction hash.
func (r *RelayerClient) Transfer(ctx context.Context, amountUnits int64, dest string) (string, error) {
	if amountUnits <= 0 {
		return "", fmt.Errorf("polymarket/relayer: transfer amount must be positive, got %d", amountUnits)
	}

	body := map[string]any{
		"from":   r.funder,
		"to":     dest,
		"amount": fmt.Sprintf("%d", amountUnits),
		"type":   "TRANSFER",
	}
	respBody, err := r.doPost(ctx, "/submit", body)
	if err != nil {
		return "", fmt.Errorf("polymarket/relayer: transfer %d to %s: %w", amountUnits, dest, err)
	}

	var resp struct {
		TransactionHash string `json:"transactionHash"`
		State           string `json:"state"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("polymarket/relayer: decode transfer response: %w", err)
	}
	if resp.TransactionHash == "" {
		return "", fmt.Errorf("polymarket/relayer: transfer not accepted (state %q)", resp.State)
	}
	return resp.TransactionHash, nil
}

func (r *RelayerClient) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
