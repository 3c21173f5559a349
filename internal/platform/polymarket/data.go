package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// public activity feeds and portfolio values. All endpoints are unauthenticated.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchPublicTrades returns the most recent TRADE entries on an address's
// public activity feed, newest first, normalized into trade signals.
func (d *DataClient) FetchPublicTrades(ctx context.Context, address string, limit int) ([]domain.TradeSignal, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(address))
	params.Set("type", "TRADE")
	params.Set("limit", strconv.Itoa(limit))

	body, err := d.doGet(ctx, "/activity?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: fetch activity %s: %w", address, err)
	}

	var items []APIActivity
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode activity: %w", err)
	}

	signals := make([]domain.TradeSignal, 0, len(items))
	for _, it := range items {
		if it.Type != "TRADE" || it.TransactionHash == "" {
			continue
		}
		signals = append(signals, it.ToSignal())
	}
	return signals, nil
}

// FetchBalance returns an address's free USDC collateral in USD.
func (d *DataClient) FetchBalance(ctx context.Context, address string) (float64, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(address))

	body, err := d.doGet(ctx, "/balance?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: fetch balance %s: %w", address, err)
	}

	var resp struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/data: decode balance: %w", err)
	}
	return resp.Balance, nil
}

// FetchPositionsValue returns the current mark value of an address's open
// positions in USD.
func (d *DataClient) FetchPositionsValue(ctx context.Context, address string) (float64, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(address))

	body, err := d.doGet(ctx, "/value?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("polymarket/data: fetch positions value %s: %w", address, err)
	}

	var resp []struct {
		User  string  `json:"user"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/data: decode positions value: %w", err)
	}
	if len(resp) == 0 {
		return 0, nil
	}
	return resp[0].Value, nil
}

func (d *DataClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
