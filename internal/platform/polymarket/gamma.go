package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetMarket returns a single market looked up by condition ID. Returns
// domain.ErrNotFound when the market does not exist.
func (g *GammaClient) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", conditionID, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market %s: %w", conditionID, domain.ErrNotFound)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(apiMarkets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: market slug %s: %w", slug, domain.ErrNotFound)
	}

	return apiMarkets[0].ToDomainMarket(), nil
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
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
