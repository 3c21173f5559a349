// Package risk scores candidate copy trades against an external analysis
// service and applies the configured policy when that service is unavailable.
package risk

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

// Client calls a risk-analysis HTTP service. The service owns the model; the
// client only ships the trade context and reads back a verdict.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a risk service client. baseURL is the service root;
// apiKey may be empty for unauthenticated deployments.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type analyzeRequest struct {
	Question    string  `json:"question"`
	Side        string  `json:"side"`
	Outcome     string  `json:"outcome"`
	SizeUSD     float64 `json:"size_usd"`
	Price       float64 `json:"price"`
	RiskProfile string  `json:"risk_profile"`
}

type analyzeResponse struct {
	ShouldCopy bool    `json:"should_copy"`
	Reasoning  string  `json:"reasoning"`
	RiskScore  float64 `json:"risk_score"`
}

// Analyze submits one sized candidate trade for scoring.
func (c *Client) Analyze(ctx context.Context, sig domain.TradeSignal, sizedUSD float64, riskProfile string) (domain.RiskVerdict, error) {
	payload, err := json.Marshal(analyzeRequest{
		Question:    sig.Question,
		Side:        string(sig.Side),
		Outcome:     sig.Outcome,
		SizeUSD:     sizedUSD,
		Price:       sig.Price,
		RiskProfile: riskProfile,
	})
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("risk: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("risk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("risk: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("risk: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.RiskVerdict{}, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RiskVerdict{}, fmt.Errorf("risk: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var out analyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.RiskVerdict{}, fmt.Errorf("risk: decode response: %w", err)
	}
	return domain.RiskVerdict{
		ShouldCopy: out.ShouldCopy,
		Reasoning:  out.Reasoning,
		RiskScore:  out.RiskScore,
	}, nil
}

var _ domain.RiskAnalyzer = (*Client)(nil)
