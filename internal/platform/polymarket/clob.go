// Package polymarket implements the exchange adapter against the Polymarket
// CLOB, Gamma, Data API, and relayer services.
package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles credential derivation, order placement,
// cancellation, and book queries.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	funder        string // address holding the collateral (proxy wallet)
	signatureType int

	mu    sync.RWMutex
	creds *crypto.APICreds
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// funder is the proxy wallet address that holds collateral; orders are
// placed on its behalf and signed with the custody key.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		funder:        funder,
		signatureType: signatureType,
	}
}

// HasCreds reports whether API credentials have been derived.
func (c *ClobClient) HasCreds() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Valid()
}

// ResetCreds discards cached API credentials, forcing the next DeriveCreds
// call to perform a fresh handshake.
func (c *ClobClient) ResetCreds() {
	c.mu.Lock()
	c.creds = nil
	c.mu.Unlock()
}

// DeriveCreds performs the CLOB auth flow to obtain HMAC API credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success the credentials are cached for all
// subsequent authenticated requests.
func (c *ClobClient) DeriveCreds(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s: %w",
			resp.StatusCode, string(respBody), domain.ErrUnauthorized)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	creds := &crypto.APICreds{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	if !creds.Valid() {
		return fmt.Errorf("polymarket/clob: derive returned incomplete credentials: %w", domain.ErrUnauthorized)
	}

	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return nil
}

// PostOrder signs and submits one order. Exchange rejections are reported in
// the returned OrderResult with a nil error; a non-nil error means the order
// never reached the exchange (transport or signing failure). HTTP 401 maps
// to a result with AuthExpired set so the caller can re-derive credentials.
func (c *ClobClient) PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	payload, err := c.buildSignedOrder(req)
	if err != nil {
		return domain.OrderResult{}, err
	}

	body := map[string]any{
		"order":     payload,
		"owner":     c.credsKey(),
		"orderType": "FOK",
	}

	status, respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return domain.OrderResult{
			Message:     fmt.Sprintf("HTTP %d: %s", status, string(respBody)),
			AuthExpired: true,
		}, nil
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	return apiResult.ToDomainOrderResult(), nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	_, respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrderBook fetches the current book for an outcome token. This is a
// public endpoint; no credentials needed.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	u := c.baseURL + "/book?token_id=" + url.QueryEscape(tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: create book request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: read book response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s (HTTP %d): %s",
			tokenID, resp.StatusCode, string(respBody))
	}

	var book APIBook
	if err := json.Unmarshal(respBody, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	return book.ToDomainBook(), nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// buildSignedOrder converts an order request into the signed CLOB payload.
// Amounts are expressed in 6-decimal base units; the USD side is floored so
// settlement never exceeds the intended notional.
func (c *ClobClient) buildSignedOrder(req domain.OrderRequest) (map[string]any, error) {
	usdcUnits := domain.ToBaseUnits(req.NotionalUSD())
	shareUnits := int64(math.Round(req.Shares * domain.UsdcScale))

	var makerAmount, takerAmount int64
	var sideInt int
	switch req.Side {
	case domain.OrderSideBuy:
		makerAmount, takerAmount = usdcUnits, shareUnits
		sideInt = 0
	case domain.OrderSideSell:
		makerAmount, takerAmount = shareUnits, usdcUnits
		sideInt = 1
	default:
		return nil, fmt.Errorf("polymarket/clob: unknown side %q", req.Side)
	}

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: generating salt: %w", err)
	}

	payload := crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: c.signatureType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	return map[string]any{
		"salt":          payload.Salt,
		"maker":         payload.Maker,
		"signer":        payload.Signer,
		"taker":         payload.Taker,
		"tokenId":       payload.TokenID,
		"makerAmount":   payload.MakerAmount,
		"takerAmount":   payload.TakerAmount,
		"expiration":    payload.Expiration,
		"nonce":         payload.Nonce,
		"feeRateBps":    payload.FeeRateBps,
		"side":          string(req.Side),
		"signatureType": payload.SignatureType,
		"signature":     sig,
	}, nil
}

func (c *ClobClient) credsKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.creds == nil {
		return ""
	}
	return c.creds.Key
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the HTTP status and raw body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) (int, []byte, error) {
	c.mu.RLock()
	creds := c.creds
	c.mu.RUnlock()
	if !creds.Valid() {
		return 0, nil, fmt.Errorf("no API credentials: %w", domain.ErrUnauthorized)
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range creds.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, respBody, domain.ErrRateLimited
	}
	return resp.StatusCode, respBody, nil
}
