package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BidHandler receives the best bid for a token every time the book for that
// token changes.
type BidHandler func(tokenID string, price float64, ts time.Time)

// WSClient is a WebSocket client for the CLOB market channel. It tracks the
// live book for subscribed tokens and reports best-bid changes, which is all
// the position watchdog needs for mark-to-market.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Token IDs to re-subscribe on reconnect.
	subscribed []string

	// Live best bids, keyed by token ID, maintained from book snapshots
	// and incremental price changes.
	bids map[string]float64

	handlerMu   sync.RWMutex
	bidHandlers []BidHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given endpoint,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		bids:  make(map[string]float64),
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Previously subscribed tokens are re-subscribed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.subscribed) > 0 {
		cmd := WSCommand{Type: "subscribe", Channel: "market", AssetIDs: w.subscribed}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Watch subscribes to book updates for the given token IDs.
func (w *WSClient) Watch(tokenIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{Type: "subscribe", Channel: "market", AssetIDs: tokenIDs}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	w.subscribed = append(w.subscribed, tokenIDs...)
	return nil
}

// Unwatch unsubscribes from book updates for the given token IDs.
func (w *WSClient) Unwatch(tokenIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	cmd := WSCommand{Type: "unsubscribe", Channel: "market", AssetIDs: tokenIDs}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe: %w", err)
	}

	drop := make(map[string]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		drop[id] = struct{}{}
		delete(w.bids, id)
	}
	remaining := w.subscribed[:0]
	for _, id := range w.subscribed {
		if _, found := drop[id]; !found {
			remaining = append(remaining, id)
		}
	}
	w.subscribed = remaining
	return nil
}

// OnBid registers a handler called with the new best bid whenever a watched
// token's book changes.
func (w *WSClient) OnBid(handler BidHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bidHandlers = append(w.bidHandlers, handler)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and updates the live bid map. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw market-channel message and updates the best bid
// for the affected token. Unparseable messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}

		best := 0.0
		for _, l := range book.Bids {
			if p := parseFloat(l.Price, 0); p > best {
				best = p
			}
		}
		w.updateBid(book.AssetID, best, parseWSTimestamp(book.Timestamp))

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}

		// An incremental change only raises the tracked bid directly; a
		// removed top level is picked up by the next full snapshot.
		w.mu.RLock()
		best := w.bids[pc.AssetID]
		w.mu.RUnlock()

		changed := false
		for _, ch := range pc.Changes {
			if ch.Side != "BUY" {
				continue
			}
			price := parseFloat(ch.Price, 0)
			size := parseFloat(ch.Size, 0)
			if size > 0 && price > best {
				best = price
				changed = true
			}
		}
		if changed {
			w.updateBid(pc.AssetID, best, parseWSTimestamp(pc.Timestamp))
		}
	}
}

func (w *WSClient) updateBid(tokenID string, price float64, ts time.Time) {
	if tokenID == "" || price <= 0 {
		return
	}

	w.mu.Lock()
	w.bids[tokenID] = price
	w.mu.Unlock()

	w.handlerMu.RLock()
	handlers := w.bidHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tokenID, price, ts)
	}
}

func parseWSTimestamp(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
