// Package clobws provides the prediction-market WebSocket consumer. It
// normalizes the upstream market-channel schema into the three internal
// message types consumed by the stream service.
package clobws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second
)

// MessageType enumerates normalized stream messages
type MessageType string

const (
	TypeOrderbookUpdate MessageType = "orderbook_update"
	TypeTrade           MessageType = "trade"
	TypePriceUpdate     MessageType = "price_update"
)

// SnapshotMark frames full-depth reloads: a start mark resets side state,
// deltas follow, an end mark closes the frame.
type SnapshotMark string

const (
	SnapshotNone  SnapshotMark = ""
	SnapshotStart SnapshotMark = "start"
	SnapshotEnd   SnapshotMark = "end"
)

// Message is a normalized market-channel event. Prices and sizes stay
// decimal strings.
type Message struct {
	Type      MessageType
	AssetID   string // CLOB token id
	Market    string // Condition id
	Side      string // BID or ASK (orderbook updates)
	Price     string
	Size      string
	BestBid   string
	BestAsk   string
	Snapshot  SnapshotMark
	Timestamp int64 // epoch millis
}

// Handler consumes normalized messages. Called from the single read loop, so
// per-stream ordering is the upstream ordering.
type Handler func(msg Message)

// Client maintains the market-channel subscription with reconnect and
// heartbeat.
type Client struct {
	url               string
	heartbeatInterval time.Duration
	reconnectBase     time.Duration
	reconnectMax      time.Duration
	handler           Handler
	onReconnect       func() // Invoked after a successful reconnect, before resubscribe completes

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	assets     map[string]struct{} // Tracked token ids
	connected  bool
	stopped    bool
	stopChan   chan struct{}
	wg         sync.WaitGroup

	log zerolog.Logger
}

// NewClient creates a market-channel WebSocket client
func NewClient(url string, heartbeat, reconnectBase, reconnectMax time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:               url,
		heartbeatInterval: heartbeat,
		reconnectBase:     reconnectBase,
		reconnectMax:      reconnectMax,
		assets:            make(map[string]struct{}),
		stopChan:          make(chan struct{}),
		log:               log.With().Str("component", "clob_websocket").Logger(),
	}
}

// SetHandler registers the message consumer. Must be called before Start.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// SetOnReconnect registers a hook invoked after each successful reconnect
func (c *Client) SetOnReconnect(fn func()) {
	c.onReconnect = fn
}

// Start connects and begins the read and heartbeat loops
func (c *Client) Start() error {
	c.log.Info().Str("url", c.url).Msg("Starting market WebSocket client")

	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial WebSocket connection failed, retrying in background")
		c.wg.Add(1)
		go c.reconnectLoop()
		return err
	}

	c.startLoops()
	return nil
}

// Stop shuts down the connection and waits for loops to exit
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopChan)
	c.disconnect()
	c.wg.Wait()
	c.log.Info().Msg("Market WebSocket client stopped")
}

// Subscribe adds token ids to the tracked set and, when connected, sends a
// subscribe frame for the delta
func (c *Client) Subscribe(assetIDs ...string) error {
	c.mu.Lock()
	var added []string
	for _, id := range assetIDs {
		if _, ok := c.assets[id]; !ok {
			c.assets[id] = struct{}{}
			added = append(added, id)
		}
	}
	conn := c.conn
	ctx := c.connCtx
	c.mu.Unlock()

	if len(added) == 0 || conn == nil {
		return nil
	}
	return c.writeSubscribe(ctx, conn, added)
}

// TrackedAssets returns a copy of the tracked token id set
func (c *Client) TrackedAssets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.assets))
	for id := range c.assets {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(1 << 22) // Book snapshots for deep markets are large

	connCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = cancel
	c.connected = true

	// Re-subscribe everything tracked so reconnects resume the full feed
	ids := make([]string, 0, len(c.assets))
	for id := range c.assets {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if err := c.writeSubscribe(connCtx, conn, ids); err != nil {
			cancel()
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			c.conn = nil
			c.connected = false
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	c.log.Info().Int("assets", len(ids)).Msg("Connected to market WebSocket")
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) startLoops() {
	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()

	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.heartbeatLoop(ctx)
}

type subscribeFrame struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

func (c *Client) writeSubscribe(ctx context.Context, conn *websocket.Conn, ids []string) error {
	frame, err := json.Marshal(subscribeFrame{AssetIDs: ids, Type: "market"})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}
			c.log.Warn().Err(err).Msg("WebSocket read failed, reconnecting")
			c.disconnect()
			c.wg.Add(1)
			go c.reconnectLoop()
			return
		}

		if err := c.handleFrame(data); err != nil {
			c.log.Warn().Err(err).Msg("Failed to handle WebSocket frame")
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Write(writeCtx, websocket.MessageText, []byte("PING"))
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("Heartbeat write failed")
			}
		}
	}
}

// reconnectLoop retries the connection with capped exponential backoff
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.reconnectBase
	expo.MaxInterval = c.reconnectMax
	expo.Multiplier = 2

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		delay := expo.NextBackOff()
		if delay > c.reconnectMax {
			delay = c.reconnectMax
		}

		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.log.Warn().Err(err).Dur("next_delay", delay).Msg("Reconnect attempt failed")
			continue
		}

		c.startLoops()
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
}
