package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/lanternhq/lantern/internal/events"
)

// wsCommand is a client-to-server control frame
type wsCommand struct {
	Action  string `json:"action"`  // subscribe | unsubscribe
	Channel string `json:"channel"` // market:{id}:orderbook | market:{id}:price
}

// handleWebSocket serves GET /ws: a fan-out bridge from the event bus to one
// client connection. Each connection manages its own channel subscriptions.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{s.cfg.CORS},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wsClient{
		conn:   conn,
		bus:    s.cfg.Bus,
		unsubs: make(map[string]func()),
	}
	defer client.unsubscribeAll()

	outbound := make(chan events.Message, 256)

	go client.writeLoop(ctx, cancel, outbound)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue // ignore malformed control frames
		}
		if !validChannel(cmd.Channel) {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			client.subscribe(ctx, cmd.Channel, outbound)
		case "unsubscribe":
			client.unsubscribe(cmd.Channel)
		}
	}
}

type wsClient struct {
	conn *websocket.Conn
	bus  *events.Bus

	mu     sync.Mutex
	unsubs map[string]func()
}

func (c *wsClient) subscribe(ctx context.Context, channel string, outbound chan<- events.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.unsubs[channel]; ok {
		return
	}

	msgs, unsub := c.bus.Subscribe(channel)
	c.unsubs[channel] = unsub

	// Pump bus messages into the connection's single write loop
	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case outbound <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *wsClient) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unsub, ok := c.unsubs[channel]; ok {
		unsub()
		delete(c.unsubs, channel)
	}
}

func (c *wsClient) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for channel, unsub := range c.unsubs {
		unsub()
		delete(c.unsubs, channel)
	}
}

func (c *wsClient) writeLoop(ctx context.Context, cancel context.CancelFunc, outbound <-chan events.Message) {
	defer cancel()
	for {
		select {
		case msg := <-outbound:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// validChannel accepts the two published channel families
func validChannel(channel string) bool {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "market" || parts[1] == "" {
		return false
	}
	return parts[2] == "orderbook" || parts[2] == "price"
}
