package clobws

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// rawEvent covers every market-channel event type; unused fields stay empty
type rawEvent struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Timestamp string     `json:"timestamp"` // epoch millis as string
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
	Changes   []rawChange `json:"price_changes"`
	Price     string     `json:"price"`
	Size      string     `json:"size"`
	Side      string     `json:"side"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type rawChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// handleFrame decodes one WebSocket frame. Frames are either heartbeat text,
// a single event object, or a batched array of events.
func (c *Client) handleFrame(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	// Heartbeat replies arrive as bare text, not JSON
	if text := string(trimmed); text == "PONG" || text == "PING" {
		return nil
	}

	var events []rawEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return fmt.Errorf("decode event batch: %w", err)
		}
	} else {
		var ev rawEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		c.dispatch(ev)
	}
	return nil
}

func (c *Client) dispatch(ev rawEvent) {
	if c.handler == nil {
		return
	}

	ts := parseMillis(ev.Timestamp)

	switch ev.EventType {
	case "book":
		c.emitBook(ev, ts)

	case "price_change":
		for _, ch := range ev.Changes {
			assetID := ch.AssetID
			if assetID == "" {
				assetID = ev.AssetID
			}
			c.handler(Message{
				Type:      TypeOrderbookUpdate,
				AssetID:   assetID,
				Market:    ev.Market,
				Side:      normalizeSide(ch.Side),
				Price:     ch.Price,
				Size:      ch.Size,
				Timestamp: ts,
			})
			if ch.BestBid != "" || ch.BestAsk != "" {
				c.handler(Message{
					Type:      TypePriceUpdate,
					AssetID:   assetID,
					Market:    ev.Market,
					BestBid:   ch.BestBid,
					BestAsk:   ch.BestAsk,
					Timestamp: ts,
				})
			}
		}

	case "last_trade_price":
		c.handler(Message{
			Type:      TypeTrade,
			AssetID:   ev.AssetID,
			Market:    ev.Market,
			Side:      normalizeSide(ev.Side),
			Price:     ev.Price,
			Size:      ev.Size,
			Timestamp: ts,
		})

	default:
		c.log.Debug().Str("event_type", ev.EventType).Msg("Ignoring unknown event type")
	}
}

// emitBook translates a full-depth book event into a framed run of deltas:
// a start mark, one update per level, an end mark. Consumers reset their
// ladders on the start mark, so a book event always converges state.
func (c *Client) emitBook(ev rawEvent, ts int64) {
	c.handler(Message{
		Type:      TypeOrderbookUpdate,
		AssetID:   ev.AssetID,
		Market:    ev.Market,
		Snapshot:  SnapshotStart,
		Timestamp: ts,
	})
	for _, lvl := range ev.Bids {
		c.handler(Message{
			Type:      TypeOrderbookUpdate,
			AssetID:   ev.AssetID,
			Market:    ev.Market,
			Side:      "BID",
			Price:     lvl.Price,
			Size:      lvl.Size,
			Timestamp: ts,
		})
	}
	for _, lvl := range ev.Asks {
		c.handler(Message{
			Type:      TypeOrderbookUpdate,
			AssetID:   ev.AssetID,
			Market:    ev.Market,
			Side:      "ASK",
			Price:     lvl.Price,
			Size:      lvl.Size,
			Timestamp: ts,
		})
	}
	c.handler(Message{
		Type:      TypeOrderbookUpdate,
		AssetID:   ev.AssetID,
		Market:    ev.Market,
		Snapshot:  SnapshotEnd,
		Timestamp: ts,
	})
}

func normalizeSide(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return "BID"
	case "SELL", "ASK":
		return "ASK"
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}

func parseMillis(s string) int64 {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return 0
}
