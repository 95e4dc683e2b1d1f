package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Logical feed channels delivered to consumers.
const (
	ChannelBook         = "book"
	ChannelTrades       = "trades"
	ChannelLiquidations = "liquidations"
)

// Frame types that are transport envelopes rather than consumer channels.
const (
	FrameSubscribe = "subscribe"
	FrameAggUpdate = "agg_update"
)

// Frame is the raw transport envelope. Data is kept opaque until the type is
// known.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SubscribeRequest is the outbound directive sent once per tracked topic.
type SubscribeRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// PriceLevel is a single book level. Prices and sizes stay in the venue's
// string form so no precision is lost before the consumer decides how to
// parse them.
type PriceLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

// Trade is one print from the trade tape.
type Trade struct {
	Topic string `json:"coin"`
	Side  string `json:"side"`
	Px    string `json:"px"`
	Sz    string `json:"sz"`
	Time  int64  `json:"time"`
	TID   int64  `json:"tid,omitempty"`
}

// Liquidation is one forced-close print. LID is optional; when the venue
// omits it a global id is synthesized downstream.
type Liquidation struct {
	Topic string `json:"coin"`
	Side  string `json:"side"`
	Px    string `json:"px"`
	Sz    string `json:"sz"`
	Time  int64  `json:"time"`
	LID   string `json:"lid,omitempty"`
}

// Event is the decoded payload handed to fan-out listeners. Each concrete
// type corresponds to exactly one channel.
type Event interface {
	Channel() string
	EventTopic() string
}

// BookEvent carries a two-sided snapshot of the book for one topic.
type BookEvent struct {
	Topic string
	Bids  []PriceLevel
	Asks  []PriceLevel
	Time  int64
}

func (e BookEvent) Channel() string    { return ChannelBook }
func (e BookEvent) EventTopic() string { return e.Topic }

// TradesEvent carries the accepted (non-duplicate) trades for one topic in
// inbound order.
type TradesEvent struct {
	Topic  string
	Trades []Trade
}

func (e TradesEvent) Channel() string    { return ChannelTrades }
func (e TradesEvent) EventTopic() string { return e.Topic }

// LiquidationsEvent carries the accepted liquidations for one topic in
// inbound order.
type LiquidationsEvent struct {
	Topic  string
	Events []Liquidation
}

func (e LiquidationsEvent) Channel() string    { return ChannelLiquidations }
func (e LiquidationsEvent) EventTopic() string { return e.Topic }

// TopicUpdate is one topic's slice of a multiplexed agg_update frame.
type TopicUpdate struct {
	Book         *[2][]PriceLevel `json:"book"`
	Trades       []Trade          `json:"trades"`
	Liquidations []Liquidation    `json:"liquidations"`
}

// DecodeFrame parses a raw transport frame. Frames that are not JSON objects
// or carry no type are rejected; the caller drops them and continues.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// bookPayload is the single-channel book frame shape.
type bookPayload struct {
	Coin   string          `json:"coin"`
	Levels [2][]PriceLevel `json:"levels"`
	Time   int64           `json:"time"`
}

// DecodeBook parses a single-channel book frame into a BookEvent.
func DecodeBook(data json.RawMessage) (BookEvent, error) {
	var p bookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return BookEvent{}, fmt.Errorf("decode book: %w", err)
	}
	if p.Coin == "" {
		return BookEvent{}, fmt.Errorf("decode book: missing coin")
	}
	return BookEvent{Topic: p.Coin, Bids: p.Levels[0], Asks: p.Levels[1], Time: p.Time}, nil
}

// DecodeTrades parses a single-channel trade-tape frame.
func DecodeTrades(data json.RawMessage) ([]Trade, error) {
	var trades []Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

// DecodeLiquidations parses a single-channel liquidation-tape frame.
func DecodeLiquidations(data json.RawMessage) ([]Liquidation, error) {
	var events []Liquidation
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode liquidations: %w", err)
	}
	return events, nil
}

// DecodeAggUpdate parses the multiplexed snapshot frame into per-topic
// updates. Topic keys come back exactly as the venue sent them.
func DecodeAggUpdate(data json.RawMessage) (map[string]TopicUpdate, error) {
	updates := make(map[string]TopicUpdate)
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("decode agg_update: %w", err)
	}
	return updates, nil
}

// ParseFloat converts a venue price or size string, returning 0 for anything
// unparseable.
func ParseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}
