package stream

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"github.com/shopspring/decimal"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
)

// Channel identifies one of the three stream feeds.
type Channel string

const (
	// ChannelTick carries trade ticks.
	ChannelTick Channel = "T"
	// ChannelDepth carries order book depth updates.
	ChannelDepth Channel = "D"
	// ChannelOrderStatus carries the caller's own order lifecycle
	// events.
	ChannelOrderStatus Channel = "O"
)

func (ch Channel) valid() bool {
	switch ch {
	case ChannelTick, ChannelDepth, ChannelOrderStatus:
		return true
	}
	return false
}

// SymbolAll subscribes a channel to every symbol the vendor publishes.
const SymbolAll = "ALL"

// FrameType discriminates the variants of a decoded Frame.
type FrameType uint8

const (
	FrameUnknown FrameType = iota
	FrameTick
	FrameDepth
	FrameOrderStatus
	FrameHeartbeat
	FrameAuthOK
	FrameAuthFail
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameTick:
		return "tick"
	case FrameDepth:
		return "depth"
	case FrameOrderStatus:
		return "order_status"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameAuthOK:
		return "auth_ok"
	case FrameAuthFail:
		return "auth_fail"
	case FrameError:
		return "error"
	}
	return "unknown"
}

// Tick is a single trade tick.
type Tick struct {
	Symbol      string
	LastPrice   decimal.Decimal
	BidPrice    decimal.Decimal
	AskPrice    decimal.Decimal
	TotalVolume decimal.Decimal
	Timestamp   time.Time
}

// PriceLevel is one side level of the order book.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth is an order book update. Bids are sorted best first, asks
// likewise.
type Depth struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// OrderUpdate is one lifecycle event of the caller's own order.
type OrderUpdate struct {
	Symbol        string
	ClientOrderID string
	BrokerOrderID string
	TradeID       string
	Status        algolab.OrderStatus
	Side          algolab.OrderSide
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	FilledQty     decimal.Decimal
	Timestamp     time.Time
	Sequence      uint64
}

// RemainingQty returns the unfilled portion of the order.
func (u *OrderUpdate) RemainingQty() decimal.Decimal {
	return u.Quantity.Sub(u.FilledQty)
}

// Frame is a single decoded stream message. Exactly one of the variant
// pointers is set for data frames; control frames carry only Code and
// Message.
type Frame struct {
	Type  FrameType
	Tick  *Tick
	Depth *Depth
	Order *OrderUpdate
	// Code and Message describe control frames.
	Code    int
	Message string
	// Received is when this client decoded the frame.
	Received time.Time
}

// key returns the fan-out key of a data frame.
func (f *Frame) key() (Channel, string, bool) {
	switch f.Type {
	case FrameTick:
		return ChannelTick, f.Tick.Symbol, true
	case FrameDepth:
		return ChannelDepth, f.Depth.Symbol, true
	case FrameOrderStatus:
		return ChannelOrderStatus, f.Order.Symbol, true
	}
	return "", "", false
}

// subscribeMessage replaces the server-side symbol set of one channel.
// Key casing is part of the vendor contract.
type subscribeMessage struct {
	Token   string   `json:"token"`
	Type    Channel  `json:"Type"`
	Symbols []string `json:"Symbols"`
}

// heartbeatMessage is the application-level liveness frame.
type heartbeatMessage struct {
	Type  string `json:"Type"`
	Token string `json:"Token"`
}

// decodeFrame parses one incoming message. Two dialects are accepted:
// the vendor envelope {"Type":"T","Content":{...}} and the generic
// control envelope {"event":"...","message":"..."}.
func decodeFrame(data []byte) (Frame, error) {
	in := jlexer.Lexer{Data: data}

	var typ, event, message string
	var code int
	var content []byte

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "Type", "type":
			typ = in.String()
		case "Content", "content":
			content = in.Raw()
		case "event":
			event = in.String()
		case "message", "Message":
			message = in.String()
		case "code", "Code":
			code = in.Int()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if err := in.Error(); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case typ != "":
		return decodeVendorFrame(typ, content)
	case event != "":
		return decodeControlFrame(event, code, message)
	}
	return Frame{}, fmt.Errorf("%w: neither Type nor event present", ErrMalformedFrame)
}

func decodeVendorFrame(typ string, content []byte) (Frame, error) {
	switch Channel(typ) {
	case ChannelTick:
		tick, err := decodeTick(content)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameTick, Tick: tick}, nil
	case ChannelDepth:
		depth, err := decodeDepth(content)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameDepth, Depth: depth}, nil
	case ChannelOrderStatus:
		order, err := decodeOrderUpdate(content)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameOrderStatus, Order: order}, nil
	}
	if typ == "H" {
		return Frame{Type: FrameHeartbeat}, nil
	}
	return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, typ)
}

func decodeControlFrame(event string, code int, message string) (Frame, error) {
	switch event {
	case "auth_ok", "authenticated":
		return Frame{Type: FrameAuthOK}, nil
	case "auth_fail", "unauthorized":
		return Frame{Type: FrameAuthFail, Code: code, Message: message}, nil
	case "error":
		return Frame{Type: FrameError, Code: code, Message: message}, nil
	case "ping", "pong", "heartbeat":
		return Frame{Type: FrameHeartbeat}, nil
	}
	return Frame{}, fmt.Errorf("%w: unknown control event %q", ErrMalformedFrame, event)
}

func decodeTick(content []byte) (*Tick, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: tick frame without content", ErrMalformedFrame)
	}
	in := jlexer.Lexer{Data: content}
	tick := &Tick{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "Symbol", "symbol":
			tick.Symbol = in.String()
		case "Price", "lastPrice":
			tick.LastPrice = decodeDecimal(&in)
		case "Bid", "bidPrice":
			tick.BidPrice = decodeDecimal(&in)
		case "Ask", "askPrice":
			tick.AskPrice = decodeDecimal(&in)
		case "TotalVolume", "totalVolume":
			tick.TotalVolume = decodeDecimal(&in)
		case "Date", "timestamp":
			tick.Timestamp = decodeTime(&in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if tick.Symbol == "" {
		return nil, fmt.Errorf("%w: tick without symbol", ErrMalformedFrame)
	}
	return tick, nil
}

func decodeDepth(content []byte) (*Depth, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: depth frame without content", ErrMalformedFrame)
	}
	in := jlexer.Lexer{Data: content}
	depth := &Depth{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "Symbol", "symbol":
			depth.Symbol = in.String()
		case "Bids", "bids":
			depth.Bids = decodeLevels(&in)
		case "Asks", "asks":
			depth.Asks = decodeLevels(&in)
		case "Date", "timestamp":
			depth.Timestamp = decodeTime(&in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if depth.Symbol == "" {
		return nil, fmt.Errorf("%w: depth without symbol", ErrMalformedFrame)
	}
	return depth, nil
}

func decodeLevels(in *jlexer.Lexer) []PriceLevel {
	var levels []PriceLevel
	in.Delim('[')
	for !in.IsDelim(']') {
		var level PriceLevel
		in.Delim('{')
		for !in.IsDelim('}') {
			key := in.UnsafeFieldName(false)
			in.WantColon()
			if in.IsNull() {
				in.Skip()
				in.WantComma()
				continue
			}
			switch key {
			case "Price", "price":
				level.Price = decodeDecimal(in)
			case "Quantity", "qty", "quantity":
				level.Quantity = decodeDecimal(in)
			default:
				in.SkipRecursive()
			}
			in.WantComma()
		}
		in.Delim('}')
		levels = append(levels, level)
		in.WantComma()
	}
	in.Delim(']')
	return levels
}

func decodeOrderUpdate(content []byte) (*OrderUpdate, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: order status frame without content", ErrMalformedFrame)
	}
	in := jlexer.Lexer{Data: content}
	order := &OrderUpdate{}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "Symbol", "symbol":
			order.Symbol = in.String()
		case "ClientRef", "clientOrderId":
			order.ClientOrderID = in.String()
		case "Ref", "brokerOrderId":
			order.BrokerOrderID = in.String()
		case "TradeId", "tradeId":
			order.TradeID = in.String()
		case "Status", "status":
			order.Status = algolab.OrderStatus(in.String())
		case "Side", "side":
			order.Side = algolab.OrderSide(in.String())
		case "Price", "price":
			order.Price = decodeDecimal(&in)
		case "Qty", "qty", "quantity":
			order.Quantity = decodeDecimal(&in)
		case "FilledQty", "filledQty":
			order.FilledQty = decodeDecimal(&in)
		case "Date", "timestamp":
			order.Timestamp = decodeTime(&in)
		case "Sequence", "sequence":
			order.Sequence = in.Uint64()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if err := in.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if order.Symbol == "" {
		return nil, fmt.Errorf("%w: order status without symbol", ErrMalformedFrame)
	}
	return order, nil
}

// decodeDecimal accepts both JSON numbers and quoted numeric strings.
func decodeDecimal(in *jlexer.Lexer) decimal.Decimal {
	num := in.JsonNumber()
	if in.Error() != nil {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		in.AddError(fmt.Errorf("invalid decimal %q: %w", num.String(), err))
		return decimal.Decimal{}
	}
	return d
}

// decodeTime accepts RFC 3339 strings and unix epoch numbers, with or
// without millisecond resolution.
func decodeTime(in *jlexer.Lexer) time.Time {
	raw := bytes.TrimSpace(in.Raw())
	if in.Error() != nil || len(raw) == 0 {
		return time.Time{}
	}
	if raw[0] == '"' {
		s := string(raw[1 : len(raw)-1])
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		in.AddError(fmt.Errorf("invalid timestamp %q", s))
		return time.Time{}
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		in.AddError(fmt.Errorf("invalid timestamp %q", raw))
		return time.Time{}
	}
	// beyond this magnitude the epoch must be milliseconds
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
