package wsgateway

import (
	"strings"
	"sync"
)

// DataType is the normalized channel/stream kind extracted from a venue
// payload.
type DataType string

const (
	DataOrderbook    DataType = "ORDERBOOK"
	DataTrade        DataType = "TRADE"
	DataKline        DataType = "KLINE"
	DataLiquidation  DataType = "LIQUIDATION"
	DataFundingRate  DataType = "FUNDING_RATE"
	DataOpenInterest DataType = "OPEN_INTEREST"
)

// Dialect distinguishes the two wire shapes a venue may speak.
type Dialect int

const (
	// DialectCombinedStream: subscriptions are URL-encoded; messages carry
	// a "stream" tag (e.g. "btcusdt@depth") and a "data" object.
	DialectCombinedStream Dialect = iota
	// DialectChannelArg: subscriptions are sent as control messages
	// referencing "channel" and "instId"; messages mirror that shape.
	DialectChannelArg
)

// ParsedMessage is a parsed-but-untyped record: the core surfaces data
// once routed, business-level shape is owned by callers per venue
// channel.
type ParsedMessage struct {
	DataType DataType
	Symbol   string
	Payload  map[string]any
}

// Callback receives a routed, parsed message for a matching Subscription.
type Callback func(ParsedMessage)

// Subscription is (venue, market, set of symbols) plus a callback and an
// active flag, tied to one connection-id while active.
type Subscription struct {
	mu       sync.Mutex
	Venue    string
	Market   string
	DataType DataType
	symbols  map[string]struct{}
	Callback Callback
	Active   bool
	ConnID   string
}

// NewSubscription constructs a Subscription over the given symbol set.
func NewSubscription(venue, market string, dt DataType, symbols []string, cb Callback) *Subscription {
	s := &Subscription{
		Venue:    venue,
		Market:   market,
		DataType: dt,
		symbols:  make(map[string]struct{}),
		Callback: cb,
	}
	s.AddSymbols(symbols)
	return s
}

// AddSymbols is additive; duplicate inserts are no-ops.
func (s *Subscription) AddSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[strings.ToUpper(sym)] = struct{}{}
	}
}

// RemoveSymbols implements unsubscribe semantics for a subset of symbols.
func (s *Subscription) RemoveSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		delete(s.symbols, strings.ToUpper(sym))
	}
}

// Has reports whether symbol is in the subscription's set.
func (s *Subscription) Has(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.symbols[strings.ToUpper(symbol)]
	return ok
}

// Symbols returns a snapshot of the current symbol set.
func (s *Subscription) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Counters is the failure/throughput taxonomy surfaced by network_stats().
type Counters struct {
	Reconnections          int64
	ProactiveReconnections int64
	SmoothReconnections    int64
	ConnectionFailures     int64
	DuplicateMessages      int64
	BufferedMessages       int64
	UnroutedMessages       int64
	RoutedMessages         int64
	CallbackErrors         int64
	PingsSent              int64
	PongsReceived          int64
}
