package wsgateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bjoelf/venue-gateway/gatewaylog"
)

// runPump drains w.Messages() and routes every frame until the channel
// closes (remote close, local close, or transport error). One instance
// runs per wrapper generation: the initial dial and each reconnect swap
// spawn a fresh runPump rather than re-selecting over a replaced channel.
func (m *Manager) runPump(c *connection, w *Wrapper) {
	logger := gatewaylog.Named("wsgateway").With().Str("conn", c.id).Str("venue", c.venue).Logger()
	for raw := range w.Messages() {
		m.route(c, raw, time.Now())
	}
	select {
	case err := <-w.Errors():
		if err != nil {
			logger.Debug().Err(err).Msg("connection pump ended")
		}
	default:
	}
}

// route implements the per-message pipeline: mark liveness, swallow
// text pongs, stash-while-reconnecting, parse, dedup, buffer, dispatch.
func (m *Manager) route(c *connection, raw string, now time.Time) {
	c.touch(now)

	if trimmed := strings.TrimSpace(raw); trimmed == "pong" || trimmed == `"pong"` {
		atomic.AddInt64(&m.counters.PongsReceived, 1)
		return
	}

	if c.stash.Active() {
		c.stash.Enqueue(raw, now)
		return
	}
	m.deliver(c, raw, now)
}

func (m *Manager) deliver(c *connection, raw string, now time.Time) {
	pm, key, ok := parseMessage(c.cfg.Dialect, raw)
	if !ok {
		atomic.AddInt64(&m.counters.UnroutedMessages, 1)
		return
	}

	if m.dedup.IsDuplicate(key, now) {
		atomic.AddInt64(&m.counters.DuplicateMessages, 1)
		return
	}

	var seq *uint64
	c.buffer.Append(BufferedMessage{TimestampUnixNano: now.UnixNano(), Message: raw, Sequence: seq})
	atomic.AddInt64(&m.counters.BufferedMessages, 1)

	m.dispatch(c, pm, now)
}

// dispatch fans a parsed message out to every active Subscription on the
// connection whose data type matches (venue and market are not compared)
// and whose symbol set contains the
// message's symbol (or is empty, meaning "all symbols"). Each callback
// runs isolated: a panic or simply a slow callback never takes down the
// pump.
func (m *Manager) dispatch(c *connection, pm ParsedMessage, now time.Time) {
	subs := c.subscriptions()
	routed := false
	for _, sub := range subs {
		if !sub.Active || sub.DataType != pm.DataType {
			continue
		}
		if len(sub.Symbols()) > 0 && !sub.Has(pm.Symbol) {
			continue
		}
		routed = true
		m.invokeCallback(c, sub, pm)
	}

	if m.supervisor != nil && routed {
		m.supervisor.RecordUpdate(c.venue, c.cfg.Market, pm.Symbol)
	}
	if routed {
		atomic.AddInt64(&m.counters.RoutedMessages, 1)
	} else {
		atomic.AddInt64(&m.counters.UnroutedMessages, 1)
	}
}

func (m *Manager) invokeCallback(c *connection, sub *Subscription, pm ParsedMessage) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&m.counters.CallbackErrors, 1)
			if m.supervisor != nil {
				m.supervisor.RecordError(c.venue, c.cfg.Market, pm.Symbol)
			}
			gatewaylog.Named("wsgateway").Error().
				Str("conn", c.id).Str("venue", c.venue).Interface("panic", r).
				Msg("subscription callback panicked")
		}
	}()
	sub.Callback(pm)
}

// parseMessage decodes raw per the venue's wire dialect, returning the parsed record and the fields used for dedup keying.
func parseMessage(dialect Dialect, raw string) (ParsedMessage, DedupKeyFields, bool) {
	var envelope map[string]any
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return ParsedMessage{}, DedupKeyFields{}, false
	}

	switch dialect {
	case DialectChannelArg:
		return parseChannelArg(envelope)
	default:
		return parseCombinedStream(envelope)
	}
}

// parseCombinedStream handles the "stream"/"data" shape: the stream name
// carries "<symbol>@<suffix>" and the data type is derived from the
// suffix.
func parseCombinedStream(envelope map[string]any) (ParsedMessage, DedupKeyFields, bool) {
	stream, _ := envelope["stream"].(string)
	data, _ := envelope["data"].(map[string]any)
	if stream == "" || data == nil {
		return ParsedMessage{}, DedupKeyFields{}, false
	}

	symPart, suffix, found := strings.Cut(stream, "@")
	if !found {
		return ParsedMessage{}, DedupKeyFields{}, false
	}
	dt, ok := combinedStreamDataType(suffix)
	if !ok {
		return ParsedMessage{}, DedupKeyFields{}, false
	}

	symbol := strings.ToUpper(symPart)
	pm := ParsedMessage{DataType: dt, Symbol: symbol, Payload: data}
	key := dedupFields(symbol, data)
	return pm, key, true
}

// StreamDataType exposes the combined-stream suffix mapping for callers
// outside this package that build stream names themselves (the Venue
// Connector's subscribe(stream, handler) helper).
func StreamDataType(stream string) (DataType, string, bool) {
	symPart, suffix, found := strings.Cut(stream, "@")
	if !found {
		return "", "", false
	}
	dt, ok := combinedStreamDataType(suffix)
	if !ok {
		return "", "", false
	}
	return dt, strings.ToUpper(symPart), true
}

func combinedStreamDataType(suffix string) (DataType, bool) {
	switch {
	case strings.HasPrefix(suffix, "depth"):
		return DataOrderbook, true
	case suffix == "trade" || suffix == "aggTrade":
		return DataTrade, true
	case strings.HasPrefix(suffix, "kline_"):
		return DataKline, true
	case suffix == "forceOrder":
		return DataLiquidation, true
	case suffix == "markPrice" || suffix == "markPrice@1s":
		return DataFundingRate, true
	case suffix == "openInterest":
		return DataOpenInterest, true
	default:
		return "", false
	}
}

// channelArgTypes maps a venue's control-message channel name to a
// normalized DataType, for the "arg.channel"/"arg.instId"/"data" shape.
var channelArgTypes = map[string]DataType{
	"books":              DataOrderbook,
	"books5":             DataOrderbook,
	"trades":             DataTrade,
	"candle1m":           DataKline,
	"candle5m":           DataKline,
	"candle1H":           DataKline,
	"liquidation-orders": DataLiquidation,
	"funding-rate":       DataFundingRate,
	"open-interest":      DataOpenInterest,
}

func parseChannelArg(envelope map[string]any) (ParsedMessage, DedupKeyFields, bool) {
	arg, _ := envelope["arg"].(map[string]any)
	if arg == nil {
		return ParsedMessage{}, DedupKeyFields{}, false
	}
	channel, _ := arg["channel"].(string)
	instID, _ := arg["instId"].(string)
	if channel == "" || instID == "" {
		return ParsedMessage{}, DedupKeyFields{}, false
	}
	dt, ok := channelArgTypes[channel]
	if !ok {
		return ParsedMessage{}, DedupKeyFields{}, false
	}

	var payload map[string]any
	switch d := envelope["data"].(type) {
	case map[string]any:
		payload = d
	case []any:
		if len(d) > 0 {
			if first, ok := d[0].(map[string]any); ok {
				payload = first
			}
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	symbol := strings.ToUpper(instID)
	pm := ParsedMessage{DataType: dt, Symbol: symbol, Payload: payload}
	key := dedupFields(symbol, payload)
	return pm, key, true
}

func dedupFields(symbol string, payload map[string]any) DedupKeyFields {
	eventTime := stringField(payload, "E", "eventTime", "ts")
	timestamp := stringField(payload, "T", "timestamp", "t")
	price, hasPrice := floatField(payload, "p", "price", "markPrice")
	return DedupKeyFields{
		Symbol:    symbol,
		EventTime: eventTime,
		Timestamp: timestamp,
		Price:     formatPrice(price, hasPrice),
	}
}

func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			return v
		case float64:
			return trimFloat(v)
		}
	}
	return ""
}

func floatField(payload map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case float64:
			return v, true
		case string:
			var f float64
			if _, err := fmt.Sscan(v, &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func trimFloat(f float64) string {
	b, _ := json.Marshal(f)
	return strings.TrimRight(strings.TrimRight(string(b), "0"), ".")
}
