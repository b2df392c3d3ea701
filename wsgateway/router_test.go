package wsgateway

import "testing"

func TestParseMessageCombinedStream(t *testing.T) {
	raw := `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT"}}`
	pm, key, ok := parseMessage(DialectCombinedStream, raw)
	if !ok {
		t.Fatal("expected combined-stream message to parse")
	}
	if pm.DataType != DataOrderbook {
		t.Fatalf("expected ORDERBOOK, got %s", pm.DataType)
	}
	if pm.Symbol != "BTCUSDT" {
		t.Fatalf("expected uppercased symbol BTCUSDT, got %s", pm.Symbol)
	}
	if key.EventTime == "" {
		t.Fatal("expected dedup key to carry event time")
	}
}

func TestParseMessageCombinedStreamSuffixes(t *testing.T) {
	cases := map[string]DataType{
		"btcusdt@trade":      DataTrade,
		"btcusdt@aggTrade":   DataTrade,
		"btcusdt@kline_1m":   DataKline,
		"btcusdt@forceOrder": DataLiquidation,
	}
	for stream, want := range cases {
		raw := `{"stream":"` + stream + `","data":{}}`
		pm, _, ok := parseMessage(DialectCombinedStream, raw)
		if !ok {
			t.Fatalf("stream %q: expected parse success", stream)
		}
		if pm.DataType != want {
			t.Fatalf("stream %q: got %s, want %s", stream, pm.DataType, want)
		}
	}
}

func TestParseMessageChannelArg(t *testing.T) {
	raw := `{"arg":{"channel":"books","instId":"BTC-USDT"},"data":[{"p":"100.5"}]}`
	pm, key, ok := parseMessage(DialectChannelArg, raw)
	if !ok {
		t.Fatal("expected channel/arg message to parse")
	}
	if pm.DataType != DataOrderbook {
		t.Fatalf("expected ORDERBOOK, got %s", pm.DataType)
	}
	if pm.Symbol != "BTC-USDT" {
		t.Fatalf("expected symbol BTC-USDT, got %s", pm.Symbol)
	}
	if key.Price != "100.5" {
		t.Fatalf("expected dedup key to carry price, got %q", key.Price)
	}
}

func TestParseMessageUnrecognizedShape(t *testing.T) {
	if _, _, ok := parseMessage(DialectCombinedStream, `{"foo":"bar"}`); ok {
		t.Fatal("expected unrecognized shape to fail to parse")
	}
	if _, _, ok := parseMessage(DialectChannelArg, `not json`); ok {
		t.Fatal("expected invalid JSON to fail to parse")
	}
}

func TestStreamDataTypeHelper(t *testing.T) {
	dt, symbol, ok := StreamDataType("ethusdt@kline_5m")
	if !ok || dt != DataKline || symbol != "ETHUSDT" {
		t.Fatalf("got (%s, %s, %v)", dt, symbol, ok)
	}
	if _, _, ok := StreamDataType("no-at-sign"); ok {
		t.Fatal("expected malformed stream name to fail")
	}
}

func TestSubscriptionIsAdditiveAndRemovable(t *testing.T) {
	sub := NewSubscription("venueA", "spot", DataTrade, []string{"BTCUSDT"}, func(ParsedMessage) {})
	sub.AddSymbols([]string{"ethusdt"})
	if !sub.Has("ETHUSDT") || !sub.Has("BTCUSDT") {
		t.Fatalf("expected both symbols present, got %v", sub.Symbols())
	}
	sub.AddSymbols([]string{"BTCUSDT"}) // duplicate insert is a no-op
	if len(sub.Symbols()) != 2 {
		t.Fatalf("expected duplicate insert to not grow the set, got %v", sub.Symbols())
	}
	sub.RemoveSymbols([]string{"ETHUSDT"})
	if sub.Has("ETHUSDT") || !sub.Has("BTCUSDT") {
		t.Fatalf("expected ETHUSDT removed, BTCUSDT retained, got %v", sub.Symbols())
	}
}
