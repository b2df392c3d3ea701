package wsgateway

import (
	"encoding/json"
	"testing"
)

func TestCombinedStreamControlFrame(t *testing.T) {
	frame, err := CombinedStreamControlFrame("subscribe", []string{"btcusdt@depth", "ethusdt@trade"}, 7)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(frame), &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded["method"] != "SUBSCRIBE" {
		t.Fatalf("expected uppercased SUBSCRIBE method, got %v", decoded["method"])
	}
	if params, ok := decoded["params"].([]any); !ok || len(params) != 2 {
		t.Fatalf("expected 2 params, got %v", decoded["params"])
	}

	if _, err := CombinedStreamControlFrame("ping", nil, 1); err == nil {
		t.Fatal("expected unsupported control method to fail")
	}
}

func TestChannelArgControlFrame(t *testing.T) {
	frame, err := ChannelArgControlFrame("subscribe", "books", "BTC-USDT")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`
	if frame != want {
		t.Fatalf("frame = %s, want %s", frame, want)
	}
}

func TestChannelForRoundTripsChannelArgTypes(t *testing.T) {
	for channel, dt := range channelArgTypes {
		back, ok := channelFor(dt)
		if !ok {
			t.Fatalf("no reverse channel mapping for %s", dt)
		}
		// Several kline channels collapse onto one DataType; the reverse
		// mapping only has to produce a channel the dialect understands.
		if _, known := channelArgTypes[back]; !known {
			t.Fatalf("channelFor(%s) = %q, which parseChannelArg would not recognize (from %q)", dt, back, channel)
		}
	}
}
