package wsgateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// combinedStreamControl is the combined-stream dialect's control frame:
// {"method":"SUBSCRIBE"|"UNSUBSCRIBE","params":[...],"id":...}.
type combinedStreamControl struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// CombinedStreamControlFrame encodes a SUBSCRIBE/UNSUBSCRIBE control
// message for combined-stream venues. Most combined-stream subscriptions
// are already carried in the URL and restored by a fresh open; the
// control frame covers venues that also accept live stream changes.
func CombinedStreamControlFrame(method string, params []string, id int64) (string, error) {
	method = strings.ToUpper(method)
	if method != "SUBSCRIBE" && method != "UNSUBSCRIBE" {
		return "", fmt.Errorf("wsgateway: unsupported control method %q", method)
	}
	b, err := json.Marshal(combinedStreamControl{Method: method, Params: params, ID: id})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type channelArgPair struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type channelArgOp struct {
	Op   string           `json:"op"`
	Args []channelArgPair `json:"args"`
}

// ChannelArgControlFrame encodes a channel/arg dialect op frame:
// {"op":"subscribe","args":[{"channel":...,"instId":...}]}.
func ChannelArgControlFrame(op, channel, instID string) (string, error) {
	b, err := json.Marshal(channelArgOp{Op: op, Args: []channelArgPair{{Channel: channel, InstID: instID}}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// channelFor maps a normalized DataType back to the channel/arg dialect's
// default channel name, the inverse of channelArgTypes for the channels
// a restoration pass sends.
func channelFor(dt DataType) (string, bool) {
	switch dt {
	case DataOrderbook:
		return "books", true
	case DataTrade:
		return "trades", true
	case DataKline:
		return "candle1m", true
	case DataLiquidation:
		return "liquidation-orders", true
	case DataFundingRate:
		return "funding-rate", true
	case DataOpenInterest:
		return "open-interest", true
	default:
		return "", false
	}
}

// NewChannelArgSubscribeEncoder returns a subscribe encoder for
// channel/arg venues, suitable for Manager.SetSubscribeEncoder: one
// subscribe op per (channel, instId) pair, paced so a restoration pass
// never trips the venue's control-message rate limit.
func NewChannelArgSubscribeEncoder() func(*Wrapper, *Subscription) error {
	return func(w *Wrapper, sub *Subscription) error {
		channel, ok := channelFor(sub.DataType)
		if !ok {
			return fmt.Errorf("wsgateway: no channel mapping for data type %s", sub.DataType)
		}
		for i, sym := range sub.Symbols() {
			if i > 0 {
				time.Sleep(subscribePaceDelay)
			}
			frame, err := ChannelArgControlFrame("subscribe", channel, sym)
			if err != nil {
				return err
			}
			if err := w.Send(frame); err != nil {
				return err
			}
		}
		return nil
	}
}
