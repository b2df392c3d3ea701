package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AdjustPrecision formats value to the given number of fractional digits
// and strips trailing zeros past the decimal point. It is
// built on shopspring/decimal so rounding matches venue-side fixed-point
// arithmetic rather than binary float rounding.
func (c *Connector) AdjustPrecision(value float64, digits int) string {
	c.precisionAdjustments.Add(1)
	d := decimal.NewFromFloat(value).Round(int32(digits))
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}

// PrepareParams normalizes the precision-sensitive parameter set:
// price-precision for keys containing "price", else
// quantity-precision; every other key is stringified as-is.
// prepare_params(prepare_params(p)) == prepare_params(p) holds because
// AdjustPrecision on an already-trimmed fixed-digit string reproduces
// the same string.
func (c *Connector) PrepareParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if _, sensitive := precisionSensitiveKeys[k]; !sensitive {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		digits := c.cfg.QuantityPrecision
		if strings.Contains(strings.ToLower(k), "price") {
			digits = c.cfg.PricePrecision
		}
		f, err := toFloat(v)
		if err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		out[k] = c.AdjustPrecision(f, digits)
	}
	return out
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return 0, err
		}
		f, _ := d.Float64()
		return f, nil
	default:
		return 0, fmt.Errorf("venue: unsupported precision value type %T", v)
	}
}

// Sign computes the HMAC-SHA256 signature over the URL-encoded,
// key-sorted form of params, hex-encoded. Empty string if the venue has
// no secret configured.
func Sign(secret string, params map[string]string) string {
	if secret == "" {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	form := url.Values{}
	for _, k := range keys {
		form.Set(k, params[k])
	}
	encoded := form.Encode()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
