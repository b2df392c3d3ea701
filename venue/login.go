package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bjoelf/venue-gateway/wsgateway"
)

// loginArg is the single-element args body of a channel/arg venue's WS
// login op.
type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type loginFrame struct {
	Op   string     `json:"op"`
	Args []loginArg `json:"args"`
}

// Login builds and sends the channel/arg-style WS login frame:
// sign = base64(HMAC-SHA256(secret, timestamp+"GET"+"/users/self/verify")).
// It does not await the venue's ack; call HandleLoginResult
// when the ack arrives on the connection's dispatch path.
func (c *Connector) Login(w *wsgateway.Wrapper) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	prehash := ts + "GET" + "/users/self/verify"

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(prehash))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	frame := loginFrame{
		Op: "login",
		Args: []loginArg{{
			APIKey:     c.cfg.APIKey,
			Passphrase: c.cfg.Passphrase,
			Timestamp:  ts,
			Sign:       sign,
		}},
	}

	encoded, err := json.Marshal(frame)
	if err != nil {
		c.failedLogins.Add(1)
		return err
	}
	if err := w.Send(string(encoded)); err != nil {
		c.failedLogins.Add(1)
		return err
	}
	return nil
}

// HandleLoginResult updates authentication state from an asynchronous
// login ack. Failure never tears down the connection.
func (c *Connector) HandleLoginResult(success bool) {
	if success {
		c.isAuthenticated.Store(true)
		return
	}
	c.isAuthenticated.Store(false)
	c.failedLogins.Add(1)
}

// VerifySessionToken validates a venue-issued JWT session token (used by
// venues that layer a signed session token on top of the WS login
// handshake) against the connector's API secret.
func VerifySessionToken(token, secret string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
