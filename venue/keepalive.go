package venue

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bjoelf/venue-gateway/gatewaylog"
	"github.com/bjoelf/venue-gateway/wsgateway"
)

// StartStructuredKeepAlive runs a venue-specific structured ping loop
// (e.g. a 5-minute `{"op":"ping"}` frame) alongside the WS Manager's own
// string/protocol ping cadence, for venues that require both. The loop
// exits when ctx is cancelled or the wrapper closes; failures are
// logged, never fatal.
func (c *Connector) StartStructuredKeepAlive(ctx context.Context, w *wsgateway.Wrapper, interval time.Duration, payload string) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger := gatewaylog.Named("venue").With().Str("venue", c.cfg.Name).Logger()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.Closed() {
					return
				}
				if err := w.Send(payload); err != nil {
					logger.Warn().Err(err).Msg("structured keep-alive send failed")
				}
			}
		}
	}()
}

// OAuthClientCredentials builds an HTTP client backed by an OAuth2
// client-credentials token source, for venues that authenticate REST
// calls via bearer token rather than HMAC request signing. The token
// is fetched lazily on first use and refreshed automatically thereafter.
func OAuthClientCredentials(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *http.Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return cfg.Client(ctx)
}
