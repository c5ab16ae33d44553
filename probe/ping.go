package probe

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// pingTimeout bounds the diagnostic reachability probe independently of
// the check deadline.
const pingTimeout = 5 * time.Second

// MeasurePing issues a lightweight HEAD request to the endpoint's origin
// and returns the elapsed milliseconds, or nil on any failure. It is
// purely diagnostic: it never gates a check's status and never returns an
// error to its caller.
func MeasurePing(ctx context.Context, client HTTPClient, endpoint string) *int64 {
	origin, ok := endpointOrigin(endpoint)
	if !ok {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodHead, origin, nil)
	if err != nil {
		return nil
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()

	// Any HTTP status proves the host answered; latency is the signal.
	elapsed := time.Since(start).Milliseconds()
	return &elapsed
}

// endpointOrigin reduces an endpoint URL to its scheme://host origin.
func endpointOrigin(endpoint string) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}
