// Package http provides the HTTP client used by the transfer engine.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - Per-request timeouts
//   - Basic auth applied uniformly to every request
//   - TLS verification policy (on unless explicitly disabled)
//   - Status code classification
//
// The client sends exactly one request per call. Retry policy lives in the
// transfer pool, which re-issues failed requests in later rounds.
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:  10 * time.Second,
//	    Username: "alice",
//	    Password: "secret",
//	})
//
//	resp, err := client.Do(ctx, http.Request{Method: "HEAD", URL: url})
//	if err != nil {
//	    // no response: connection, DNS, TLS or timeout failure
//	}
//	defer resp.Body.Close()
package http
