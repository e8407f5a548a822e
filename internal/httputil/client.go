// Package httputil provides a hardened HTTP client and URL validation helpers.
package httputil

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewClient creates an HTTP client with secure defaults for talking to
// local endpoints such as the DevTools HTTP interface.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        4,
			IdleConnTimeout:     30 * time.Second,
			MaxIdleConnsPerHost: 2,
		},
	}
}
