package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/uniedit/paygate/internal/shared/config"
)

// New creates the pooled HTTP client shared by provider adapters. Per-call
// deadlines come from the caller's context; cfg.Timeout is a hard ceiling.
func New(cfg config.HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	}

	var timeout time.Duration
	if cfg.Timeout > 0 {
		// leave room for the retry loop's own per-attempt deadline
		timeout = cfg.Timeout * 2
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
