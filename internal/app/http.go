package app

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns a client shared by the page fetcher and the attachment
// downloader. The per-host pool is sized for both pools running at full
// concurrency against one site. Per-attempt deadlines come from the callers'
// contexts, so the client itself has no overall timeout: a large attachment
// may legitimately stream for longer than any fixed value.
func newHTTPClient(cfg Config) *http.Client {
	perHost := cfg.PageConcurrency + cfg.DownloadConcurrency
	if perHost < 16 {
		perHost = 16
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       0,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}
