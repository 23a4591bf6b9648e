package app

import (
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestNewHTTPClient_Config(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageConcurrency = 20
	cfg.DownloadConcurrency = 30
	c := newHTTPClient(cfg)
	if c.Timeout != 0 {
		t.Fatalf("client timeout would cut long downloads: %v", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if tr.MaxIdleConnsPerHost != 50 {
		t.Fatalf("expected per-host pool of 50, got %d", tr.MaxIdleConnsPerHost)
	}
	if tr.ResponseHeaderTimeout != 30*time.Second {
		t.Fatalf("expected header timeout from RequestTimeout, got %v", tr.ResponseHeaderTimeout)
	}
	if reflect.ValueOf(http.DefaultTransport).Pointer() == reflect.ValueOf(tr).Pointer() {
		t.Fatalf("transport should not be default")
	}
	if tr.TLSClientConfig != nil && tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("certificate verification disabled by default")
	}
}

func TestNewHTTPClient_InsecureTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InsecureTLS = true
	tr := newHTTPClient(cfg).Transport.(*http.Transport)
	if tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify when InsecureTLS is set")
	}
}
