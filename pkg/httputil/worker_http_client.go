// Package httputil provides pooled HTTP clients for outbound provider calls.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Timeout settings
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// GmailClientConfig sizes the idle pool for one page of concurrent message
// fetches per running sync.
func GmailClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     120 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     60 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// OAuthClientConfig is for token exchange and refresh: few connections,
// short timeouts.
func OAuthClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ResponseTimeout:     15 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewClient creates an HTTP client with connection pooling.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}
