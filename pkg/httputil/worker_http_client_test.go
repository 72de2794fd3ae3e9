package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		cfg  *ClientConfig
		want *ClientConfig
	}{
		{"nil uses defaults", nil, DefaultClientConfig()},
		{"gmail", GmailClientConfig(), GmailClientConfig()},
		{"oauth", OAuthClientConfig(), OAuthClientConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.cfg)
			if client.Timeout != tt.want.ResponseTimeout {
				t.Errorf("timeout = %v, want %v", client.Timeout, tt.want.ResponseTimeout)
			}
			tr, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("transport type %T", client.Transport)
			}
			if tr.MaxIdleConnsPerHost != tt.want.MaxIdleConnsPerHost {
				t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, tt.want.MaxIdleConnsPerHost)
			}
		})
	}
}

func TestNewClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewClient(nil).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
