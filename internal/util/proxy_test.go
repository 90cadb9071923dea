package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:3128", "http://secure-proxy:3129", "localhost, .internal.example.com,10.0.0.5:8080")

	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/frd.txt", "http://proxy:3128"},
		{"https://example.com/frd.txt", "http://secure-proxy:3129"},
		{"http://localhost:8080/frd.txt", ""},
		{"https://docs.internal.example.com/brd", ""},
		{"https://internal.example.com/brd", ""},
		{"http://10.0.0.5/brd", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			if err != nil {
				t.Fatal(err)
			}
			got, err := proxy(req)
			if err != nil {
				t.Fatalf("proxy() error: %v", err)
			}
			if tt.want == "" {
				if got != nil {
					t.Errorf("Expected no proxy, got %s", got)
				}
				return
			}
			if got == nil || got.String() != tt.want {
				t.Errorf("proxy() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestNewProxyFunc_HTTPOnly(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:3128", "", "")
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	got, err := proxy(req)
	if err != nil || got == nil || got.Host != "proxy:3128" {
		t.Errorf("https without an https proxy should use the http proxy, got %v, %v", got, err)
	}
}

func TestBypassProxy_Wildcard(t *testing.T) {
	if !bypassProxy("anything.example.com", parseNoProxy("*")) {
		t.Error("* should bypass every host")
	}
	if bypassProxy("example.org", parseNoProxy("example.com")) {
		t.Error("unrelated host should not bypass")
	}
}
