package worker

import (
	"context"
	"testing"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.WaitURL(ctx, "http://example.com/frd.docx"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background(), "openai"); err != nil {
		t.Errorf("nil limiter should not block: %v", err)
	}
	if !limiter.Allow("openai") {
		t.Error("nil limiter should allow")
	}
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("ollama") {
			t.Fatalf("request %d should pass with rate disabled", i)
		}
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if err := limiter.Wait(context.Background(), "anthropic"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	if limiter.Allow("anthropic") {
		t.Error("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("gemini") {
		t.Error("expected allow for other key")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetRate("slow.example.com", 0.1, 1)

	if !limiter.Allow("slow.example.com") {
		t.Error("first request should pass")
	}
	if limiter.Allow("slow.example.com") {
		t.Error("second request should fail")
	}
	if !limiter.Allow("fast.example.com") {
		t.Error("other key should pass")
	}
}

func TestHostKey(t *testing.T) {
	host, err := HostKey("http://example.com:8080/docs/frd.html")
	if err != nil {
		t.Fatalf("HostKey failed: %v", err)
	}
	if host != "example.com:8080" {
		t.Errorf("expected example.com:8080, got %s", host)
	}

	if _, err := HostKey("::invalid"); err == nil {
		t.Error("expected error for invalid URL")
	}
	if _, err := HostKey("/local/path.txt"); err == nil {
		t.Error("expected error for URL without host")
	}
}
