package groq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientWithoutKey(t *testing.T) {
	t.Parallel()

	if NewClient(Config{}) != nil {
		t.Fatal("expected nil client without api key")
	}
}

func TestVerifyModel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/models/llama-3") {
			_, _ = w.Write([]byte(`{"id":"llama-3","object":"model","created":1,"owned_by":"groq"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if err := VerifyModel(context.Background(), client, "llama-3"); err != nil {
		t.Fatalf("VerifyModel() error = %v", err)
	}
	if err := VerifyModel(context.Background(), client, "missing"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestNewRequiresModelAndKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{APIKey: "k"}
	if _, err := cfg.New(context.Background()); err == nil {
		t.Fatal("expected error without model")
	}
	cfg = &Config{Model: "m"}
	if _, err := cfg.New(context.Background()); err == nil {
		t.Fatal("expected error without api key")
	}
}
