package shortlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		config string
		want   string
	}{
		{"bitly", "bitly"},
		{"worker", "worker"},
		{"direct", "direct"},
		{"unknown", "direct"},
	}
	for _, tc := range tests {
		if got := New(tc.config, "https://short.example", "tok").Name(); got != tc.want {
			t.Errorf("New(%q).Name() = %q, want %q", tc.config, got, tc.want)
		}
	}
}

func TestDirectPassThrough(t *testing.T) {
	link, err := (&Direct{}).Shorten(context.Background(), "https://www.amazon.es/dp/B0TESTASIN?tag=x")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.ShortURL != link.LongURL {
		t.Errorf("link = %+v", link)
	}
	if link.Provider != "direct" {
		t.Errorf("Provider = %q", link.Provider)
	}
}

func TestBitlyShorten(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/shorten" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["long_url"] == "" {
			t.Error("long_url missing")
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"link": "https://bit.ly/abc123"})
	}))
	defer server.Close()

	b := &Bitly{httpClient: server.Client(), token: "tok", baseURL: server.URL}
	link, err := b.Shorten(context.Background(), "https://www.amazon.es/dp/B0TESTASIN")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.ShortURL != "https://bit.ly/abc123" {
		t.Errorf("ShortURL = %q", link.ShortURL)
	}
}

func TestBitlyShortenErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	b := &Bitly{httpClient: server.Client(), token: "bad", baseURL: server.URL}
	if _, err := b.Shorten(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWorkerShorten(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/links" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"slug": "zx9"})
	}))
	defer server.Close()

	p := &Worker{httpClient: server.Client(), domain: server.URL}
	link, err := p.Shorten(context.Background(), "https://www.amazon.es/dp/B0TESTASIN")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.ShortURL != server.URL+"/zx9" {
		t.Errorf("ShortURL = %q", link.ShortURL)
	}
}
