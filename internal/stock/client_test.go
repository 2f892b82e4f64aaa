package stock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAvailable_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/products/sku-1/stock" {
			t.Fatalf("path = %s, want /api/products/sku-1/stock", r.URL.Path)
		}
		if qty := r.URL.Query().Get("qty"); qty != "3" {
			t.Fatalf("qty = %s, want 3", qty)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stockResponse{Available: true, Remaining: 7}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.Available(ctx, "sku-1", 3)
	if err != nil {
		t.Fatalf("Available error: %v", err)
	}
	if !ok {
		t.Fatal("available = false, want true")
	}
}

func TestAvailable_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.Available(ctx, "missing", 1)
	if err != nil {
		t.Fatalf("Available error: %v", err)
	}
	if ok {
		t.Fatal("available = true, want false for unknown product")
	}
}

func TestAvailable_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stockResponse{Available: true, Remaining: 1})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := client.Available(ctx, "sku-1", 1)
	if err != nil {
		t.Fatalf("Available error: %v", err)
	}
	if !ok {
		t.Fatal("available = false, want true after retry")
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want at least 2", calls.Load())
	}
}

func TestAvailable_NotConfigured(t *testing.T) {
	client := NewClient("")

	if _, err := client.Available(context.Background(), "sku-1", 1); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}
