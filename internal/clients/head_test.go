package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestBlockDecodesResponse(t *testing.T) {
	chainServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/blocks/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"blockNumber":123456}`)
	}))
	defer chainServer.Close()

	head, err := NewHTTPHead(HTTPHeadConfig{BaseURL: chainServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	block, err := head.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block != 123456 {
		t.Fatalf("unexpected block number: %d", block)
	}
}

func TestLatestBlockPropagatesServerError(t *testing.T) {
	chainServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer chainServer.Close()

	head, err := NewHTTPHead(HTTPHeadConfig{BaseURL: chainServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := head.LatestBlock(context.Background()); err == nil {
		t.Fatal("expected error for server failure")
	}
}

func TestNewHTTPHeadTrimsTrailingSlash(t *testing.T) {
	chainServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/blocks/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"blockNumber":1}`)
	}))
	defer chainServer.Close()

	head, err := NewHTTPHead(HTTPHeadConfig{BaseURL: chainServer.URL + "/"})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, err := head.LatestBlock(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
