package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFollowingDecodesList(t *testing.T) {
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/graphs/123/following" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"following":["456","789"]}`)
	}))
	defer graphServer.Close()

	graph, err := NewHTTPGraph(HTTPGraphConfig{BaseURL: graphServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	following, err := graph.Following(context.Background(), "123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(following) != 2 || following[0] != "456" || following[1] != "789" {
		t.Fatalf("unexpected follow list: %v", following)
	}
}

func TestFollowingPropagatesServerError(t *testing.T) {
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer graphServer.Close()

	graph, err := NewHTTPGraph(HTTPGraphConfig{BaseURL: graphServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := graph.Following(context.Background(), "123"); err == nil {
		t.Fatal("expected error for server failure")
	}
}

func TestFollowSubmitsChangeAndReturnsReference(t *testing.T) {
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/graphs/1/follow" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("unexpected body decode error: %v", err)
		}
		if body["targetId"] != "2" {
			t.Errorf("unexpected target id: %s", body["targetId"])
		}
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"referenceId":"ref-42"}`)
	}))
	defer graphServer.Close()

	graph, err := NewHTTPGraph(HTTPGraphConfig{BaseURL: graphServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	referenceID, err := graph.Follow(context.Background(), "1", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referenceID != "ref-42" {
		t.Fatalf("unexpected reference id: %s", referenceID)
	}
}

func TestUnfollowUsesUnfollowPath(t *testing.T) {
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/graphs/1/unfollow" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"referenceId":"ref-43"}`)
	}))
	defer graphServer.Close()

	graph, err := NewHTTPGraph(HTTPGraphConfig{BaseURL: graphServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	referenceID, err := graph.Unfollow(context.Background(), "1", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if referenceID != "ref-43" {
		t.Fatalf("unexpected reference id: %s", referenceID)
	}
}

func TestFollowRejectsMissingReferenceID(t *testing.T) {
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer graphServer.Close()

	graph, err := NewHTTPGraph(HTTPGraphConfig{BaseURL: graphServer.URL})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if _, err := graph.Follow(context.Background(), "1", "2"); err == nil {
		t.Fatal("expected error when response omits referenceId")
	}
}

func TestNewHTTPGraphRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPGraph(HTTPGraphConfig{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
