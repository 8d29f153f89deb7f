package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingBaseURL = errors.New("service base url is required")
	noOpLogger        = zap.NewNop()
)

// Graph is the contract the gateway needs from the social-graph service: a
// fresh follow list per requester plus asynchronous follow/unfollow
// operations correlated by reference id.
type Graph interface {
	Following(ctx context.Context, msaID string) ([]string, error)
	Follow(ctx context.Context, actorMSAID, targetMSAID string) (referenceID string, err error)
	Unfollow(ctx context.Context, actorMSAID, targetMSAID string) (referenceID string, err error)
}

// HTTPGraphConfig configures the HTTP graph-service client.
type HTTPGraphConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPGraph talks to the graph microservice over its REST API. Constructed
// once at startup and passed by interface to the components that need it.
type HTTPGraph struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPGraph validates configuration and returns an HTTPGraph.
func NewHTTPGraph(cfg HTTPGraphConfig) (*HTTPGraph, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HTTPGraph{baseURL: base, client: client, logger: logger}, nil
}

type followingResponse struct {
	Following []string `json:"following"`
}

// Following fetches the accounts the given MSA follows. The list is fetched
// fresh on every call; the gateway never caches it.
func (g *HTTPGraph) Following(ctx context.Context, msaID string) ([]string, error) {
	url := fmt.Sprintf("%s/api/graphs/%s/following", g.baseURL, msaID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := g.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph service returned status %d", response.StatusCode)
	}

	var decoded followingResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded.Following, nil
}

type graphChangeRequest struct {
	TargetID string `json:"targetId"`
}

type graphChangeResponse struct {
	ReferenceID string `json:"referenceId"`
}

// Follow submits an asynchronous follow operation and returns the graph
// service's correlation reference id.
func (g *HTTPGraph) Follow(ctx context.Context, actorMSAID, targetMSAID string) (string, error) {
	return g.submitChange(ctx, actorMSAID, targetMSAID, "follow")
}

// Unfollow submits an asynchronous unfollow operation and returns the graph
// service's correlation reference id.
func (g *HTTPGraph) Unfollow(ctx context.Context, actorMSAID, targetMSAID string) (string, error) {
	return g.submitChange(ctx, actorMSAID, targetMSAID, "unfollow")
}

func (g *HTTPGraph) submitChange(ctx context.Context, actorMSAID, targetMSAID, action string) (string, error) {
	payload, err := json.Marshal(graphChangeRequest{TargetID: targetMSAID})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/api/graphs/%s/%s", g.baseURL, actorMSAID, action)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := g.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated && response.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("graph service returned status %d", response.StatusCode)
	}

	var decoded graphChangeResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.ReferenceID == "" {
		return "", errors.New("graph service response missing referenceId")
	}
	return decoded.ReferenceID, nil
}
