package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Head reports the current chain head block number. Feed queries default
// their newest bound to this value.
type Head interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// HTTPHeadConfig configures the HTTP chain-head client.
type HTTPHeadConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPHead reads the latest finalized block number from the content
// watcher's REST API.
type HTTPHead struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPHead validates configuration and returns an HTTPHead.
func NewHTTPHead(cfg HTTPHeadConfig) (*HTTPHead, error) {
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
	return &HTTPHead{baseURL: base, client: client, logger: logger}, nil
}

type latestBlockResponse struct {
	BlockNumber uint64 `json:"blockNumber"`
}

// LatestBlock fetches the current chain head block number.
func (h *HTTPHead) LatestBlock(ctx context.Context) (uint64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/blocks/latest", http.NoBody)
	if err != nil {
		return 0, err
	}
	response, err := h.client.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("content watcher returned status %d", response.StatusCode)
	}

	var decoded latestBlockResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return 0, err
	}
	return decoded.BlockNumber, nil
}
