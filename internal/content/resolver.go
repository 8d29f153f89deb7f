package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/dsnplabs/social-gateway/internal/announcement"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout   = 10 * time.Second
	defaultConcurrency    = 4
	maxContentBodyBytes   = 1 << 20
	gatewayCIDPlaceholder = "[CID]"
)

var (
	errMissingStore = errors.New("announcement store is required")
	noOpLogger      = zap.NewNop()
)

// ResolverError carries a dotted operation code for resolver failures that
// must propagate (store errors); fetch failures never surface as errors.
type ResolverError struct {
	code string
	err  error
}

func (e *ResolverError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ResolverError) Unwrap() error {
	return e.err
}

const opResolveRange = "content.resolver.resolve_range"

func newResolverError(operation, reason string, cause error) error {
	return &ResolverError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ResolverConfig wires the content resolver dependencies.
type ResolverConfig struct {
	Store *announcement.Store
	// GatewayTemplate is the content gateway URL with a [CID] placeholder,
	// e.g. https://gateway.example/ipfs/[CID]. Empty disables rewriting.
	GatewayTemplate string
	HTTPClient      *http.Client
	FetchTimeout    time.Duration
	Concurrency     int
	Logger          *zap.Logger
}

// Resolver fetches off-chain content bodies for broadcast and reply
// announcements. Fetch failures are skips, never batch failures: a feed is
// better served with nine of ten posts than with an error.
type Resolver struct {
	store    *announcement.Store
	template string
	client   *http.Client
	timeout  time.Duration
	pool     pond.Pool
	logger   *zap.Logger
}

// NewResolver validates dependencies and returns a Resolver with its worker
// pool started.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Resolver{
		store:    cfg.Store,
		template: cfg.GatewayTemplate,
		client:   client,
		timeout:  timeout,
		pool:     pond.NewPool(concurrency),
		logger:   logger,
	}, nil
}

// Close drains the worker pool. Safe to call once at shutdown.
func (r *Resolver) Close() {
	r.pool.StopAndWait()
}

// RewriteURL routes content-addressed URLs through the configured gateway.
// URLs without a recognizable CID (and all URLs when no gateway is
// configured) pass through unchanged.
func (r *Resolver) RewriteURL(raw string) string {
	if r.template == "" {
		return raw
	}
	cid := extractCID(raw)
	if cid == "" {
		return raw
	}
	return strings.ReplaceAll(r.template, gatewayCIDPlaceholder, cid)
}

func extractCID(raw string) string {
	if rest, ok := strings.CutPrefix(raw, "ipfs://"); ok {
		return strings.TrimSuffix(rest, "/")
	}
	if _, rest, ok := strings.Cut(raw, "/ipfs/"); ok {
		return strings.TrimSuffix(rest, "/")
	}
	return ""
}

// ResolveBroadcast fetches the content body for a broadcast or reply
// announcement. It returns nil when the announcement cannot be resolved:
// fetch errors and timeouts are logged and treated as "skip this item".
func (r *Resolver) ResolveBroadcast(ctx context.Context, blockNumber uint64, ann announcement.Announcement) *Post {
	switch ann.Type {
	case announcement.TypeBroadcast, announcement.TypeReply:
	default:
		return nil
	}
	if ann.URL == "" {
		return nil
	}

	body, err := r.fetchBody(ctx, r.RewriteURL(ann.URL))
	if err != nil {
		r.logger.Warn("content fetch failed, skipping announcement",
			zap.String("url", ann.URL),
			zap.String("fromId", ann.FromID),
			zap.Uint64("blockNumber", blockNumber),
			zap.Error(err))
		return nil
	}

	return &Post{
		FromID:      ann.FromID,
		ContentHash: ann.ContentHash,
		BlockNumber: blockNumber,
		URL:         ann.URL,
		Content:     body,
	}
}

// ResolveReplies resolves every reply announcement pointing at the given
// parent content hash. Replies that fail to resolve are dropped silently.
func (r *Resolver) ResolveReplies(ctx context.Context, parentHash string) []*Post {
	if parentHash == "" {
		return nil
	}
	records, err := r.store.Query(ctx, announcement.Filter{
		Types:       []announcement.Type{announcement.TypeReply},
		RelatedHash: parentHash,
	})
	if err != nil {
		r.logger.Warn("reply lookup failed, returning no replies",
			zap.String("parentHash", parentHash),
			zap.Error(err))
		return nil
	}

	replies := make([]*Post, 0, len(records))
	for _, record := range records {
		ann, err := record.Decode()
		if err != nil {
			r.logger.Warn("stored reply payload is malformed, skipping",
				zap.String("key", record.Key),
				zap.Error(err))
			continue
		}
		if reply := r.ResolveBroadcast(ctx, record.BlockNumber, ann); reply != nil {
			replies = append(replies, reply)
		}
	}
	return replies
}

// ResolveRange resolves every broadcast announcement in the inclusive block
// span and returns the successfully resolved posts grouped by block number.
// Bodies are fetched through the shared worker pool; sibling fetch failures
// are independent.
func (r *Resolver) ResolveRange(ctx context.Context, fromBlock, toBlock uint64) (map[uint64][]*Post, error) {
	records, err := r.store.Query(ctx, announcement.Filter{
		Types:     []announcement.Type{announcement.TypeBroadcast},
		FromBlock: &fromBlock,
		ToBlock:   &toBlock,
		Ascending: true,
	})
	if err != nil {
		return nil, newResolverError(opResolveRange, "store_query_failed", err)
	}
	if len(records) == 0 {
		return map[uint64][]*Post{}, nil
	}

	var (
		mu      sync.Mutex
		byBlock = make(map[uint64][]*Post)
	)
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, record := range records {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			ann, err := record.Decode()
			if err != nil {
				r.logger.Warn("stored announcement payload is malformed, skipping",
					zap.String("key", record.Key),
					zap.Error(err))
				return
			}
			post := r.ResolveBroadcast(groupCtx, record.BlockNumber, ann)
			if post == nil {
				return
			}
			post.Replies = r.ResolveReplies(groupCtx, post.ContentHash)
			mu.Lock()
			byBlock[record.BlockNumber] = append(byBlock[record.BlockNumber], post)
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("parallel content resolution encountered error",
			zap.Uint64("fromBlock", fromBlock),
			zap.Uint64("toBlock", toBlock),
			zap.Error(err))
	}
	return byBlock, nil
}

func (r *Resolver) fetchBody(ctx context.Context, url string) (json.RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxContentBodyBytes))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("content body is not valid JSON")
	}
	return body, nil
}
