package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	"github.com/dsnplabs/social-gateway/internal/clients"
	"github.com/dsnplabs/social-gateway/internal/content"
	"go.uber.org/zap"
)

// DefaultMaxBlockRange caps how many blocks a single feed request may span.
const DefaultMaxBlockRange = 45000

var (
	// ErrNoContent is the expected outcome of a specific-content lookup
	// that matches nothing. Callers map it to an empty HTTP response, not
	// to a failure.
	ErrNoContent = errors.New("feed: no matching content")

	errMissingPosts = errors.New("post source is required")
	errMissingStore = errors.New("announcement store is required")
	errMissingGraph = errors.New("graph client is required")
	errMissingHead  = errors.New("chain head provider is required")
	noOpLogger      = zap.NewNop()
)

// ServiceError carries a dotted operation code plus the HTTP-like status
// the router should answer with. Feed assembly is all-or-nothing: any
// upstream failure surfaces as a single service-unavailable error.
type ServiceError struct {
	code   string
	status int
	err    error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Status reports the HTTP status class of the failure.
func (e *ServiceError) Status() int {
	return e.status
}

const (
	opServiceNew      = "feed.service.new"
	opAssemble        = "feed.assemble"
	opSpecificContent = "feed.specific_content"
)

func newServiceError(operation, reason string, status int, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), status: status, err: cause}
}

// PostSource supplies resolved posts for an inclusive block span; the
// block-range cache is the production implementation.
type PostSource interface {
	GetPosts(ctx context.Context, newestBlock, oldestBlock uint64) ([]*content.Post, error)
}

// AnnouncementFinder answers filtered announcement queries; used to locate
// the block span of a specific piece of content.
type AnnouncementFinder interface {
	Query(ctx context.Context, filter announcement.Filter) ([]announcement.Record, error)
}

// Page is a block-range-bounded slice of a feed.
type Page struct {
	NewestBlockNumber uint64          `json:"newestBlockNumber"`
	OldestBlockNumber uint64          `json:"oldestBlockNumber"`
	Posts             []*content.Post `json:"posts"`
}

// Window carries the caller's requested block bounds; zero means "use the
// default" (chain head for newest, newest minus the range cap for oldest).
type Window struct {
	Newest uint64
	Oldest uint64
}

// ServiceConfig wires the feed assembler dependencies.
type ServiceConfig struct {
	Posts         PostSource
	Announcements AnnouncementFinder
	Graph         clients.Graph
	Head          clients.Head
	MaxBlockRange uint64
	Logger        *zap.Logger
}

// Service assembles the own, following and discovery feed views from the
// block-range cache and answers specific-content lookups.
type Service struct {
	posts         PostSource
	announcements AnnouncementFinder
	graph         clients.Graph
	head          clients.Head
	maxRange      uint64
	logger        *zap.Logger
}

// NewService validates dependencies and returns a feed Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Posts == nil {
		return nil, newServiceError(opServiceNew, "missing_post_source", http.StatusInternalServerError, errMissingPosts)
	}
	if cfg.Announcements == nil {
		return nil, newServiceError(opServiceNew, "missing_announcement_store", http.StatusInternalServerError, errMissingStore)
	}
	if cfg.Graph == nil {
		return nil, newServiceError(opServiceNew, "missing_graph_client", http.StatusInternalServerError, errMissingGraph)
	}
	if cfg.Head == nil {
		return nil, newServiceError(opServiceNew, "missing_head_provider", http.StatusInternalServerError, errMissingHead)
	}
	maxRange := cfg.MaxBlockRange
	if maxRange == 0 {
		maxRange = DefaultMaxBlockRange
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		posts:         cfg.Posts,
		announcements: cfg.Announcements,
		graph:         cfg.Graph,
		head:          cfg.Head,
		maxRange:      maxRange,
		logger:        logger,
	}, nil
}

// OwnFeed returns the requester's own posts inside the window.
func (s *Service) OwnFeed(ctx context.Context, msaID string, window Window) (Page, error) {
	return s.assemble(ctx, window, func(post *content.Post) bool {
		return post.FromID == msaID
	})
}

// FollowingFeed returns posts authored by the accounts the requester
// follows; the follow list is fetched fresh from the graph service.
func (s *Service) FollowingFeed(ctx context.Context, msaID string, window Window) (Page, error) {
	following, err := s.graph.Following(ctx, msaID)
	if err != nil {
		s.logError(opAssemble, "follow_list_failed", err, zap.String("msaId", msaID))
		return Page{}, newServiceError(opAssemble, "follow_list_failed", http.StatusServiceUnavailable, err)
	}
	followed := make(map[string]struct{}, len(following))
	for _, id := range following {
		followed[id] = struct{}{}
	}
	return s.assemble(ctx, window, func(post *content.Post) bool {
		_, ok := followed[post.FromID]
		return ok
	})
}

// DiscoverFeed returns posts authored by anyone other than the requester.
func (s *Service) DiscoverFeed(ctx context.Context, msaID string, window Window) (Page, error) {
	return s.assemble(ctx, window, func(post *content.Post) bool {
		return post.FromID != msaID
	})
}

// SpecificContent finds the single post identified by (msaId, contentHash).
// It resolves only the narrow block span the matching announcements occupy.
func (s *Service) SpecificContent(ctx context.Context, msaID, contentHash string) (*content.Post, error) {
	records, err := s.announcements.Query(ctx, announcement.Filter{
		MSAIDs:      []string{msaID},
		ContentHash: contentHash,
	})
	if err != nil {
		s.logError(opSpecificContent, "store_query_failed", err, zap.String("msaId", msaID))
		return nil, newServiceError(opSpecificContent, "store_query_failed", http.StatusServiceUnavailable, err)
	}
	if len(records) == 0 {
		return nil, ErrNoContent
	}

	newest, oldest := records[0].BlockNumber, records[0].BlockNumber
	for _, record := range records[1:] {
		if record.BlockNumber > newest {
			newest = record.BlockNumber
		}
		if record.BlockNumber < oldest {
			oldest = record.BlockNumber
		}
	}

	posts, err := s.posts.GetPosts(ctx, newest, oldest)
	if err != nil {
		s.logError(opSpecificContent, "resolve_failed", err, zap.String("msaId", msaID))
		return nil, newServiceError(opSpecificContent, "resolve_failed", http.StatusServiceUnavailable, err)
	}
	for _, post := range posts {
		if post.FromID == msaID && post.ContentHash == contentHash {
			return post, nil
		}
	}
	return nil, ErrNoContent
}

func (s *Service) assemble(ctx context.Context, window Window, keep func(*content.Post) bool) (Page, error) {
	newest, oldest, err := s.resolveWindow(ctx, window)
	if err != nil {
		s.logError(opAssemble, "head_lookup_failed", err)
		return Page{}, newServiceError(opAssemble, "head_lookup_failed", http.StatusServiceUnavailable, err)
	}

	posts, err := s.posts.GetPosts(ctx, newest, oldest)
	if err != nil {
		s.logError(opAssemble, "fetch_failed", err,
			zap.Uint64("newestBlock", newest),
			zap.Uint64("oldestBlock", oldest))
		return Page{}, newServiceError(opAssemble, "fetch_failed", http.StatusServiceUnavailable, err)
	}

	filtered := make([]*content.Post, 0, len(posts))
	for _, post := range posts {
		if keep(post) {
			filtered = append(filtered, post)
		}
	}
	return Page{NewestBlockNumber: newest, OldestBlockNumber: oldest, Posts: filtered}, nil
}

// resolveWindow fills window defaults: newest falls back to the chain head
// and oldest is clamped to at most maxRange blocks below newest, never
// below block 1.
func (s *Service) resolveWindow(ctx context.Context, window Window) (newest, oldest uint64, err error) {
	newest = window.Newest
	if newest == 0 {
		newest, err = s.head.LatestBlock(ctx)
		if err != nil {
			return 0, 0, err
		}
	}

	oldest = 1
	if newest > s.maxRange {
		oldest = newest - s.maxRange
	}
	if window.Oldest > oldest {
		oldest = window.Oldest
	}
	if oldest > newest {
		oldest = newest
	}
	return newest, oldest, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("error fetching feed", attrs...)
}
