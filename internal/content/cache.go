package content

import (
	"context"
	"errors"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

var errMissingResolver = errors.New("block resolver is required")

// BlockResolver supplies resolved posts for an inclusive block span. The
// content Resolver is the production implementation.
type BlockResolver interface {
	ResolveRange(ctx context.Context, fromBlock, toBlock uint64) (map[uint64][]*Post, error)
}

// blockRange is an inclusive closed span of block numbers.
type blockRange struct {
	from uint64
	to   uint64
}

// CacheConfig wires the block-range cache dependencies.
type CacheConfig struct {
	Resolver BlockResolver
	Logger   *zap.Logger
}

// Cache remembers resolved posts per block so repeated feed queries over
// overlapping spans do not re-fetch content bodies.
//
// A block number is present only when it yielded at least one resolved
// post. Empty blocks stay absent so an announcement that lands in an
// already-scanned block becomes visible on the next lookup spanning it.
// Entries are never evicted. Concurrent lookups over overlapping spans may
// resolve the same span twice; the per-block writes are idempotent, so that
// is redundant work, not a correctness problem.
type Cache struct {
	resolver BlockResolver
	blocks   *xsync.Map[uint64, []*Post]
	logger   *zap.Logger
}

// NewCache validates dependencies and returns an empty Cache. One cache is
// created at process start and shared by every feed query.
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Cache{
		resolver: cfg.Resolver,
		blocks:   xsync.NewMap[uint64, []*Post](),
		logger:   logger,
	}, nil
}

// GetPosts returns every cached or newly resolved post in the inclusive
// span [oldestBlock, newestBlock], newest block first, each block's posts
// in their resolution order.
func (c *Cache) GetPosts(ctx context.Context, newestBlock, oldestBlock uint64) ([]*Post, error) {
	if oldestBlock > newestBlock {
		newestBlock, oldestBlock = oldestBlock, newestBlock
	}

	for _, span := range c.missingRanges(newestBlock, oldestBlock) {
		resolved, err := c.resolver.ResolveRange(ctx, span.from, span.to)
		if err != nil {
			return nil, err
		}
		for block, posts := range resolved {
			if len(posts) == 0 {
				continue
			}
			c.blocks.Store(block, posts)
		}
	}

	var posts []*Post
	for block := newestBlock; ; block-- {
		if cached, ok := c.blocks.Load(block); ok {
			posts = append(posts, cached...)
		}
		if block == oldestBlock {
			break
		}
	}
	return posts, nil
}

// missingRanges returns the uncached block numbers of [oldestBlock,
// newestBlock] coalesced into contiguous closed ranges. Missing numbers are
// collected in ascending order before merging, so adjacent gaps always
// coalesce into a single store query.
func (c *Cache) missingRanges(newestBlock, oldestBlock uint64) []blockRange {
	var missing []uint64
	for block := oldestBlock; block <= newestBlock; block++ {
		if _, ok := c.blocks.Load(block); !ok {
			missing = append(missing, block)
		}
	}
	return coalesce(missing)
}

func coalesce(blocks []uint64) []blockRange {
	if len(blocks) == 0 {
		return nil
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	ranges := []blockRange{{from: blocks[0], to: blocks[0]}}
	for _, block := range blocks[1:] {
		current := &ranges[len(ranges)-1]
		if block == current.to || block == current.to+1 {
			current.to = block
			continue
		}
		ranges = append(ranges, blockRange{from: block, to: block})
	}
	return ranges
}
