package content

import "encoding/json"

// Post is a resolved feed item: a Broadcast or Reply announcement joined
// with its off-chain content body and, for root posts, the replies that
// reference it.
type Post struct {
	FromID      string          `json:"fromId"`
	ContentHash string          `json:"contentHash"`
	BlockNumber uint64          `json:"blockNumber"`
	URL         string          `json:"url"`
	Content     json.RawMessage `json:"content"`
	Replies     []*Post         `json:"replies,omitempty"`
}
