package announcement

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Type enumerates the on-chain announcement kinds understood by the gateway.
type Type string

const (
	TypeTombstone     Type = "Tombstone"
	TypeBroadcast     Type = "Broadcast"
	TypeReply         Type = "Reply"
	TypeReaction      Type = "Reaction"
	TypeProfile       Type = "Profile"
	TypeUpdate        Type = "Update"
	TypePublicFollows Type = "PublicFollows"
)

var (
	// ErrUnknownType indicates an announcement type outside the supported enum.
	ErrUnknownType = errors.New("announcement: unknown announcement type")
	// ErrMissingFromID indicates an announcement without an originating account.
	ErrMissingFromID = errors.New("announcement: fromId is required")
)

// ParseType validates a raw announcement type tag.
func ParseType(raw string) (Type, error) {
	switch Type(strings.TrimSpace(raw)) {
	case TypeTombstone:
		return TypeTombstone, nil
	case TypeBroadcast:
		return TypeBroadcast, nil
	case TypeReply:
		return TypeReply, nil
	case TypeReaction:
		return TypeReaction, nil
	case TypeProfile:
		return TypeProfile, nil
	case TypeUpdate:
		return TypeUpdate, nil
	case TypePublicFollows:
		return TypePublicFollows, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
}

// Announcement is the compact on-chain record pushed by the content watcher.
// Only the fields relevant to the announcement's type are populated.
type Announcement struct {
	Type        Type   `json:"announcementType"`
	FromID      string `json:"fromId"`
	SchemaID    uint16 `json:"schemaId,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	URL         string `json:"url,omitempty"`
	InReplyTo   string `json:"inReplyTo,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	TargetHash  string `json:"targetContentHash,omitempty"`
	TargetType  Type   `json:"targetAnnouncementType,omitempty"`
}

// Envelope is the webhook payload wrapping an announcement with the block it
// was recorded in.
type Envelope struct {
	Announcement Announcement `json:"announcement"`
	BlockNumber  uint64       `json:"blockNumber"`
}

// Validate checks the invariants required before an announcement may be
// stored.
func (a Announcement) Validate() error {
	if _, err := ParseType(string(a.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(a.FromID) == "" {
		return ErrMissingFromID
	}
	return nil
}

// Key derives the unique storage identity {blockNumber}:{fromId}:{hash}.
// Types that do not carry a content hash get a synthetic hash over the
// canonical JSON encoding so the key is still unique per announcement.
func (a Announcement) Key(blockNumber uint64) string {
	return fmt.Sprintf("%d:%s:%s", blockNumber, a.FromID, a.keyHash())
}

func (a Announcement) keyHash() string {
	switch a.Type {
	case TypeBroadcast, TypeReply, TypeProfile, TypeUpdate:
		if a.ContentHash != "" {
			return a.ContentHash
		}
		return a.syntheticHash()
	case TypeTombstone, TypeReaction, TypePublicFollows:
		return a.syntheticHash()
	default:
		return a.syntheticHash()
	}
}

func (a Announcement) syntheticHash() string {
	encoded, err := json.Marshal(a)
	if err != nil {
		// Announcement is a plain value type; marshalling cannot fail in
		// practice, but a stable fallback keeps Key total.
		encoded = []byte(a.FromID + string(a.Type))
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// RelatedHash returns the content hash of the parent announcement this one
// responds to. The boolean is false for root content (Broadcast, Profile,
// PublicFollows) and for reply-like announcements whose parent reference is
// malformed.
func (a Announcement) RelatedHash() (string, bool) {
	switch a.Type {
	case TypeReply, TypeReaction:
		_, hash, ok := ParseContentURI(a.InReplyTo)
		if !ok || hash == "" {
			return "", false
		}
		return hash, true
	case TypeTombstone, TypeUpdate:
		if a.TargetHash == "" {
			return "", false
		}
		return a.TargetHash, true
	case TypeBroadcast, TypeProfile, TypePublicFollows:
		return "", false
	default:
		return "", false
	}
}

// contentURIPattern matches structured content references of the form
// scheme://accountId/contentHash.
var contentURIPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://([^/]+)/(.+)$`)

// ParseContentURI extracts the account id and content hash from a content
// URI. Malformed URIs return ok=false; callers skip the announcement rather
// than failing resolution.
func ParseContentURI(uri string) (accountID, contentHash string, ok bool) {
	matches := contentURIPattern.FindStringSubmatch(strings.TrimSpace(uri))
	if matches == nil {
		return "", "", false
	}
	return matches[1], matches[2], true
}
