package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source tags attached to stored items. The tag records which channel the
// content came from and drives the citation policy.
const (
	SourceFinalChanges = "final_changes"
	SourceDocs         = "docs"
	SourceIdeas        = "ideas_channel"
	SourceMention      = "mention"
	SourceMentionPush  = "mention_push"
	SourceAgent        = "agent"
)

// DefaultPublicSources are the source tags whose items are citable in
// customer mode regardless of their individual public flag.
var DefaultPublicSources = []string{"docs", "tickets", "public_ticket"}

// Metadata carries the provenance of a knowledge item.
type Metadata struct {
	Source        string `json:"source"`
	Author        string `json:"author,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ChunkIndex    int    `json:"chunk_index"`
	TimestampKey  string `json:"ts"`
	ThreadKey     string `json:"thread_ts,omitempty"`
	SourceOfTruth bool   `json:"source_of_truth"`
	Public        bool   `json:"public"`
}

// KnowledgeItem is a stored unit of text, embedding and provenance metadata
// eligible for retrieval. Vector is nil when embedding failed at ingest time
// and the item is awaiting backfill.
type KnowledgeItem struct {
	ID        string
	Text      string
	Vector    []float32
	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IngestionKey is the unique identity of one inbound event: the channel it
// arrived on plus the platform-assigned event timestamp.
type IngestionKey struct {
	ChannelKey   string
	TimestampKey string
}

func (k IngestionKey) String() string {
	return k.ChannelKey + ":" + k.TimestampKey
}

// Validate checks that the key identifies a concrete event.
func (k IngestionKey) Validate() error {
	if k.ChannelKey == "" || k.TimestampKey == "" {
		return ErrInvalidIngestionKey
	}
	return nil
}

// ItemFilter selects stored items by metadata fields. Zero-valued fields are
// ignored; at least one field must be set for destructive operations.
type ItemFilter struct {
	TimestampKey string
	ThreadKey    string
	Filename     string
	Source       string
}

// IsZero reports whether the filter matches everything.
func (f ItemFilter) IsZero() bool {
	return f == ItemFilter{}
}

func (f ItemFilter) String() string {
	parts := make([]string, 0, 4)
	if f.TimestampKey != "" {
		parts = append(parts, "ts="+f.TimestampKey)
	}
	if f.ThreadKey != "" {
		parts = append(parts, "thread="+f.ThreadKey)
	}
	if f.Filename != "" {
		parts = append(parts, "file="+f.Filename)
	}
	if f.Source != "" {
		parts = append(parts, "source="+f.Source)
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, " "))
}

// IsPublic reports whether an item may be cited in customer mode: either its
// metadata marks it public, or its source tag is on the allowlist.
func IsPublic(m Metadata, allowlist []string) bool {
	if m.Public {
		return true
	}
	for _, src := range allowlist {
		if m.Source == src {
			return true
		}
	}
	return false
}
