// Package domain holds the in-memory shapes shared across the pipeline:
// raw channel messages as the feed adapter produces them, album-aware
// post units, engagement metrics, media acquisition outcomes, and the
// persistable post record.
package domain

import "time"

// MediaKind classifies an attachment for branding and storage purposes.
type MediaKind string

// Media kinds.
const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindOther MediaKind = "other"
)

// ReactionEntry is one raw reaction counter on a message. Key resolution
// (emoji vs custom:<id> vs fallback) happens in the engagement package,
// not here.
type ReactionEntry struct {
	Emoticon   string // Unicode emoji, empty for custom reactions
	DocumentID int64  // custom emoji document id, 0 when absent
	Fallback   string // last-resort string form of the reaction
	Count      int
}

// MediaRef describes an attachment on a raw message. SizeBytes is a
// probe value known before any bytes are fetched. Handle is an opaque
// download token owned by the feed adapter that produced the message.
type MediaRef struct {
	SizeBytes int64
	Kind      MediaKind
	MimeType  string
	Filename  string
	Handle    any
}

// RawMessage is one channel message as fetched from the feed, with
// explicit optional fields defaulted at the adapter boundary. The core
// never probes unknown-shaped objects.
type RawMessage struct {
	ID        int64
	Date      time.Time
	GroupedID int64 // album grouping id, 0 for standalone messages
	Text      string
	Media     *MediaRef
	Views     int
	Comments  int
	Reactions []ReactionEntry
}

// PostUnit is one logical post: all members of an album, or a single
// standalone message. Members are ordered by (Date, ID) ascending.
type PostUnit struct {
	GroupedID int64 // 0 for singleton units
	Members   []RawMessage
}

// CanonicalID returns the unit's external identifier: the earliest
// member's message id.
func (u PostUnit) CanonicalID() int64 {
	if len(u.Members) == 0 {
		return 0
	}

	return u.Members[0].ID
}

// MessageIDs returns the ids of all constituent messages in member order.
func (u PostUnit) MessageIDs() []int64 {
	ids := make([]int64, len(u.Members))
	for i, m := range u.Members {
		ids[i] = m.ID
	}

	return ids
}

// IsMerged reports whether the unit collapses more than one message.
func (u PostUnit) IsMerged() bool {
	return len(u.Members) > 1
}

// MetricSet is the engagement counters of one message, or of a whole
// unit after merging. Likes is the sum of reaction counts at extraction
// time; after an album merge it is the per-member maximum and is not
// reconciled with the merged Reactions breakdown.
type MetricSet struct {
	Views     int
	Comments  int
	Likes     int
	Reactions map[string]int
}

// MediaResult is the outcome of acquiring one message's attachment.
// Either Path points at a processed local file, or Oversized is set and
// no bytes were fetched.
type MediaResult struct {
	Path            string
	Kind            MediaKind
	MimeType        string
	Oversized       bool
	SizeBytes       int64
	SourceMessageID int64
}

// ChannelInfo holds display metadata for a source channel.
type ChannelInfo struct {
	Title    string
	Username string
}

// Post is the persistable record derived from one PostUnit. The storage
// layer owns it after insert; the pipeline keeps only the returned id
// for the media-attach step.
type Post struct {
	ID                string
	SourceChannel     string
	ChannelTitle      string
	ChannelUsername   string
	OriginalMessageID int64
	OriginalIDs       []int64
	OriginalDate      time.Time
	Content           string
	TranslatedContent string
	TargetLang        string
	HasMedia          bool
	MediaCount        int
	IsMerged          bool
	IsTopPost         bool
	Views             int
	Likes             int
	Comments          int
	Reactions         map[string]int
	SavedAt           time.Time
}

// MediaRow is one persisted media record attached to a post. Oversized
// rows carry no stored bytes, only a deferred-download descriptor.
type MediaRow struct {
	ID            string
	PostID        string
	MediaType     string
	MimeType      string
	URL           string
	StoragePath   string
	OrderIndex    int
	FileSizeBytes int64
	IsOversized   bool
	IsLoaded      bool
	TGMessageID   int64
	TGChannel     string
}

// ProgressState is the per-user pipeline progress document mirrored to
// storage after every mutation.
type ProgressState struct {
	UserID    string
	Processed int
	Total     int
	IsRunning bool
	Finished  bool
	Channels  map[string]int64 // channel -> last seen message id
	UpdatedAt time.Time
}
