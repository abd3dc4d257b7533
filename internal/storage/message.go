package storage

import "time"

// MediaKind classifies the attachment carried by a message
type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// IndexedMessage represents one channel message in our search index.
// (ChannelID, MessageID) identifies at most one row. Empty Text and
// NormalizedText are stored as NULL; NormalizedText is always
// NormalizeText(Text). IndexedAt is set on first insert, LastUpdatedAt on
// every upsert.
type IndexedMessage struct {
	ID             int64      `db:"id" json:"-"`
	ChannelID      string     `db:"channel_id" json:"channel_id"`
	MessageID      int64      `db:"message_id" json:"message_id"`
	Text           string     `db:"text" json:"text"`
	NormalizedText string     `db:"text_normalized" json:"-"`
	Date           *time.Time `db:"date" json:"date,omitempty"`
	Views          int64      `db:"views" json:"views"`
	Forwards       int64      `db:"forwards" json:"forwards"`
	HasMedia       bool       `db:"has_media" json:"has_media"`
	MediaKind      MediaKind  `db:"media_type" json:"media_type"`
	IndexedAt      time.Time  `db:"indexed_at" json:"indexed_at"`
	LastUpdatedAt  time.Time  `db:"last_updated_at" json:"last_updated_at"`
}

// Engagement is the primary ranking signal
func (m *IndexedMessage) Engagement() int64 {
	return m.Views + m.Forwards
}

// WasUpdated reports whether the row has been written more than once.
// Upsert's created flag is authoritative; this is a derived view.
func (m *IndexedMessage) WasUpdated() bool {
	return m.LastUpdatedAt.After(m.IndexedAt)
}

// Channel is a curated source in the channel registry
type Channel struct {
	ID          int64     `db:"id" json:"-"`
	ChannelID   string    `db:"channel_id" json:"channel_id"`
	Username    string    `db:"username" json:"username,omitempty"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	Rating      int       `db:"rating" json:"rating"`
	AddedAt     time.Time `db:"added_at" json:"added_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ChannelStats summarizes what is stored for one channel
type ChannelStats struct {
	ChannelID     string     `json:"channel_id"`
	TotalMessages int        `json:"total_messages"`
	TotalViews    int64      `json:"total_views"`
	TotalForwards int64      `json:"total_forwards"`
	LatestMessage *time.Time `json:"latest_message,omitempty"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// ScanFilter selects stored messages for Scan
type ScanFilter struct {
	// Contains is matched as a substring of the normalized text.
	// Empty matches every message that has text.
	Contains   string
	ChannelIDs []string
}
