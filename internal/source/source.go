// Package source abstracts the remote systems channels are crawled from.
package source

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrEntityNotFound is returned when an id does not resolve to anything
	ErrEntityNotFound = errors.New("entity not found")
	// ErrNotChannel is returned when an id resolves to something other than a channel
	ErrNotChannel = errors.New("entity is not a channel")
	// ErrRateLimited is returned when the remote side rejects a request for rate reasons
	ErrRateLimited = errors.New("rate limited by source")
)

// EntityKind is the kind of object an id resolves to
type EntityKind string

const (
	KindChannel EntityKind = "channel"
	KindGroup   EntityKind = "group"
	KindUser    EntityKind = "user"
)

// Entity is a resolved source object
type Entity struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Username string     `json:"username"`
	Kind     EntityKind `json:"type"`
}

// IsChannel reports whether the entity can be crawled
func (e *Entity) IsChannel() bool {
	return e != nil && e.Kind == KindChannel
}

// Message is a raw message as delivered by a connector
type Message struct {
	ID       int64     `json:"id"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
	Views    int64     `json:"views"`
	Forwards int64     `json:"forwards"`
	Media    string    `json:"media"` // "photo", "video", "document", other values or "" for none
}

// IterOptions bounds a message iteration
type IterOptions struct {
	// Limit caps the number of messages yielded; 0 means no cap.
	Limit int
	// Since stops iteration at the first message published before it.
	Since *time.Time
}

// Connector reads channels from one external system.
type Connector interface {
	// ResolveEntity looks up an id on the remote side.
	ResolveEntity(ctx context.Context, id string) (*Entity, error)

	// Messages yields the entity's messages newest first. The sequence is
	// lazy and finite. It keeps no cursor between ranges, so ranging over
	// it again fetches from the source again. A non-nil error ends it.
	Messages(ctx context.Context, entity *Entity, opts IterOptions) iter.Seq2[*Message, error]
}
