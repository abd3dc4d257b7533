// Package sourcetest provides an in-memory source.Connector for tests.
package sourcetest

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/renderinc/channel-search/internal/source"
)

// Connector serves fixed entities and messages. Messages are yielded
// newest first by Date regardless of insertion order.
type Connector struct {
	mu        sync.Mutex
	entities  map[string]*source.Entity
	messages  map[string][]*source.Message
	failAfter map[string]failure

	Resolves   int
	Iterations int
}

type failure struct {
	after int
	err   error
}

// New creates an empty connector
func New() *Connector {
	return &Connector{
		entities:  make(map[string]*source.Entity),
		messages:  make(map[string][]*source.Message),
		failAfter: make(map[string]failure),
	}
}

// AddChannel registers a crawlable channel with its messages
func (c *Connector) AddChannel(id, title string, msgs ...*source.Message) {
	c.AddEntity(&source.Entity{ID: id, Title: title, Kind: source.KindChannel}, msgs...)
}

// AddEntity registers any entity with its messages
func (c *Connector) AddEntity(entity *source.Entity, msgs ...*source.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := append([]*source.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	c.entities[entity.ID] = entity
	c.messages[entity.ID] = sorted
}

// FailAfter makes iteration of id return err after n messages
func (c *Connector) FailAfter(id string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAfter[id] = failure{after: n, err: err}
}

func (c *Connector) ResolveEntity(ctx context.Context, id string) (*source.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Resolves++
	entity, ok := c.entities[id]
	if !ok {
		return nil, source.ErrEntityNotFound
	}
	copied := *entity
	return &copied, nil
}

func (c *Connector) Messages(ctx context.Context, entity *source.Entity, opts source.IterOptions) iter.Seq2[*source.Message, error] {
	return func(yield func(*source.Message, error) bool) {
		c.mu.Lock()
		c.Iterations++
		msgs := c.messages[entity.ID]
		fail, failing := c.failAfter[entity.ID]
		c.mu.Unlock()

		for i, msg := range msgs {
			if failing && i == fail.after {
				yield(nil, fail.err)
				return
			}
			if opts.Limit > 0 && i >= opts.Limit {
				return
			}
			if opts.Since != nil && !msg.Date.IsZero() && msg.Date.Before(*opts.Since) {
				return
			}
			copied := *msg
			if !yield(&copied, nil) {
				return
			}
		}

		if failing && fail.after >= len(msgs) {
			yield(nil, fail.err)
		}
	}
}
