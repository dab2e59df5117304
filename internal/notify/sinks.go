// Package notify tells the outside world that an alias moved to a new index
// version. Every sink is best-effort: the swap has already happened when
// they run.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/refresh"
)

// Sink receives one swap.
type Sink interface {
	Name() string
	Notify(ctx context.Context, swap refresh.Swap) error
}

// PrefixDeleter is the part of pkg/redis the cache invalidator needs.
type PrefixDeleter interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// CacheInvalidator drops cached query results of the swapped alias. Cache
// keys are expected to look like <prefix><alias>:<anything>.
type CacheInvalidator struct {
	cache  PrefixDeleter
	prefix string
	logger *slog.Logger
}

func NewCacheInvalidator(cache PrefixDeleter, keyPrefix string) *CacheInvalidator {
	return &CacheInvalidator{
		cache:  cache,
		prefix: keyPrefix,
		logger: slog.Default().With("component", "cache-invalidator"),
	}
}

func (c *CacheInvalidator) Name() string { return "redis" }

func (c *CacheInvalidator) Notify(ctx context.Context, swap refresh.Swap) error {
	prefix := c.prefix + swap.Alias + ":"
	n, err := c.cache.DeleteByPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", prefix, err)
	}
	c.logger.Info("query cache invalidated", "alias", swap.Alias, "keys", n)
	return nil
}

// Publisher is the part of pkg/kafka the event publisher needs.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// SwapEvent is the payload of the index-swapped topic.
type SwapEvent struct {
	Alias        string       `json:"alias"`
	PreviousPath string       `json:"previous_path,omitempty"`
	NewPath      string       `json:"new_path"`
	Revision     string       `json:"revision,omitempty"`
	Artifacts    layout.State `json:"artifacts"`
	SwappedAt    time.Time    `json:"swapped_at"`
}

// EventPublisher emits a SwapEvent keyed by alias.
type EventPublisher struct {
	producer Publisher
}

func NewEventPublisher(p Publisher) *EventPublisher {
	return &EventPublisher{producer: p}
}

func (e *EventPublisher) Name() string { return "kafka" }

func (e *EventPublisher) Notify(ctx context.Context, swap refresh.Swap) error {
	return e.producer.Publish(ctx, swap.Alias, SwapEvent{
		Alias:        swap.Alias,
		PreviousPath: swap.PreviousPath,
		NewPath:      swap.NewPath,
		Revision:     swap.Revision,
		Artifacts:    swap.Artifacts,
		SwappedAt:    swap.SwappedAt,
	})
}
