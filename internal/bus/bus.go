// Package bus normalizes messages between channel adapters and the core.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/pkg/models"
)

// Adapter is the contract every channel adapter implements. An adapter
// signals reception by delivering InboundMessages on its Messages channel;
// the bus fans them out to subscribers.
type Adapter interface {
	// Start begins listening for messages. It should establish
	// connections and start receiving before returning.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter and closes its Messages
	// channel.
	Stop(ctx context.Context) error

	// Send delivers one outbound message to the platform.
	Send(ctx context.Context, msg models.OutboundMessage) error

	// Messages returns the channel of inbound messages. Closed on Stop.
	Messages() <-chan models.InboundMessage

	// Type returns the channel name (console, telegram, ...).
	Type() models.ChannelType
}

// Handler consumes one inbound message. Delivery is at-most-once per
// subscriber per message within the process; durability lives in the
// delivery queue, not here.
type Handler func(ctx context.Context, msg models.InboundMessage)

// Bus registers channel adapters, applies per-channel allow-lists, and
// dispatches inbound messages to subscribers.
type Bus struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu         sync.RWMutex
	adapters   map[models.ChannelType]Adapter
	allowLists map[models.ChannelType]map[string]struct{}
	handlers   []Handler
	dropped    map[models.ChannelType]int64
}

// New creates an empty bus. Logger and metrics may be nil.
func New(logger *observability.Logger, metrics *observability.Metrics) *Bus {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Bus{
		logger:     logger,
		metrics:    metrics,
		adapters:   make(map[models.ChannelType]Adapter),
		allowLists: make(map[models.ChannelType]map[string]struct{}),
		dropped:    make(map[models.ChannelType]int64),
	}
}

// Register adds an adapter with an optional sender allow-list. An empty
// allow-list admits every sender.
func (b *Bus) Register(adapter Adapter, allowedSenders []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.adapters[adapter.Type()] = adapter
	if len(allowedSenders) > 0 {
		set := make(map[string]struct{}, len(allowedSenders))
		for _, sender := range allowedSenders {
			set[sender] = struct{}{}
		}
		b.allowLists[adapter.Type()] = set
	}
}

// Subscribe registers a handler for all admitted inbound messages.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Adapter returns the adapter for a channel.
func (b *Bus) Adapter(channel models.ChannelType) (Adapter, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	adapter, ok := b.adapters[channel]
	return adapter, ok
}

// Send routes one outbound message to its channel adapter.
func (b *Bus) Send(ctx context.Context, msg models.OutboundMessage) error {
	adapter, ok := b.Adapter(msg.Channel)
	if !ok {
		return fmt.Errorf("bus: no adapter for channel %q", msg.Channel)
	}
	if err := adapter.Send(ctx, msg); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.MessageCounter.WithLabelValues(string(msg.Channel), string(models.DirectionOutbound)).Inc()
	}
	return nil
}

// Start starts every adapter and begins pumping their messages to
// subscribers. It returns after all adapters have started; pumping continues
// until ctx is cancelled or the adapter closes its channel.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.RLock()
	adapters := make([]Adapter, 0, len(b.adapters))
	for _, a := range b.adapters {
		adapters = append(adapters, a)
	}
	b.mu.RUnlock()

	for _, adapter := range adapters {
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("bus: start %s: %w", adapter.Type(), err)
		}
		go b.pump(ctx, adapter)
	}
	return nil
}

// Stop stops every adapter, returning the last error seen.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.RLock()
	adapters := make([]Adapter, 0, len(b.adapters))
	for _, a := range b.adapters {
		adapters = append(adapters, a)
	}
	b.mu.RUnlock()

	var lastErr error
	for _, adapter := range adapters {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// DroppedCount reports how many messages were dropped by the channel's
// allow-list.
func (b *Bus) DroppedCount(channel models.ChannelType) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[channel]
}

func (b *Bus) pump(ctx context.Context, adapter Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-adapter.Messages():
			if !ok {
				return
			}
			b.Publish(ctx, msg)
		}
	}
}

// Publish runs allow-list checks and dispatches one inbound message to all
// subscribers. Exposed so tests and in-process producers can inject
// messages without an adapter.
func (b *Bus) Publish(ctx context.Context, msg models.InboundMessage) {
	b.mu.RLock()
	allowed := b.admit(msg)
	handlers := append([]Handler{}, b.handlers...)
	b.mu.RUnlock()

	if !allowed {
		b.mu.Lock()
		b.dropped[msg.Channel]++
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.DroppedSenders.WithLabelValues(string(msg.Channel)).Inc()
		}
		return
	}

	if b.metrics != nil {
		b.metrics.MessageCounter.WithLabelValues(string(msg.Channel), string(models.DirectionInbound)).Inc()
	}
	for _, handler := range handlers {
		handler(ctx, msg)
	}
}

// admit is called with the read lock held.
func (b *Bus) admit(msg models.InboundMessage) bool {
	allowList, ok := b.allowLists[msg.Channel]
	if !ok || len(allowList) == 0 {
		return true
	}
	_, ok = allowList[msg.SenderID]
	return ok
}
