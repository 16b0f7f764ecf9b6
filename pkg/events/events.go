// Package events provides explicit lifecycle signal dispatch. Observers
// register callbacks on a Bus; producers emit fire-and-forget events.
package events

import (
	"sync"
	"time"

	"meridian/pkg/types"
)

type Type string

const (
	AssetAdded            Type = "asset.added"
	VariantsGenerated     Type = "asset.variants_generated"
	AssetDistributed      Type = "asset.distributed"
	AssetServed           Type = "asset.served"
	AssetPurged           Type = "asset.purged"
	MetricsUpdated        Type = "metrics.updated"
	DistributionOptimized Type = "distribution.optimized"
	AssetsSynced          Type = "assets.synced"
	RequestsCleaned       Type = "requests.cleaned"
)

type Event struct {
	Type    Type
	AssetID types.AssetID
	Nodes   []types.NodeID
	Detail  map[string]any
	Time    time.Time
}

// Bus fans an event out to every subscribed handler. Handlers run on the
// emitter's goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

func (b *Bus) Emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.RLock()
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
