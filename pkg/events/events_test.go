package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"meridian/pkg/types"
)

func TestBusFansOutToAllHandlers(t *testing.T) {
	bus := NewBus()

	var first, second []Type
	bus.Subscribe(func(e Event) { first = append(first, e.Type) })
	bus.Subscribe(func(e Event) { second = append(second, e.Type) })

	bus.Emit(Event{Type: AssetAdded, AssetID: types.AssetID("a1")})
	bus.Emit(Event{Type: AssetPurged, AssetID: types.AssetID("a1")})

	assert.Equal(t, []Type{AssetAdded, AssetPurged}, first)
	assert.Equal(t, []Type{AssetAdded, AssetPurged}, second)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Emit(Event{Type: MetricsUpdated})
	})
}

func TestEmitFillsTimestamp(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })
	bus.Emit(Event{Type: AssetServed})

	assert.False(t, got.Time.IsZero())
}
