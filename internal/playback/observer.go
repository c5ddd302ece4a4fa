package playback

import (
	"github.com/llehouerou/wavestream/internal/dispatch"
	"github.com/llehouerou/wavestream/internal/engine"
)

// signalHandler interprets the raw signals relayed by an observer. Its
// methods run on the controller queue.
type signalHandler interface {
	timeControlChanged(status engine.TimeControlStatus)
	itemStatusChanged(item engine.Item, status engine.ItemStatus)
	itemDurationChanged(item engine.Item)
	itemMetadata(item engine.Item, groups []engine.MetadataGroup)
	itemEnded(item engine.Item)
}

// observer relays transport and item signals onto the controller queue
// without interpreting them. Signals from a previous attachment that are
// still queued when it detaches are dropped.
type observer struct {
	exec    dispatch.Executor
	handler signalHandler

	// Only touched on the controller queue.
	gen     uint64
	cancels []func()
}

func newObserver(exec dispatch.Executor, h signalHandler) *observer {
	return &observer{exec: exec, handler: h}
}

// attach starts observing t and item and delivers their current statuses.
func (o *observer) attach(t engine.Transport, item engine.Item) {
	o.detach()
	gen := o.gen

	relay := func(fn func()) {
		o.exec.Post(func() {
			if o.gen == gen {
				fn()
			}
		})
	}

	o.cancels = append(o.cancels,
		t.ObserveTimeControlStatus(func(s engine.TimeControlStatus) {
			relay(func() { o.handler.timeControlChanged(s) })
		}),
		item.Observe(engine.ItemObserver{
			StatusChanged: func(s engine.ItemStatus) {
				relay(func() { o.handler.itemStatusChanged(item, s) })
			},
			DurationChanged: func(float64) {
				relay(func() { o.handler.itemDurationChanged(item) })
			},
			MetadataReceived: func(groups []engine.MetadataGroup) {
				relay(func() { o.handler.itemMetadata(item, groups) })
			},
			Ended: func() {
				relay(func() { o.handler.itemEnded(item) })
			},
		}),
	)

	status := t.TimeControlStatus()
	relay(func() { o.handler.timeControlChanged(status) })
	if s := item.Status(); s != engine.ItemUnknown {
		relay(func() { o.handler.itemStatusChanged(item, s) })
	}
}

// detach stops observing and invalidates signals already queued.
func (o *observer) detach() {
	for _, cancel := range o.cancels {
		cancel()
	}
	o.cancels = nil
	o.gen++
}
