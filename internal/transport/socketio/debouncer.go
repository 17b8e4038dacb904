package socketio

import (
	"sync"
	"time"
)

// Change topics understood by BroadcastDebouncer.
const (
	TopicActive      = "active"
	TopicConnections = "connections"
)

// BroadcastDebouncer collapses bursts of connection changes into batched
// broadcasts. Several changes within the window produce one broadcast per
// affected payload (active connection and/or connection list).
type BroadcastDebouncer struct {
	window         time.Duration
	activeCallback func()
	listCallback   func()

	mu            sync.Mutex
	pendingActive bool
	pendingList   bool
	timer         *time.Timer
	stopped       bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// activeCallback broadcasts the active connection, listCallback the stored
// connection list.
func NewBroadcastDebouncer(window time.Duration, activeCallback, listCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:         window,
		activeCallback: activeCallback,
		listCallback:   listCallback,
	}
}

// Trigger records a change on topic. Callbacks run once the window elapses
// without further triggers.
func (d *BroadcastDebouncer) Trigger(topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch topic {
	case TopicActive:
		d.pendingActive = true
	case TopicConnections:
		// the active projection derives from the list
		d.pendingActive = true
		d.pendingList = true
	default:
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	doActive := d.pendingActive
	doList := d.pendingList
	d.pendingActive = false
	d.pendingList = false
	d.mu.Unlock()

	if doActive && d.activeCallback != nil {
		d.activeCallback()
	}
	if doList && d.listCallback != nil {
		d.listCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingActive = false
	d.pendingList = false
}
