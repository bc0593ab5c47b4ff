// Package mirror keeps the local price history in step with the tradable
// universe: it reconciles instruments, plans per-ticker fetch windows and
// executes the updates.
package mirror

import (
	"sync"

	"ohlcvsync/internal/domain"
)

// Observer receives progress events. Calls are serialised, so an Observer
// need not be safe for concurrent use.
type Observer func(domain.Event)

// observer wraps an optional Observer with a lock.
type observer struct {
	mu sync.Mutex
	fn Observer
}

func (o *observer) emit(ev domain.Event) {
	if o == nil || o.fn == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fn(ev)
}

func (o *observer) status(msg string, warning bool) {
	o.emit(domain.Event{Kind: domain.EventStatus, Message: msg, Warning: warning})
}
