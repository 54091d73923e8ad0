// Package events carries core→UI events from producers (download
// supervisors, dialog results) to the single UI consumer, in order.
package events

import (
	"context"
	"encoding/json"
)

// Event names.
const (
	DownloadProgress = "download-progress"
	DialogResult     = "dialog-result"
	Notification     = "notification"
)

// DefaultCapacity is the bus buffer size used by NewBus(0).
const DefaultCapacity = 1024

// Event is one message for the UI. Detail is passed to the page as-is.
type Event struct {
	Name   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Detail json.RawMessage `json:"detail"`
}

// Bus is a multi-producer, single-consumer FIFO. Publish blocks while the
// buffer is full; events are never dropped or coalesced.
type Bus struct {
	ch chan Event
}

// NewBus returns a bus buffering up to capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish enqueues e, waiting for room until ctx is done.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	select {
	case b.ch <- e:
		return nil
	default:
	}
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishJSON marshals detail and publishes it under name.
func (b *Bus) PublishJSON(ctx context.Context, name, id string, detail any) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return b.Publish(ctx, Event{Name: name, ID: id, Detail: data})
}

// Receive returns the next event, waiting until one arrives or ctx is done.
func (b *Bus) Receive(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	select {
	case e := <-b.ch:
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Drain returns up to max queued events without waiting. A max of zero or
// less drains everything currently queued.
func (b *Bus) Drain(max int) []Event {
	var out []Event
	for max <= 0 || len(out) < max {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Len reports how many events are queued.
func (b *Bus) Len() int {
	return len(b.ch)
}
