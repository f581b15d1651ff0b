package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Ramsey-B/fern/pkg/kafka"
)

// Events records published events in memory.
type Events struct {
	mu     sync.Mutex
	events []kafka.Event
	// Fail makes every publish return an error.
	Fail bool
}

func (e *Events) Publish(_ context.Context, evt *kafka.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fail {
		return errors.New("broker unavailable")
	}
	e.events = append(e.events, *evt)
	return nil
}

// Types returns the types of the recorded events in publish order.
func (e *Events) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]string, 0, len(e.events))
	for _, evt := range e.events {
		types = append(types, evt.Type)
	}
	return types
}

func (e *Events) Last() (kafka.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.events) == 0 {
		return kafka.Event{}, false
	}
	return e.events[len(e.events)-1], true
}
