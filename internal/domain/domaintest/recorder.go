// Package domaintest has fakes shared by service tests.
package domaintest

import (
	"context"
	"sync"
	"time"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

// Recorder is a domain.Notifier that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (r *Recorder) Notify(_ context.Context, evt domain.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *Recorder) Events() []domain.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationEvent(nil), r.events...)
}

// OfType returns the recorded events of type t in arrival order.
func (r *Recorder) OfType(t domain.EventType) []domain.NotificationEvent {
	var out []domain.NotificationEvent
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Clock is a settable time source for nowFn injection.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(at time.Time) *Clock { return &Clock{now: at} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
