// Package events carries ephemeral progress notifications from running jobs
// to live subscribers. Delivery is at-most-once with no replay: a subscriber
// only sees events published after Subscribe returned.
package events

import (
	"context"
	"sync"

	"ugcserver/internal/domain"
)

const defaultBuffer = 16

// Bus is a keyed publish/subscribe channel for progress events.
type Bus interface {
	Subscribe(ctx context.Context, key string) (*Subscription, error)
	Publish(ctx context.Context, key string, ev domain.ProgressEvent) error
}

// Subscription delivers events for one key in publish order. C is closed
// after Close or once the subscribe context is done.
type Subscription struct {
	C <-chan domain.ProgressEvent

	once    sync.Once
	done    chan struct{}
	release func()
}

func newSubscription(c <-chan domain.ProgressEvent, release func()) *Subscription {
	return &Subscription{C: c, done: make(chan struct{}), release: release}
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// closeOn closes s when ctx ends.
func (s *Subscription) closeOn(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// Key builds the subscription key for a job.
func Key(projectID, jobID string) string {
	return projectID + ":" + jobID
}
