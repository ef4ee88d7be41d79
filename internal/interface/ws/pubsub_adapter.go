package ws

import (
	"context"

	"github.com/eduask/backend/internal/infra/pubsub"
)

// PubSubSubscriber adapts internal/infra/pubsub.Subscriber (which speaks
// pubsub.ProgressEvent) onto ProgressSubscriber (which speaks this
// package's identically-shaped ProgressEvent), keeping the interface/http
// boundary package from depending on the Valkey transport package directly.
type PubSubSubscriber struct {
	inner *pubsub.Subscriber
}

// NewPubSubSubscriber constructs a PubSubSubscriber.
func NewPubSubSubscriber(inner *pubsub.Subscriber) *PubSubSubscriber {
	return &PubSubSubscriber{inner: inner}
}

// Subscribe implements ProgressSubscriber.
func (a *PubSubSubscriber) Subscribe(ctx context.Context, documentID string, out chan<- ProgressEvent) error {
	relay := make(chan pubsub.ProgressEvent, cap(out))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-relay:
				if !ok {
					return
				}
				select {
				case out <- ProgressEvent(event):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	err := a.inner.Subscribe(ctx, documentID, relay)
	close(relay)
	<-done
	return err
}

var _ ProgressSubscriber = (*PubSubSubscriber)(nil)
