package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
)

// RetainedPublisher is the part of Client the StatePublisher needs.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// StatePublisher mirrors state snapshots onto the retained state topic.
//
// Publish failures are logged and skipped; the next snapshot carries the
// full state, so nothing needs replaying.
type StatePublisher struct {
	pub    RetainedPublisher
	topic  string
	logger Logger
}

// NewStatePublisher creates a publisher writing to topics.DeviceState().
func NewStatePublisher(pub RetainedPublisher, topics Topics, logger Logger) *StatePublisher {
	return &StatePublisher{
		pub:    pub,
		topic:  topics.DeviceState(),
		logger: logger,
	}
}

// Publish encodes snapshot as JSON and publishes it retained.
func (p *StatePublisher) Publish(snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}
	if err := p.pub.PublishRetained(p.topic, payload); err != nil {
		return fmt.Errorf("publishing state snapshot: %w", err)
	}
	return nil
}

// Run publishes every snapshot received on states until ctx is done or
// states is closed.
func Run[T any](ctx context.Context, p *StatePublisher, states <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := p.Publish(s); err != nil && p.logger != nil {
				p.logger.Warn("state snapshot not published", "topic", p.topic, "error", err)
			}
		}
	}
}
