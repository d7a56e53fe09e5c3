// Package publisher announces archived papers to downstream consumers.
package publisher

import "context"

// Publisher sends one JSON-encodable payload to a topic and returns the
// message id assigned by the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Nop drops every message.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) (string, error) { return "", nil }
