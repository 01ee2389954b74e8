// Package pubsub implements a Google Cloud Pub/Sub notifier.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/openparl/parlingest/internal/ingest"
)

// Notifier publishes import notices to a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Publish marshals the notice to JSON, publishes it, and waits for the
// server-assigned message ID. Category and type ride along as attributes so
// subscribers can filter without decoding the body.
func (n *Notifier) Publish(ctx context.Context, notice ingest.ImportNotice) (string, error) {
	if n.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return "", fmt.Errorf("marshal notice: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"category":     notice.Category,
			"logical_type": string(notice.Type),
		},
	}
	result := n.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notice: %w", err)
	}
	return id, nil
}

// Close flushes buffered messages and stops the topic's publish goroutines.
func (n *Notifier) Close() error {
	if n.topic != nil {
		n.topic.Stop()
	}
	return nil
}
