package client

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubClient wraps the Google Cloud Pub/Sub client.
type PubSubClient struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubClient creates a new Pub/Sub client.
func NewPubSubClient(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubClient, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &PubSubClient{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// Close closes the client.
func (c *PubSubClient) Close() {
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// Publish publishes a message to the topic.
func (c *PubSubClient) Publish(ctx context.Context, data any) error {
	return c.PublishWithAttributes(ctx, data, nil)
}

// PublishWithAttributes publishes a message with attributes and waits for
// the server id.
func (c *PubSubClient) PublishWithAttributes(ctx context.Context, data any, attrs map[string]string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	result := c.topic.Publish(ctx, &pubsub.Message{
		Data:       jsonData,
		Attributes: attrs,
	})

	_, err = result.Get(ctx)
	return err
}
