// Package pubsub announces posted records on Google Cloud Pub/Sub topics.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Config names the project and the default topic.
type Config struct {
	ProjectID string
	Topic     string
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type topicAdapter struct {
	t *pubsub.Topic
}

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return a.t.Publish(ctx, msg)
}

func (a topicAdapter) Stop() {
	a.t.Stop()
}

// Notifier publishes JSON payloads. Topic handles are opened lazily and
// reused for the life of the notifier.
type Notifier struct {
	open         func(name string) topic
	defaultTopic string
	closeClient  func() error
	logger       *zap.Logger

	mu     sync.Mutex
	topics map[string]topic
}

// New dials Pub/Sub for cfg.ProjectID.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	n := newNotifier(func(name string) topic {
		return topicAdapter{t: client.Topic(name)}
	}, cfg.Topic, logger)
	n.closeClient = client.Close
	return n, nil
}

func newNotifier(open func(string) topic, defaultTopic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		open:         open,
		defaultTopic: defaultTopic,
		logger:       logger,
		topics:       make(map[string]topic),
	}
}

// Publish marshals payload to JSON and publishes it to topicName, or to the
// configured topic when topicName is empty. It blocks until the server
// acknowledges the message.
func (n *Notifier) Publish(ctx context.Context, topicName string, payload any) (string, error) {
	if topicName == "" {
		topicName = n.defaultTopic
	}
	if topicName == "" {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := n.topic(topicName).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topicName, err)
	}
	n.logger.Debug("Published notification", zap.String("topic", topicName), zap.String("message_id", id))
	return id, nil
}

func (n *Notifier) topic(name string) topic {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.topics[name]
	if !ok {
		t = n.open(name)
		n.topics[name] = t
	}
	return t
}

// Close flushes pending publishes and releases the client.
func (n *Notifier) Close() error {
	n.mu.Lock()
	for name, t := range n.topics {
		t.Stop()
		delete(n.topics, name)
	}
	n.mu.Unlock()
	if n.closeClient != nil {
		if err := n.closeClient(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
