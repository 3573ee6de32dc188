package collector

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"github.com/goswap/marketplace-stats/models"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
)

// Publisher announces finished runs
type Publisher interface {
	Publish(ctx context.Context, r *models.RunReport) error
}

// PubSub publishes run reports as JSON to a topic
type PubSub struct {
	topic *pubsub.Topic
}

func NewPubSub(c *pubsub.Client, topic string) *PubSub {
	return &PubSub{topic: c.Topic(topic)}
}

func (p *PubSub) Publish(ctx context.Context, r *models.RunReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return gotils.C(ctx).Errorf("json.Marshal: %v", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"kind":   r.Kind,
			"run_id": r.RunID,
		},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return gotils.C(ctx).Errorf("topic.Publish: %v", err)
	}
	gcputils.Info().Printf("Published %v run %v, message id: %v", r.Kind, r.RunID, id)
	return nil
}

// Stop flushes pending messages
func (p *PubSub) Stop() {
	p.topic.Stop()
}

// NoopPublisher drops everything, used when no topic is configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, r *models.RunReport) error {
	return nil
}
