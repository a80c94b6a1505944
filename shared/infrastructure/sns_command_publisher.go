package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var _ messaging.CommandPublisher = (*SNSCommandPublisher)(nil)

// SNSCommandPublisher implements messaging.CommandPublisher on AWS SNS. Each
// logical topic maps to a FIFO topic ARN; the partition key becomes the
// message group id so SNS preserves per-order ordering, and a fresh
// deduplication id keeps publishing at-least-once rather than at-most-once.
type SNSCommandPublisher struct {
	client    *sns.Client
	topicArns map[messaging.Topic]string
}

// NewSNSCommandPublisher creates a publisher over an existing SNS client.
func NewSNSCommandPublisher(client *sns.Client, topicArns map[messaging.Topic]string) *SNSCommandPublisher {
	return &SNSCommandPublisher{
		client:    client,
		topicArns: topicArns,
	}
}

// NewSNSCommandPublisherFromConfig loads the default AWS config (works with
// LocalStack when AWS_ENDPOINT_URL is set) and builds the publisher.
func NewSNSCommandPublisherFromConfig(ctx context.Context, topicArns map[messaging.Topic]string) (*SNSCommandPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewSNSCommandPublisher(sns.NewFromConfig(cfg), topicArns), nil
}

// Publish sends one envelope on the given topic, keyed for ordering.
func (p *SNSCommandPublisher) Publish(ctx context.Context, topic messaging.Topic, key string, payload []byte) error {
	arn, ok := p.topicArns[topic]
	if !ok {
		return errors.Errorf("no ARN configured for topic %s", topic)
	}

	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:               aws.String(arn),
		Message:                aws.String(string(payload)),
		MessageGroupId:         aws.String(key),
		MessageDeduplicationId: aws.String(uuid.NewString()),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"topic": {
				DataType:    aws.String("String"),
				StringValue: aws.String(topic.String()),
			},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}

	return nil
}
