package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/codeexpert/order-saga/shared/messaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ messaging.DeadLetterSink = (*SNSDeadLetterSink)(nil)

// SNSDeadLetterSink publishes unprocessable payloads raw to a dedicated SNS
// topic, tagged with the failure reason. Sinking a message acknowledges it on
// the source queue, so one poisoned payload never blocks other orders.
type SNSDeadLetterSink struct {
	client   *sns.Client
	topicArn string
	logger   zerolog.Logger
}

// NewSNSDeadLetterSink creates a dead-letter sink on the given topic.
func NewSNSDeadLetterSink(client *sns.Client, topicArn string, logger zerolog.Logger) *SNSDeadLetterSink {
	return &SNSDeadLetterSink{
		client:   client,
		topicArn: topicArn,
		logger:   logger,
	}
}

// Sink forwards the payload to the dead-letter topic.
func (s *SNSDeadLetterSink) Sink(ctx context.Context, reason string, payload []byte) error {
	s.logger.Warn().Str("reason", reason).Int("bytes", len(payload)).Msg("dead-lettering payload")

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish to dead-letter topic")
	}
	return nil
}
