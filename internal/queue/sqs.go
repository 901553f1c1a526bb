package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxSQSDelay is the SQS DelaySeconds ceiling. Task retry delays are
// capped below this by the runner config, so hitting it means a
// misconfiguration; the send is clamped rather than rejected.
const maxSQSDelay = 900 * time.Second

// SQSQueue is the production queue. Delayed retries use DelaySeconds,
// and the visibility timeout gives the at-most-one-worker-per-message
// guarantee the task runner relies on.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(ctx context.Context, region, queueURL string) (*SQSQueue, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSQueueWithConfig(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (q *SQSQueue) Send(ctx context.Context, msg TaskMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}

	if delay > maxSQSDelay {
		slog.Warn("task delay exceeds sqs maximum, clamping",
			"task_id", msg.TaskID,
			"delay", delay)
		delay = maxSQSDelay
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay.Seconds()),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"TaskID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TaskID.String()),
			},
			"Kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	_, err = q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int) ([]Delivery, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, raw := range result.Messages {
		var msg TaskMessage
		if err := json.Unmarshal([]byte(*raw.Body), &msg); err != nil {
			slog.Warn("failed to unmarshal task message", "error", err)
			continue
		}
		deliveries = append(deliveries, Delivery{
			Message:       msg,
			ReceiptHandle: *raw.ReceiptHandle,
		})
	}

	return deliveries, nil
}

// Ping checks queue reachability for the readiness probe.
func (q *SQSQueue) Ping(ctx context.Context) error {
	input := &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	}

	_, err := q.client.GetQueueAttributes(ctx, input)
	if err != nil {
		return fmt.Errorf("queue attributes: %w", err)
	}
	return nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	_, err := q.client.DeleteMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}
