package sqs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

const (
	maxBatch          = 10
	waitTimeSeconds   = 20
	visibilityTimeout = 60
)

// Received is one message pulled off the queue.
type Received struct {
	Message
	ReceiptHandle string
	// ReceiveCount starts at 1 on first delivery.
	ReceiveCount int
}

// Consumer reads tasks from SQS.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewConsumerWithAPI(client, cfg.QueueURL, logger), nil
}

func NewConsumerWithAPI(client API, queueURL string, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Receive long-polls for up to ten messages. Malformed bodies are deleted
// and skipped so they cannot block the queue.
func (c *Consumer) Receive(ctx context.Context) ([]Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxBatch,
		WaitTimeSeconds:     waitTimeSeconds,
		VisibilityTimeout:   visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		handle := aws.ToString(m.ReceiptHandle)

		msg, err := decode(aws.ToString(m.Body))
		if err != nil {
			c.logger.Error("dropping malformed message",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
			if err := c.Delete(ctx, handle); err != nil {
				c.logger.Warn("failed to delete malformed message", zap.Error(err))
			}
			continue
		}

		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		if count < 1 {
			count = 1
		}

		out = append(out, Received{Message: msg, ReceiptHandle: handle, ReceiveCount: count})
	}
	return out, nil
}

// Delete removes a message from SQS after processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility hides a message for seconds before it is redelivered.
func (c *Consumer) ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
