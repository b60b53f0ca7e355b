package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

func newClient(ctx context.Context, region string) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer enqueues delivery and receipt tasks.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewProducerWithAPI(client, cfg.QueueURL, logger), nil
}

func NewProducerWithAPI(client API, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue sends a task to SQS and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, msg Message) (string, error) {
	msg.EnqueuedAt = p.now().UnixNano()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("task", msg.Task),
			zap.String("notification_id", msg.NotificationID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// EnqueueDelivery queues a notification for sending.
func (p *Producer) EnqueueDelivery(ctx context.Context, id uuid.UUID, notificationType string) (string, error) {
	task, err := DeliverTask(notificationType)
	if err != nil {
		return "", err
	}
	return p.Enqueue(ctx, Message{Task: task, NotificationID: id.String()})
}

// SendSMSResponse queues the receipt a provider would send for a test key
// SMS. Simulated messages are always delivered.
func (p *Producer) SendSMSResponse(ctx context.Context, providerName, reference string) error {
	_, err := p.Enqueue(ctx, Message{
		Task:      TaskProcessReceipt,
		Provider:  providerName,
		Reference: reference,
		Status:    "delivered",
	})
	return err
}

// SendEmailResponse queues a simulated email receipt. The outcome follows
// the recipient's local part so callers can exercise each failure status.
func (p *Producer) SendEmailResponse(ctx context.Context, reference, to string) error {
	_, err := p.Enqueue(ctx, Message{
		Task:      TaskProcessReceipt,
		Provider:  "ses",
		Reference: reference,
		Status:    simulatedEmailStatus(to),
	})
	return err
}

func simulatedEmailStatus(to string) string {
	local, _, _ := strings.Cut(strings.ToLower(to), "@")
	switch local {
	case "perm-fail":
		return "permanent-failure"
	case "temp-fail":
		return "temporary-failure"
	default:
		return "delivered"
	}
}
