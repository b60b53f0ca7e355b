package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/notify/internal/metrics"
)

// ErrInvalidRecipient means a phone number could not be parsed. It says
// nothing about the provider.
var ErrInvalidRecipient = errors.New("invalid phone number")

// SNSPublisher is the part of *sns.Client used to send SMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSConfig struct {
	Region string
	// Rate caps sends per second from this process. Zero means no cap.
	Rate float64
}

// SNSClient sends SMS through AWS SNS.
type SNSClient struct {
	api     SNSPublisher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSNSClient creates an SNS client from the default AWS config chain.
func NewSNSClient(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return NewSNSClientWithAPI(sns.NewFromConfig(awsCfg), cfg.Rate, logger), nil
}

// NewSNSClientWithAPI wraps an existing publisher.
func NewSNSClientWithAPI(api SNSPublisher, perSecond float64, logger *zap.Logger) *SNSClient {
	c := &SNSClient{api: api, logger: logger}
	if perSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
	return c
}

func (c *SNSClient) Name() string { return "sns" }

// SendSMS publishes msg directly to a phone number.
func (c *SNSClient) SendSMS(ctx context.Context, msg SMS) (string, error) {
	to, err := FormatE164(msg.To)
	if err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("sns rate limit wait: %w", err)
		}
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if msg.Sender != "" {
		if origin, err := FormatE164(msg.Sender); err == nil {
			attrs["AWS.MM.SMS.OriginationNumber"] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(origin),
			}
		}
	}

	start := time.Now()
	result, err := c.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(msg.Content),
		MessageAttributes: attrs,
	})
	metrics.RecordProviderSend(c.Name(), err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	c.logger.Info("SMS sent via SNS",
		zap.String("reference", msg.Reference),
		zap.String("message_id", messageID),
		zap.Bool("international", msg.International),
	)
	return messageID, nil
}

// FormatE164 normalises a number that already carries its country code,
// with or without a leading plus.
func FormatE164(number string) (string, error) {
	raw := strings.TrimSpace(number)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}
	if !strings.HasPrefix(raw, "+") {
		raw = "+" + raw
	}

	parsed, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidRecipient, number, err)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
