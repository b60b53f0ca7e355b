package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/metrics"
)

// SESAPI is the part of *ses.Client used to send email.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESConfig struct {
	Region string
}

// SESClient sends email through AWS SES.
type SESClient struct {
	api    SESAPI
	logger *zap.Logger
}

func NewSESClient(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESClient, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewSESClientWithAPI(ses.NewFromConfig(awsCfg), logger), nil
}

func NewSESClientWithAPI(api SESAPI, logger *zap.Logger) *SESClient {
	return &SESClient{api: api, logger: logger}
}

func (c *SESClient) Name() string { return "ses" }

// SendEmail sends msg with both text and HTML parts.
func (c *SESClient) SendEmail(ctx context.Context, msg Email) (string, error) {
	if msg.To == "" {
		return "", fmt.Errorf("email missing recipient")
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(msg.Body),
			Charset: aws.String("UTF-8"),
		},
	}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	start := time.Now()
	result, err := c.api.SendEmail(ctx, input)
	metrics.RecordProviderSend(c.Name(), err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	c.logger.Info("email sent via SES",
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
