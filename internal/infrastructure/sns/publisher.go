package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-otp-nosql/internal/config"
	"github.com/go-otp-nosql/internal/domain"
)

// EventVerified is the event type attribute on verification messages.
const EventVerified = "otp.verified"

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher announces completed verifications on an SNS topic.
type Publisher struct {
	client   publishAPI
	topicARN string
}

func NewPublisher(ctx context.Context, cfg *config.Config) (*Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SNSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	})
	return &Publisher{client: client, topicARN: cfg.SNSTopicARN}, nil
}

type verifiedMessage struct {
	Event      string    `json:"event"`
	Email      string    `json:"email"`
	Method     string    `json:"method"`
	VerifiedAt time.Time `json:"verified_at"`
}

func (p *Publisher) PublishVerified(ctx context.Context, f *domain.AccountFlag) error {
	body, err := json.Marshal(verifiedMessage{
		Event:      EventVerified,
		Email:      f.Identity,
		Method:     f.Method,
		VerifiedAt: f.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal verified event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(EventVerified)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish verified event: %w", err)
	}
	return nil
}
