package smsprovider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher is the part of *sns.Client the provider needs.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSProvider sends transactional SMS through Amazon SNS.
type SNSProvider struct {
	client SNSPublisher
	logger *slog.Logger
}

func NewSNSProvider(client SNSPublisher, logger *slog.Logger) *SNSProvider {
	return &SNSProvider{client: client, logger: logger.With("provider", "sns")}
}

// NewSNSProviderFromEnv loads AWS credentials from the default chain.
func NewSNSProviderFromEnv(ctx context.Context, region string, logger *slog.Logger) (*SNSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSProvider(sns.NewFromConfig(cfg), logger), nil
}

func (p *SNSProvider) GetName() string { return "sns" }

func (p *SNSProvider) Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error) {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if request.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(request.SenderID)}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(request.Recipient),
		Message:           aws.String(request.Content),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("sns publish: %w", err)
	}

	return &SMSResponseData{
		ProviderMessageID: aws.ToString(out.MessageId),
		StatusCode:        200,
		ProviderName:      p.GetName(),
	}, nil
}
