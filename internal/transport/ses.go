package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SESAPI is the subset of *sesv2.Client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends through AWS SES v2.
type SESTransport struct {
	client           SESAPI
	configurationSet string
	log              *logger.Logger
}

// NewSESTransport builds an SES client. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func NewSESTransport(ctx context.Context, accessKey, secretKey, region, configurationSet string) (*SESTransport, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESTransportWithClient(sesv2.NewFromConfig(cfg), configurationSet), nil
}

// NewSESTransportWithClient wraps an existing client.
func NewSESTransportWithClient(client SESAPI, configurationSet string) *SESTransport {
	return &SESTransport{
		client:           client,
		configurationSet: configurationSet,
		log:              logger.With("component", "transport.SES"),
	}
}

func (s *SESTransport) Send(ctx context.Context, msg Message) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.from()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	headers := msg.headers()
	for _, k := range sortedKeys(headers) {
		input.Content.Simple.Headers = append(input.Content.Simple.Headers, types.MessageHeader{
			Name:  aws.String(k),
			Value: aws.String(headers[k]),
		})
	}
	for _, k := range sortedKeys(msg.Tags) {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(k),
			Value: aws.String(sanitizeTag(msg.Tags[k])),
		})
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send to %s: %w", logger.RedactEmail(msg.To), err)
	}
	id := aws.ToString(result.MessageId)
	s.log.Debug("sent", "recipient", msg.To, "message_id", id)
	return id, nil
}

// sanitizeTag keeps the characters SES accepts in tag values.
func sanitizeTag(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
