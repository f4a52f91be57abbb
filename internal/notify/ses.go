package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const sesSubject = "Barid notification"

// SendEmailAPI is the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES emails notifications to a fixed recipient list.
type SES struct {
	client     SendEmailAPI
	sender     string
	recipients []string
}

// NewSES loads the default AWS configuration for region.
func NewSES(ctx context.Context, region, sender string, recipients []string) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(cfg), sender, recipients)
}

// NewSESWithClient creates an SES notifier with a custom client.
func NewSESWithClient(client SendEmailAPI, sender string, recipients []string) (*SES, error) {
	if client == nil {
		return nil, errors.New("ses: client must not be nil")
	}
	if sender == "" || len(recipients) == 0 {
		return nil, errors.New("ses: sender and recipients are required")
	}
	return &SES{client: client, sender: sender, recipients: recipients}, nil
}

func (s *SES) Send(ctx context.Context, text string) error {
	subject := sesSubject
	if first, _, _ := strings.Cut(text, "\n"); strings.TrimSpace(first) != "" {
		subject = strings.Trim(strings.TrimSpace(first), "*")
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination:      &types.Destination{ToAddresses: s.recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses: send: %w", err)
	}
	return nil
}
