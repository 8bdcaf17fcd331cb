// Package campaign stores email copy drafted by the email writer as SES
// email templates so a campaign tool can send it later. Nothing here sends
// mail.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
)

var (
	ErrDisabled      = errors.New("campaign publishing is disabled")
	ErrInvalidName   = errors.New("template name must be 1-64 letters, digits, '-' or '_'")
	ErrEmptyDraft    = errors.New("draft has no subject or body")
	ErrTemplateTaken = errors.New("template already exists")
)

var templateName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	CreateEmailTemplate(ctx context.Context, params *sesv2.CreateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailTemplateOutput, error)
}

// Draft is a published template.
type Draft struct {
	TemplateName string `json:"template_name"`
	Subject      string `json:"subject"`
	Region       string `json:"region"`
}

type Publisher struct {
	client sesAPI
	region string
}

// NewPublisher creates an SES publisher for the region in cfg.
func NewPublisher(cfg aws.Config) *Publisher {
	return newPublisher(sesv2.NewFromConfig(cfg), cfg.Region)
}

func newPublisher(client sesAPI, region string) *Publisher {
	return &Publisher{client: client, region: region}
}

// Publish stores body as the text part of a new SES template.
func (p *Publisher) Publish(ctx context.Context, name, subject, body string) (*Draft, error) {
	if p == nil {
		return nil, ErrDisabled
	}
	if !templateName.MatchString(name) {
		return nil, ErrInvalidName
	}
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" || body == "" {
		return nil, ErrEmptyDraft
	}

	_, err := p.client.CreateEmailTemplate(ctx, &sesv2.CreateEmailTemplateInput{
		TemplateName: aws.String(name),
		TemplateContent: &types.EmailTemplateContent{
			Subject: aws.String(subject),
			Text:    aws.String(unescape(body)),
		},
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			return nil, fmt.Errorf("%s: %w", name, ErrTemplateTaken)
		}
		return nil, fmt.Errorf("creating SES template: %w", err)
	}
	logger.Info("Published campaign draft", "template", name, "region", p.region)
	return &Draft{TemplateName: name, Subject: subject, Region: p.region}, nil
}

// unescape undoes the \$ and \% escaping the writer prompt asks for, which
// only matters for markdown rendering.
func unescape(s string) string {
	return strings.NewReplacer(`\$`, `$`, `\%`, `%`).Replace(s)
}
