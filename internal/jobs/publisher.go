// Package jobs queues maintenance work over SQS so that long-running jobs
// such as customer segmentation run outside the request path.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// ErrNoQueue is returned when no queue is configured.
var ErrNoQueue = errors.New("job queue not configured")

type JobType string

const (
	JobSegmentation JobType = "segmentation"
)

// Job is the SQS message body.
type Job struct {
	ID          string    `json:"id"`
	Type        JobType   `json:"type"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Publisher struct {
	client   sqsAPI
	queueURL string
}

func NewPublisher(cfg aws.Config, queueURL string) *Publisher {
	return newPublisher(sqs.NewFromConfig(cfg), queueURL)
}

func newPublisher(client sqsAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Enqueue sends a job and returns it with its ID filled in.
func (p *Publisher) Enqueue(ctx context.Context, typ JobType, requestedBy string) (*Job, error) {
	if p == nil || p.queueURL == "" {
		return nil, ErrNoQueue
	}
	job := &Job{ID: uuid.NewString(), Type: typ, RequestedBy: requestedBy, RequestedAt: time.Now().UTC()}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return nil, fmt.Errorf("publishing to SQS: %w", err)
	}
	return job, nil
}
