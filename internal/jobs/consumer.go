package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/segmentation"
)

// Segmenter runs one segmentation pass.
type Segmenter interface {
	Run(ctx context.Context) (*segmentation.Result, error)
}

type Consumer struct {
	client    sqsAPI
	queueURL  string
	segmenter Segmenter
	done      chan struct{}
	backoff   time.Duration
}

func NewConsumer(cfg aws.Config, queueURL string, segmenter Segmenter) *Consumer {
	return newConsumer(sqs.NewFromConfig(cfg), queueURL, segmenter)
}

func newConsumer(client sqsAPI, queueURL string, segmenter Segmenter) *Consumer {
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		segmenter: segmenter,
		done:      make(chan struct{}),
		backoff:   5 * time.Second,
	}
}

// Run polls until ctx is cancelled or Stop is called.
func (c *Consumer) Run(ctx context.Context) {
	logger.Info("SQS job consumer started", "queue", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
		if err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive error", "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

func (c *Consumer) Stop() {
	close(c.done)
}

// PollOnce receives one batch and handles every message in it. Messages
// that fail for a retryable reason stay on the queue for redelivery.
func (c *Consumer) PollOnce(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		var job Job
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			logger.Warn("SQS bad message", "error", err)
			c.deleteMessage(ctx, msg.ReceiptHandle)
			continue
		}
		if err := c.process(ctx, job); err != nil {
			logger.Error("SQS job failed", "job_id", job.ID, "type", job.Type, "error", err)
			continue
		}
		c.deleteMessage(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, job Job) error {
	switch job.Type {
	case JobSegmentation:
		res, err := c.segmenter.Run(ctx)
		if errors.Is(err, segmentation.ErrLocked) {
			// the run in progress covers this request
			logger.Info("Segmentation already running, dropping job", "job_id", job.ID)
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("Segmentation job complete", "job_id", job.ID, "run_id", res.RunID, "customers", res.Customers)
		return nil
	default:
		logger.Warn("unknown job type", "job_id", job.ID, "type", job.Type)
		return nil
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Warn("SQS delete failed", "error", err)
	}
}
