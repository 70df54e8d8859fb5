package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue in the background.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	log      *logger.Logger
}

func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL, log: logger.With("component", "notify.SQSPublisher")}
}

func (p *SQSPublisher) Publish(_ context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal event", "event", e.Name, "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.log.Error("publish to SQS", "event", e.Name, "error", err.Error())
		}
	}()
}

// SQSConsumer drains the notification queue into a Dispatcher. Messages are
// deleted after a successful dispatch or when they cannot be decoded.
type SQSConsumer struct {
	client     SQSAPI
	queueURL   string
	dispatcher Dispatcher
	waitTime   int32
	done       chan struct{}
	stopped    chan struct{}
	log        *logger.Logger
}

func NewSQSConsumer(client SQSAPI, queueURL string, d Dispatcher) *SQSConsumer {
	return &SQSConsumer{
		client:     client,
		queueURL:   queueURL,
		dispatcher: d,
		waitTime:   20,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		log:        logger.With("component", "notify.SQSConsumer"),
	}
}

func (c *SQSConsumer) Start(ctx context.Context) {
	c.log.Info("SQS notify consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop signals the poll loop and waits for it to exit.
func (c *SQSConsumer) Stop() {
	close(c.done)
	<-c.stopped
}

func (c *SQSConsumer) poll(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     c.waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("SQS receive", "error", err.Error())
			select {
			case <-time.After(5 * time.Second):
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range out.Messages {
			var e Event
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &e); err != nil {
				c.log.Warn("SQS bad message", "error", err.Error())
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}
			if err := c.dispatcher.Dispatch(ctx, e); err != nil {
				// left on the queue; redelivered after the visibility timeout
				c.log.Error("dispatch failed", "event", e.Name, "error", err.Error())
				continue
			}
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		c.log.Warn("SQS delete", "error", err.Error())
	}
}
