package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// sqsMaxBatch is the SQS limit on entries per batch call
const sqsMaxBatch = 10

// SQSAPI is the part of the SQS client the queue uses
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	PurgeQueue(ctx context.Context, in *sqs.PurgeQueueInput, opts ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
}

// SQSOptions tunes reads and send retries
type SQSOptions struct {
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	SendTries         int
	Backoff           time.Duration
}

// DefaultSQSOptions returns 20s long polling and 5 send tries starting at 1s
func DefaultSQSOptions() SQSOptions {
	return SQSOptions{
		WaitTime:  20 * time.Second,
		SendTries: 5,
		Backoff:   time.Second,
	}
}

// SQSQueue is an SQS queue
type SQSQueue struct {
	client SQSAPI
	url    string
	opts   SQSOptions
	sleep  func(context.Context, time.Duration) error
}

// NewSQSQueue returns a queue over the SQS queue at url
func NewSQSQueue(client SQSAPI, url string, opts SQSOptions) *SQSQueue {
	if opts.SendTries <= 0 {
		opts.SendTries = 1
	}
	return &SQSQueue{client: client, url: url, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, payload string) error {
	return q.EnqueueBatch(ctx, []string{payload})
}

// EnqueueBatch sends payloads in calls of at most 10. Entries SQS rejects are
// resent with doubling backoff; any still failing after the last try make
// the whole batch fail.
func (q *SQSQueue) EnqueueBatch(ctx context.Context, payloads []string) error {
	var errs error
	for _, part := range chunk(payloads, sqsMaxBatch) {
		errs = multierr.Append(errs, q.sendChunk(ctx, part))
	}
	return errs
}

func (q *SQSQueue) sendChunk(ctx context.Context, payloads []string) error {
	pending := make(map[string]string, len(payloads))
	for i, p := range payloads {
		pending[strconv.Itoa(i)] = p
	}

	backoff := q.opts.Backoff
	var lastErrs error
	for try := 1; ; try++ {
		entries := make([]types.SendMessageBatchRequestEntry, 0, len(pending))
		for i := range payloads {
			id := strconv.Itoa(i)
			if body, ok := pending[id]; ok {
				entries = append(entries, types.SendMessageBatchRequestEntry{
					Id:          aws.String(id),
					MessageBody: aws.String(body),
				})
			}
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  entries,
		})
		lastErrs = nil
		if err != nil {
			lastErrs = fmt.Errorf("sqs send batch: %w", err)
		} else {
			for _, ok := range out.Successful {
				delete(pending, aws.ToString(ok.Id))
			}
			for _, f := range out.Failed {
				lastErrs = multierr.Append(lastErrs, fmt.Errorf("sqs entry %s: %s: %s",
					aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if lastErrs == nil {
			lastErrs = fmt.Errorf("sqs send batch: %d entries unacknowledged", len(pending))
		}
		if try >= q.opts.SendTries {
			return lastErrs
		}

		logger.Get().Warn("Retrying SQS batch entries",
			zap.String("queue", q.url),
			zap.Int("pending", len(pending)),
			zap.Int("try", try),
			zap.Duration("backoff", backoff))
		if err := q.sleep(ctx, backoff); err != nil {
			return multierr.Append(lastErrs, err)
		}
		backoff *= 2
	}
}

func (q *SQSQueue) Read(ctx context.Context, max int) ([]*MessageHandle, error) {
	if max <= 0 {
		return nil, nil
	}
	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(min(max, sqsMaxBatch)),
		WaitTimeSeconds:     int32(q.opts.WaitTime / time.Second),
	}
	if q.opts.VisibilityTimeout > 0 {
		in.VisibilityTimeout = int32(q.opts.VisibilityTimeout / time.Second)
	}
	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]*MessageHandle, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, &MessageHandle{
			Handle:   aws.ToString(m.ReceiptHandle),
			Payload:  aws.ToString(m.Body),
			Metadata: map[string]string{"message_id": aws.ToString(m.MessageId)},
		})
	}
	return msgs, nil
}

func (q *SQSQueue) JobDone(ctx context.Context, h *MessageHandle) error {
	if err := h.markDone(); err != nil {
		return err
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(h.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Clear purges the queue. The count is SQS's approximate message count.
func (q *SQSQueue) Clear(ctx context.Context) (int, error) {
	attrs, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs attributes: %w", err)
	}
	n, _ := strconv.Atoi(attrs.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])

	if _, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.url)}); err != nil {
		var purging *types.PurgeQueueInProgress
		if !errors.As(err, &purging) {
			return 0, fmt.Errorf("sqs purge: %w", err)
		}
	}
	return n, nil
}

func (q *SQSQueue) Close() error { return nil }
