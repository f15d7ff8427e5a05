package queue

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSQS records sent bodies and fails entries listed in failures, once per
// listed occurrence.
type fakeSQS struct {
	batches  [][]string
	failures map[string]int
	sendErr  error
	queue    []string
	deleted  []string
	purged   bool
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	var bodies []string
	out := &sqs.SendMessageBatchOutput{}
	for _, e := range in.Entries {
		body := aws.ToString(e.MessageBody)
		bodies = append(bodies, body)
		if f.failures[body] > 0 {
			f.failures[body]--
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{
				Id: e.Id, Code: aws.String("InternalError"), Message: aws.String("try again"),
			})
			continue
		}
		f.queue = append(f.queue, body)
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{Id: e.Id})
	}
	f.batches = append(f.batches, bodies)
	return out, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	n := min(int(in.MaxNumberOfMessages), len(f.queue))
	out := &sqs.ReceiveMessageOutput{}
	for i, body := range f.queue[:n] {
		out.Messages = append(out.Messages, types.Message{
			Body:          aws.String(body),
			ReceiptHandle: aws.String("rh-" + body),
			MessageId:     aws.String(strconv.Itoa(i)),
		})
	}
	f.queue = f.queue[n:]
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
		"ApproximateNumberOfMessages": strconv.Itoa(len(f.queue)),
	}}, nil
}

func (f *fakeSQS) PurgeQueue(context.Context, *sqs.PurgeQueueInput, ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error) {
	f.purged = true
	f.queue = nil
	return &sqs.PurgeQueueOutput{}, nil
}

func newTestSQS(f *fakeSQS, tries int) (*SQSQueue, *[]time.Duration) {
	q := NewSQSQueue(f, "https://sqs.example/tiles", SQSOptions{SendTries: tries, Backoff: time.Second})
	var slept []time.Duration
	q.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return q, &slept
}

func TestSQSQueueChunksBatches(t *testing.T) {
	f := &fakeSQS{}
	q, _ := newTestSQS(f, 5)

	var bodies []string
	for i := 0; i < 23; i++ {
		bodies = append(bodies, "10/0/"+strconv.Itoa(i))
	}
	require.NoError(t, q.EnqueueBatch(context.Background(), bodies))
	require.Len(t, f.batches, 3)
	assert.Len(t, f.batches[0], 10)
	assert.Len(t, f.batches[1], 10)
	assert.Len(t, f.batches[2], 3)
}

func TestSQSQueueRetriesFailedEntries(t *testing.T) {
	f := &fakeSQS{failures: map[string]int{"b": 2}}
	q, slept := newTestSQS(f, 5)

	require.NoError(t, q.EnqueueBatch(context.Background(), []string{"a", "b", "c"}))
	require.Len(t, f.batches, 3)
	assert.Equal(t, []string{"b"}, f.batches[1])
	assert.Equal(t, []string{"b"}, f.batches[2])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, f.queue)
}

func TestSQSQueueGivesUp(t *testing.T) {
	f := &fakeSQS{failures: map[string]int{"b": 10}}
	q, slept := newTestSQS(f, 5)

	err := q.EnqueueBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalError")
	assert.Len(t, f.batches, 5)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, *slept)
}

func TestSQSQueueSendError(t *testing.T) {
	f := &fakeSQS{sendErr: errors.New("boom")}
	q, _ := newTestSQS(f, 2)
	err := q.EnqueueBatch(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "boom")
}

func TestSQSQueueReadAndAck(t *testing.T) {
	f := &fakeSQS{queue: []string{"1/0/0", "1/1/0"}}
	q, _ := newTestSQS(f, 1)
	ctx := context.Background()

	msgs, err := q.Read(ctx, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rh-1/0/0", msgs[0].Handle)

	require.NoError(t, q.JobDone(ctx, msgs[0]))
	assert.Equal(t, []string{"rh-1/0/0"}, f.deleted)
	assert.ErrorIs(t, q.JobDone(ctx, msgs[0]), ErrAlreadyDone)

	f.queue = []string{"x", "y", "z"}
	n, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, f.purged)
}
