package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/kolonialno/build-worker/pkg/internal"
	"github.com/kolonialno/build-worker/pkg/job"
	"github.com/kolonialno/build-worker/pkg/lock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Executor runs a decoded job
type Executor interface {
	Execute(ctx context.Context, j *job.BuildJob) error
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Options defines the options used by the consumer
type Options struct {
	QueueURL          string
	PollWait          time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration

	Executor Executor
	Locker   lock.Locker

	MessageCounter *prometheus.CounterVec
}

// Consumer pulls build jobs from an SQS queue and runs them one at a time
type Consumer struct {
	logger  *logrus.Entry
	client  sqsAPI
	options *Options

	stop     chan struct{}
	stopOnce sync.Once

	pollCtx    context.Context
	cancelPoll context.CancelFunc

	state int32
}

// New returns a new consumer
func New(logger *logrus.Entry, client sqsAPI, options *Options) (*Consumer, error) {
	if options.QueueURL == "" {
		return nil, ErrMissingQueueURL
	}
	if options.Executor == nil {
		return nil, ErrMissingExecutor
	}

	if options.PollWait > MaxPollWait {
		return nil, ErrPollWaitTooLong
	}
	if options.VisibilityTimeout > MaxVisibilityTimeout {
		return nil, ErrVisibilityTimeoutTooLong
	}

	if options.PollWait <= 0 {
		options.PollWait = DefaultPollWait
	}
	if options.VisibilityTimeout <= 0 {
		options.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.Locker == nil {
		options.Locker = lock.Noop{}
	}

	pollCtx, cancelPoll := context.WithCancel(context.Background())

	return &Consumer{
		logger:  logger,
		client:  client,
		options: options,

		stop: make(chan struct{}),

		pollCtx:    pollCtx,
		cancelPoll: cancelPoll,
	}, nil
}

// Runnable returns the run and stop functions of the consumer
func (c *Consumer) Runnable() (internal.RunFunc, internal.StopFunc) {
	return c.Run, c.Stop
}

// State returns the current consumer state
func (c *Consumer) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Ready reports whether the consumer still accepts jobs
func (c *Consumer) Ready() bool {
	return c.State() != Stopped
}

func (c *Consumer) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Run polls the queue until Stop is called
func (c *Consumer) Run() error {
	defer c.setState(Stopped)

	c.logger.WithField("queue_url", c.options.QueueURL).Info("polling for build jobs")

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		c.setState(Polling)

		msg, ok := c.receive()
		if !ok {
			c.setState(Idle)
			if !internal.Sleep(c.options.PollInterval, c.stop) {
				return nil
			}
			continue
		}

		c.setState(Processing)
		c.process(msg)
		c.setState(Idle)
	}
}

// Stop interrupts polling. A job that is already processing runs to completion.
func (c *Consumer) Stop(err error) {
	if err != nil {
		c.logger.WithError(err).Warn("stopping consumer due to error")
	}

	c.stopOnce.Do(func() {
		close(c.stop)
		c.cancelPoll()
	})
}

// receive returns the next message, if any. Transport errors count as an
// empty poll.
func (c *Consumer) receive() (types.Message, bool) {
	out, err := c.client.ReceiveMessage(c.pollCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.options.QueueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(c.options.PollWait / time.Second),
		VisibilityTimeout:   int32(c.options.VisibilityTimeout / time.Second),
	})
	if err != nil {
		if c.pollCtx.Err() == nil {
			c.logger.WithError(err).Error("could not receive messages")
		}
		return types.Message{}, false
	}

	if out == nil || len(out.Messages) == 0 {
		return types.Message{}, false
	}

	return out.Messages[0], true
}

func (c *Consumer) process(msg types.Message) {
	// The job is not tied to the poll context, Stop has to wait for it
	ctx := context.Background()
	logger := c.logger.WithField("message_id", aws.ToString(msg.MessageId))

	j, err := job.Decode([]byte(aws.ToString(msg.Body)))
	if err != nil {
		logger.WithError(err).Error("discarding malformed job")
		c.count("malformed")
		c.ack(ctx, logger, msg)
		return
	}

	logger = logger.WithFields(j.Fields())
	key := lock.Key(j.ID.String())

	acquired, err := c.options.Locker.Acquire(ctx, key, c.options.VisibilityTimeout)
	locked := err == nil
	if err != nil {
		logger.WithError(err).Warn("could not acquire job lock, processing anyway")
		acquired = true
	}
	if !acquired {
		logger.Info("job is processed by another worker, leaving message on the queue")
		c.count("locked")
		return
	}

	defer func() {
		if err := c.options.Locker.Release(ctx, key); err != nil {
			logger.WithError(err).Warn("could not release job lock")
		}
	}()

	logger.Info("processing build job")

	stopHeartbeat := c.heartbeat(logger, msg, key, locked)
	err = c.options.Executor.Execute(ctx, j)
	stopHeartbeat()

	if err != nil {
		c.count("failed")
	} else {
		c.count("succeeded")
	}

	c.ack(ctx, logger, msg)
}

// heartbeat keeps the message hidden and the job lock held while a job runs
// longer than the visibility timeout. The returned function stops it and
// waits for the last extension to finish.
func (c *Consumer) heartbeat(logger *logrus.Entry, msg types.Message, key string, locked bool) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.options.VisibilityTimeout / HeartbeatDivisor)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.extend(logger, msg, key, locked)
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (c *Consumer) extend(logger *logrus.Entry, msg types.Message, key string, locked bool) {
	ctx := context.Background()

	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.options.QueueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: int32(c.options.VisibilityTimeout / time.Second),
	})
	if err != nil {
		logger.WithError(err).Warn("could not extend message visibility")
	}

	if !locked {
		return
	}

	extended, err := c.options.Locker.Extend(ctx, key, c.options.VisibilityTimeout)
	if err != nil {
		logger.WithError(err).Warn("could not extend job lock")
	} else if !extended {
		logger.Warn("job lock expired while the job was running")
	}
}

// ack deletes the message from the queue
func (c *Consumer) ack(ctx context.Context, logger *logrus.Entry, msg types.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.options.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.WithError(err).Error("could not delete message")
	}
}

func (c *Consumer) count(result string) {
	if c.options.MessageCounter == nil {
		return
	}

	c.options.MessageCounter.WithLabelValues(result).Inc()
}
