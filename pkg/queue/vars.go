package queue

import (
	"errors"
	"time"
)

const (
	// DefaultPollWait is the long poll duration of a receive call
	DefaultPollWait = 20 * time.Second
	// DefaultVisibilityTimeout hides a received message from other consumers
	DefaultVisibilityTimeout = 900 * time.Second
	// DefaultPollInterval is the pause after a poll returned no message
	DefaultPollInterval = 5 * time.Second
	// HeartbeatDivisor sets how many times per visibility timeout a running
	// job extends its message visibility and lock
	HeartbeatDivisor = 3

	// MaxPollWait is the longest long poll SQS accepts
	MaxPollWait = 20 * time.Second
	// MaxVisibilityTimeout is the longest visibility timeout SQS accepts
	MaxVisibilityTimeout = 12 * time.Hour
)

var (
	// ErrMissingQueueURL Error
	ErrMissingQueueURL = errors.New("consumer requires a queue url")
	// ErrMissingExecutor Error
	ErrMissingExecutor = errors.New("consumer requires an executor")
	// ErrPollWaitTooLong Error
	ErrPollWaitTooLong = errors.New("poll wait exceeds the SQS limit of 20s")
	// ErrVisibilityTimeoutTooLong Error
	ErrVisibilityTimeoutTooLong = errors.New("visibility timeout exceeds the SQS limit of 12h")
)
