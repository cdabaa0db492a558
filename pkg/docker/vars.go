package docker

import (
	"errors"
	"time"
)

const (
	// ManagedLabel marks containers created by the build worker
	ManagedLabel = "build-worker.managed"
	// JobLabel stores the job identifier on a build container
	JobLabel = "build-worker.job-id"
)

var (
	// KeepAliveCommand keeps a build container idle until it is removed
	KeepAliveCommand = []string{"sleep", "infinity"}
	// ExecPollInterval defines the delay between exec inspections
	ExecPollInterval = 100 * time.Millisecond

	// ErrEmptyArchive Error
	ErrEmptyArchive = errors.New("copied archive is empty")
	// ErrNotDirectory Error
	ErrNotDirectory = errors.New("copied path is not a directory")
	// ErrUnsafePath Error
	ErrUnsafePath = errors.New("archive entry escapes the destination directory")
)
