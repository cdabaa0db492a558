package builder

import (
	"context"
	"os"

	"github.com/kolonialno/build-worker/pkg/docker"
	"github.com/kolonialno/build-worker/pkg/job"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Builder runs build jobs inside isolated containers
type Builder interface {
	// Execute runs the job to completion. The returned error describes why
	// the job failed; the build container is removed before Execute returns.
	Execute(ctx context.Context, j *job.BuildJob) error
}

// Publisher uploads a local artifact directory to object storage
type Publisher interface {
	Publish(ctx context.Context, localDir, keyPrefix, bucket string) error
}

// LogStore persists the captured build log of a job
type LogStore interface {
	Store(ctx context.Context, jobID string, lines []string) error
}

// Options defines the options required by the builder
type Options struct {
	Docker    docker.Docker
	Publisher Publisher
	LogStore  LogStore

	Bucket        string
	Image         string
	WorkspaceRoot string
	TempDir       string

	Memory      int64
	NanoCPUs    int64
	NetworkMode string

	InstallCommand []string
	BuildRunner    []string

	RuntimeSummary *prometheus.SummaryVec
	JobCounter     *prometheus.CounterVec
}

type baseBuilder struct {
	logger  *log.Entry
	options *Options
}

// New returns a new builder
func New(logger *log.Entry, options *Options) (Builder, error) {
	if options.Docker == nil {
		return nil, ErrMissingDocker
	}
	if options.Publisher == nil {
		return nil, ErrMissingPublisher
	}
	if options.Image == "" {
		return nil, ErrMissingImage
	}

	if options.WorkspaceRoot == "" {
		options.WorkspaceRoot = DefaultWorkspaceRoot
	}
	if options.TempDir == "" {
		options.TempDir = os.TempDir()
	}
	if len(options.InstallCommand) == 0 {
		options.InstallCommand = DefaultInstallCommand
	}
	if len(options.BuildRunner) == 0 {
		options.BuildRunner = DefaultBuildRunner
	}
	if options.LogStore == nil {
		options.LogStore = discardLogs{}
	}

	return &baseBuilder{
		logger:  logger,
		options: options,
	}, nil
}

type discardLogs struct{}

func (discardLogs) Store(context.Context, string, []string) error { return nil }
