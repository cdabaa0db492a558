package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/kolonialno/build-worker/pkg/docker"
	"github.com/kolonialno/build-worker/pkg/internal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Cleanup defines the service removing build leftovers a failed teardown left behind.
type Cleanup interface {
	internal.Service
}

// Runtime lists and removes build containers
type Runtime interface {
	docker.Lister
	Remove(ctx context.Context, name string) error
}

// Options configures the sweep
type Options struct {
	// TempDir holds the local artifact directories
	TempDir string
	// Prefix matches the container and directory names created by builds
	Prefix string

	IterationDelay    time.Duration
	ContainerLifetime time.Duration

	RemovedCounter *prometheus.CounterVec
}

type baseCleanup struct {
	stop chan struct{}

	logger  *logrus.Entry
	runtime Runtime
	options *Options
	now     func() time.Time
}

// New creates a new instance of the cleanup worker
func New(logger *logrus.Entry, runtime Runtime, options *Options) (Cleanup, error) {
	if options.TempDir == "" {
		options.TempDir = os.TempDir()
	}
	if options.Prefix == "" {
		options.Prefix = DefaultPrefix
	}
	if options.IterationDelay <= 0 {
		options.IterationDelay = IterationDelay
	}
	if options.ContainerLifetime <= 0 {
		options.ContainerLifetime = ContainerLifetime
	}

	cleanup := &baseCleanup{
		stop: make(chan struct{}, 1),

		logger:  logger,
		runtime: runtime,
		options: options,
		now:     time.Now,
	}

	return cleanup, nil
}

func (c *baseCleanup) Runnable() (internal.RunFunc, internal.StopFunc) {
	return c.Run, c.Stop
}

func (c *baseCleanup) Run() error {
	ticker := time.NewTicker(c.options.IterationDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return nil
		}
	}
}

func (c *baseCleanup) Stop(err error) {
	if err != nil {
		c.logger.WithError(err).Warn("stopping cleanup worker due to error")
	}

	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// cleanup removes containers and local artifact directories older than
// ContainerLifetime
func (c *baseCleanup) cleanup() {
	oldest := c.now().Add(-c.options.ContainerLifetime)

	c.removeContainers(oldest)
	c.removeDirectories(oldest)
}

func (c *baseCleanup) removeContainers(oldest time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.IterationDelay)
	defer cancel()

	containers, err := c.runtime.ListBuildContainers(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("could not lookup build containers")
		return
	}

	c.logger.WithField("containerCount", len(containers)).Info("scanning for stale build containers")

	for _, container := range containers {
		if !container.Created.Before(oldest) {
			continue
		}

		logger := c.logger.WithFields(logrus.Fields{
			"container_id": container.ID,
			"name":         container.Name,
			"age":          c.now().Sub(container.Created).String(),
		})
		logger.Info("stale build container detected")

		if err := c.runtime.Remove(ctx, container.ID); err != nil {
			logger.WithError(err).Warn("could not remove build container")
			continue
		}

		c.count("container")
	}
}

func (c *baseCleanup) removeDirectories(oldest time.Time) {
	dirs, err := filepath.Glob(filepath.Join(c.options.TempDir, c.options.Prefix+"*"))
	if err != nil {
		c.logger.WithError(err).Warn("could not lookup artifact directories")
		return
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || !info.ModTime().Before(oldest) {
			continue
		}

		logger := c.logger.WithField("path", dir)
		logger.Info("stale artifact directory detected")

		if err := os.RemoveAll(dir); err != nil {
			logger.WithError(err).Warn("could not remove artifact directory")
			continue
		}

		c.count("directory")
	}
}

func (c *baseCleanup) count(kind string) {
	if c.options.RemovedCounter == nil {
		return
	}

	c.options.RemovedCounter.WithLabelValues(kind).Inc()
}
