package builder

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/kolonialno/build-worker/pkg/docker"
	"github.com/kolonialno/build-worker/pkg/internal"
	"github.com/kolonialno/build-worker/pkg/job"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

// Execute runs every build step in order and always tears the container down
func (b *baseBuilder) Execute(ctx context.Context, j *job.BuildJob) (err error) {
	e := newExecution(j, b.options)
	logger := b.logger.WithFields(j.Fields()).WithField("container_id", e.containerID)
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("build panicked: %v", r)
			logger.WithError(err).Error("build aborted")
		}

		b.teardown(logger, e)
		b.trackTask("total", startTime)

		if err != nil {
			b.countJob(outcomeFailed)
			logger.WithError(err).WithField("runtime", time.Since(startTime)).Error("build failed")
		} else {
			b.countJob(outcomeSucceeded)
			logger.WithField("runtime", time.Since(startTime)).Info("build succeeded")
		}
	}()

	return b.createBuild(ctx, logger, e)
}

// nolint: gocyclo
func (b *baseBuilder) createBuild(ctx context.Context, logger *log.Entry, e *execution) error {
	j := e.job
	logger.Info("creating build")

	//
	// Helper methods for processing a build job
	//

	// executeFunction executes a function and logs/tracks the execution
	executeFunction := func(f func() error, operation, description string) error {
		logger.WithField("operation", operation).Info(strings.ToLower(description))

		startTime := time.Now()
		err := f()
		b.trackTask(operation, startTime)

		return err
	}

	// checkError logs the error with the job context and returns true if
	// the build has to be aborted
	checkError := func(err error, errorMessage string) bool {
		if err != nil {
			logger.WithError(err).Error(strings.ToLower(errorMessage))
			return true
		}

		return false
	}

	//
	// Process the actual build
	//

	var err error

	// Start the isolated build container
	err = executeFunction(func() error {
		return b.provision(ctx, e)
	}, "provision", "Provisioning build container")
	if checkError(err, "Could not provision build container") {
		return err
	}

	// The clone url may carry the token and is never logged
	cloneURL, err := internal.AuthenticatedURL(j.RepoURL, j.GitToken)
	if err != nil {
		err = &CommandError{Command: "clone", ContainerID: e.containerID, ExitCode: -1, Err: ErrInvalidRepositoryURL}
		checkError(err, "Could not build clone url")
		return err
	}

	// Clone repository
	err = executeFunction(func() error {
		return b.command(ctx, logger, e, "clone",
			[]string{"git", "clone", "--depth", "1", "--single-branch", cloneURL, e.workspace}, nil, "")
	}, "clone", "Cloning repository")
	if checkError(err, "Could not clone repository") {
		return err
	}

	// Install dependencies
	err = executeFunction(func() error {
		return b.command(ctx, logger, e, "install", b.options.InstallCommand, nil, e.workspace)
	}, "install", "Installing dependencies")
	if checkError(err, "Could not install dependencies") {
		return err
	}

	// Run the build, the log is stored whatever the outcome
	err = executeFunction(func() error {
		defer b.storeLogs(ctx, logger, e)

		cmd := append(append([]string{}, b.options.BuildRunner...), j.BuildCommand)
		return b.command(ctx, logger, e, "build", cmd, e.env(), e.workspace)
	}, "build", "Running build command")
	if checkError(err, "Build command failed") {
		return err
	}

	// Copy the build output to the host
	err = executeFunction(func() error {
		return b.extract(ctx, e)
	}, "extract", "Extracting build output")
	if checkError(err, "Could not extract build output") {
		return err
	}

	// Upload artifacts
	err = executeFunction(func() error {
		if err := b.options.Publisher.Publish(ctx, e.localArtifactPath, j.ID.String(), b.options.Bucket); err != nil {
			return &PublishError{KeyPrefix: j.ID.String(), Err: err}
		}
		return nil
	}, "publish", "Publishing artifacts")
	if checkError(err, "Could not publish artifacts") {
		return err
	}

	return nil
}

func (b *baseBuilder) provision(ctx context.Context, e *execution) error {
	err := b.options.Docker.Provision(ctx, &docker.ProvisionOptions{
		Name:        e.containerID,
		Image:       b.options.Image,
		Memory:      b.options.Memory,
		NanoCPUs:    b.options.NanoCPUs,
		NetworkMode: b.options.NetworkMode,
		Labels:      map[string]string{docker.JobLabel: e.job.ID.String()},
	})
	if err != nil {
		return &ProvisionError{ContainerID: e.containerID, Err: err}
	}

	return nil
}

// command runs cmd inside the build container. Output lines are recorded in
// the execution log and logged as they arrive.
func (b *baseBuilder) command(
	ctx context.Context,
	logger *log.Entry,
	e *execution,
	name string,
	cmd []string,
	env []string,
	dir string,
) error {
	mark := e.mark()
	streamLogger := logger.WithField("stream", name)

	result, err := b.options.Docker.Exec(ctx, e.containerID, cmd, &docker.ExecOptions{
		Env:        env,
		WorkingDir: dir,
		Output: func(line string) {
			streamLogger.Info(e.record(line))
		},
	})
	if err != nil {
		return &CommandError{
			Command:     name,
			ContainerID: e.containerID,
			ExitCode:    -1,
			Output:      e.linesSince(mark),
			Err:         errors.New(internal.Redact(err.Error(), e.job.GitToken)),
		}
	}

	if result.ExitCode != 0 {
		return &CommandError{
			Command:     name,
			ContainerID: e.containerID,
			ExitCode:    result.ExitCode,
			Output:      e.linesSince(mark),
		}
	}

	return nil
}

func (b *baseBuilder) extract(ctx context.Context, e *execution) error {
	if err := os.MkdirAll(e.localArtifactPath, 0755); err != nil {
		return &ExtractionError{Path: e.localArtifactPath, Err: err}
	}

	if err := b.options.Docker.CopyOut(ctx, e.containerID, e.outputDir(), e.localArtifactPath); err != nil {
		return &ExtractionError{Path: e.outputDir(), Err: err}
	}

	return nil
}

// storeLogs persists the full log. A failure is reported but does not fail the job.
func (b *baseBuilder) storeLogs(ctx context.Context, logger *log.Entry, e *execution) {
	lines := e.lines()

	if err := b.options.LogStore.Store(ctx, e.job.ID.String(), lines); err != nil {
		logger.WithError(err).Warn("could not store build logs")
		return
	}

	logger.WithField("lines", len(lines)).Info("stored build logs")
}

// teardown removes the build container and the local artifacts. Failures
// are logged and never change the job outcome.
func (b *baseBuilder) teardown(logger *log.Entry, e *execution) {
	ctx, cancel := context.WithTimeout(context.Background(), TeardownTimeout)
	defer cancel()

	startTime := time.Now()
	defer b.trackTask("teardown", startTime)

	if err := b.options.Docker.Remove(ctx, e.containerID); err != nil {
		logger.WithError(err).Warn("could not remove build container, manual cleanup required")
	}

	if err := os.RemoveAll(e.localArtifactPath); err != nil {
		logger.WithError(err).Warn("could not remove local artifacts")
	}
}

// trackTask observes a runtime duration with the RuntimeSummary
func (b *baseBuilder) trackTask(name string, startTime time.Time) {
	if b.options.RuntimeSummary == nil {
		return
	}

	b.options.RuntimeSummary.WithLabelValues(name).Observe(time.Since(startTime).Seconds())
}

func (b *baseBuilder) countJob(outcome string) {
	if b.options.JobCounter == nil {
		return
	}

	b.options.JobCounter.WithLabelValues(outcome).Inc()
}
