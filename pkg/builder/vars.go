package builder

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ContainerPrefix prefixes every build container name
	ContainerPrefix = "build-"
	// DefaultWorkspaceRoot is the directory repositories are cloned into inside the container
	DefaultWorkspaceRoot = "/workspace"
	// TeardownTimeout bounds the container removal
	TeardownTimeout = 2 * time.Minute
)

var (
	// DefaultInstallCommand installs the repository dependencies
	DefaultInstallCommand = []string{"npm", "install"}
	// DefaultBuildRunner runs the named build script
	DefaultBuildRunner = []string{"npm", "run"}

	// ErrMissingDocker Error
	ErrMissingDocker = errors.New("builder requires a docker runtime")
	// ErrMissingPublisher Error
	ErrMissingPublisher = errors.New("builder requires a publisher")
	// ErrMissingImage Error
	ErrMissingImage = errors.New("builder requires a builder image")
	// ErrInvalidRepositoryURL Error
	ErrInvalidRepositoryURL = errors.New("repository url could not be parsed")
)

// ProvisionError is returned when the build container could not be started
type ProvisionError struct {
	ContainerID string
	Err         error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("could not provision container %s: %v", e.ContainerID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// CommandError is returned when a command inside the build container fails.
// Output contains the combined output captured from the command.
type CommandError struct {
	Command     string
	ContainerID string
	ExitCode    int
	Output      []string
	Err         error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %s in container %s failed: %v", e.Command, e.ContainerID, e.Err)
	}
	return fmt.Sprintf("command %s in container %s exited with code %d", e.Command, e.ContainerID, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExtractionError is returned when the build output could not be copied out of the container
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PublishError is returned when the artifacts could not be uploaded
type PublishError struct {
	KeyPrefix string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("could not publish artifacts under %s: %v", e.KeyPrefix, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
