package builder

import (
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kolonialno/build-worker/pkg/internal"
	"github.com/kolonialno/build-worker/pkg/job"
)

// execution holds the state of one job run. It is owned by a single Execute call.
type execution struct {
	job *job.BuildJob

	containerID       string
	workspace         string
	localArtifactPath string

	mu   sync.Mutex
	logs []string
}

func newExecution(j *job.BuildJob, options *Options) *execution {
	containerID := ContainerPrefix + uuid.New().String()

	return &execution{
		job:               j,
		containerID:       containerID,
		workspace:         path.Join(options.WorkspaceRoot, j.RepoName),
		localArtifactPath: filepath.Join(options.TempDir, containerID),
	}
}

// outputDir is the build output directory inside the container
func (e *execution) outputDir() string {
	return path.Join(e.workspace, e.job.BuildOutDir)
}

// env returns the job environment as KEY=value pairs
func (e *execution) env() []string {
	env := make([]string, 0, len(e.job.EnvVars))
	for k, v := range e.job.EnvVars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	return env
}

// record appends a captured line and returns it with credentials removed
func (e *execution) record(line string) string {
	line = internal.Redact(line, e.job.GitToken)

	e.mu.Lock()
	e.logs = append(e.logs, line)
	e.mu.Unlock()

	return line
}

// mark returns the current log position
func (e *execution) mark() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.logs)
}

// linesSince returns the lines recorded after the given mark
func (e *execution) linesSince(mark int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := make([]string, len(e.logs)-mark)
	copy(lines, e.logs[mark:])

	return lines
}

// lines returns the full ordered log
func (e *execution) lines() []string {
	return e.linesSince(0)
}
