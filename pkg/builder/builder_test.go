package builder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kolonialno/build-worker/pkg/docker"
	"github.com/kolonialno/build-worker/pkg/job"
	"github.com/kolonialno/build-worker/pkg/publisher"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker emulates a container runtime. Commands are answered by step
// name (clone, install, build).
type fakeDocker struct {
	mu sync.Mutex

	provisioned []*docker.ProvisionOptions
	execs       map[string][]string
	execOpts    map[string]*docker.ExecOptions
	removed     []string

	provisionErr error
	exitCodes    map[string]int
	execErr      map[string]error
	output       map[string][]string
	files        map[string]string
	copyErr      error
	removeErr    error
	panicOn      string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		execs:     map[string][]string{},
		execOpts:  map[string]*docker.ExecOptions{},
		exitCodes: map[string]int{},
		execErr:   map[string]error{},
		output:    map[string][]string{},
		files:     map[string]string{},
	}
}

func step(cmd []string) string {
	switch {
	case cmd[0] == "git":
		return "clone"
	case len(cmd) == 2 && cmd[1] == "install":
		return "install"
	default:
		return "build"
	}
}

func (f *fakeDocker) Provision(ctx context.Context, opts *docker.ProvisionOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.provisioned = append(f.provisioned, opts)
	return f.provisionErr
}

func (f *fakeDocker) Exec(ctx context.Context, name string, cmd []string, opts *docker.ExecOptions) (*docker.ExecResult, error) {
	s := step(cmd)
	if f.panicOn == s {
		panic("runtime exploded")
	}

	f.mu.Lock()
	f.execs[s] = cmd
	f.execOpts[s] = opts
	f.mu.Unlock()

	for _, line := range f.output[s] {
		opts.Output(line)
	}

	if err := f.execErr[s]; err != nil {
		return nil, err
	}

	return &docker.ExecResult{ExitCode: f.exitCodes[s], Output: f.output[s]}, nil
}

func (f *fakeDocker) CopyOut(ctx context.Context, name, src, dst string) error {
	if f.copyErr != nil {
		return f.copyErr
	}

	for rel, content := range f.files {
		p := filepath.Join(dst, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeDocker) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, name)
	return f.removeErr
}

type recordingUploader struct {
	mu      sync.Mutex
	objects []*publisher.Object
	err     error
}

func (u *recordingUploader) Upload(ctx context.Context, obj *publisher.Object) error {
	if u.err != nil {
		return u.err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects = append(u.objects, obj)

	return nil
}

func (u *recordingUploader) keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	var keys []string
	for _, obj := range u.objects {
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)

	return keys
}

type recordingLogStore struct {
	records map[string][]string
	err     error
}

func (s *recordingLogStore) Store(ctx context.Context, jobID string, lines []string) error {
	if s.err != nil {
		return s.err
	}
	s.records[jobID] = lines
	return nil
}

type harness struct {
	docker   *fakeDocker
	uploader *recordingUploader
	logs     *recordingLogStore
	builder  Builder
	tempDir  string
}

func newHarness(t *testing.T) *harness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		docker:   newFakeDocker(),
		uploader: &recordingUploader{},
		logs:     &recordingLogStore{records: map[string][]string{}},
		tempDir:  t.TempDir(),
	}

	pub, err := publisher.New(logrus.NewEntry(logger), h.uploader, &publisher.Options{BatchSize: 10})
	require.NoError(t, err)

	h.builder, err = New(logrus.NewEntry(logger), &Options{
		Docker:    h.docker,
		Publisher: pub,
		LogStore:  h.logs,
		Bucket:    "artifacts",
		Image:     "build-worker:latest",
		TempDir:   h.tempDir,
		Memory:    2 << 30,
		NanoCPUs:  1500000000,
	})
	require.NoError(t, err)

	return h
}

func demoJob() *job.BuildJob {
	return &job.BuildJob{
		ID:           job.StringID("7"),
		RepoName:     "demo",
		RepoURL:      "https://example.com/demo.git",
		BuildCommand: "build",
		BuildOutDir:  "dist",
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.docker.output["build"] = []string{"> demo@1.0.0 build", "dist/index.html 0.4 kB", "dist/app.js 12 kB"}
	h.docker.files = map[string]string{"index.html": "<html/>", "app.js": "console.log(1)"}

	err := h.builder.Execute(context.Background(), demoJob())
	require.NoError(t, err)

	assert.Equal(t, []string{"7/app.js", "7/index.html"}, h.uploader.keys())
	assert.Equal(t, []string{"> demo@1.0.0 build", "dist/index.html 0.4 kB", "dist/app.js 12 kB"}, h.logs.records["7"])

	require.Len(t, h.docker.provisioned, 1)
	containerID := h.docker.provisioned[0].Name
	assert.True(t, strings.HasPrefix(containerID, ContainerPrefix))
	assert.Equal(t, []string{containerID}, h.docker.removed)

	// Local artifacts are removed after the execution
	_, statErr := os.Stat(filepath.Join(h.tempDir, containerID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecuteProvisionOptions(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.builder.Execute(context.Background(), demoJob()))

	opts := h.docker.provisioned[0]
	assert.Equal(t, "build-worker:latest", opts.Image)
	assert.Equal(t, int64(2<<30), opts.Memory)
	assert.Equal(t, int64(1500000000), opts.NanoCPUs)
	assert.Equal(t, "7", opts.Labels[docker.JobLabel])
}

func TestExecuteCommands(t *testing.T) {
	h := newHarness(t)
	j := demoJob()
	j.EnvVars = map[string]string{"VITE_API": "https://api", "NODE_ENV": "production"}

	require.NoError(t, h.builder.Execute(context.Background(), j))

	assert.Equal(t,
		[]string{"git", "clone", "--depth", "1", "--single-branch", "https://example.com/demo.git", "/workspace/demo"},
		h.docker.execs["clone"])
	assert.Equal(t, []string{"npm", "install"}, h.docker.execs["install"])
	assert.Equal(t, "/workspace/demo", h.docker.execOpts["install"].WorkingDir)
	assert.Equal(t, []string{"npm", "run", "build"}, h.docker.execs["build"])
	assert.Equal(t, "/workspace/demo", h.docker.execOpts["build"].WorkingDir)
	assert.Equal(t, []string{"NODE_ENV=production", "VITE_API=https://api"}, h.docker.execOpts["build"].Env)
}

func TestExecuteBuildFailure(t *testing.T) {
	h := newHarness(t)
	h.docker.output["build"] = []string{"error: missing script build"}
	h.docker.exitCodes["build"] = 1
	h.docker.files = map[string]string{"index.html": "<html/>"}

	err := h.builder.Execute(context.Background(), demoJob())
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "build", cmdErr.Command)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, []string{"error: missing script build"}, cmdErr.Output)
	assert.Equal(t, h.docker.provisioned[0].Name, cmdErr.ContainerID)

	assert.Empty(t, h.uploader.keys())
	assert.Equal(t, []string{"error: missing script build"}, h.logs.records["7"])
	assert.Len(t, h.docker.removed, 1)
}

func TestExecuteTearsDownOnEveryFailure(t *testing.T) {
	cases := map[string]struct {
		setup  func(h *harness)
		target interface{}
	}{
		"provision": {
			setup:  func(h *harness) { h.docker.provisionErr = errors.New("no such image") },
			target: new(*ProvisionError),
		},
		"clone": {
			setup:  func(h *harness) { h.docker.exitCodes["clone"] = 128 },
			target: new(*CommandError),
		},
		"install": {
			setup:  func(h *harness) { h.docker.exitCodes["install"] = 1 },
			target: new(*CommandError),
		},
		"exec transport": {
			setup:  func(h *harness) { h.docker.execErr["build"] = errors.New("connection reset") },
			target: new(*CommandError),
		},
		"extract": {
			setup:  func(h *harness) { h.docker.copyErr = errors.New("no such file or directory") },
			target: new(*ExtractionError),
		},
		"publish": {
			setup: func(h *harness) {
				h.docker.files = map[string]string{"index.html": "x"}
				h.uploader.err = errors.New("access denied")
			},
			target: new(*PublishError),
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			err := h.builder.Execute(context.Background(), demoJob())
			require.Error(t, err)
			assert.True(t, errors.As(err, tc.target), "unexpected error type %T", err)
			assert.Len(t, h.docker.removed, 1)
		})
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.docker.panicOn = "install"

	err := h.builder.Execute(context.Background(), demoJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime exploded")
	assert.Len(t, h.docker.removed, 1)
}

func TestExecuteTeardownFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	h.docker.removeErr = errors.New("daemon unavailable")

	assert.NoError(t, h.builder.Execute(context.Background(), demoJob()))
	assert.Len(t, h.docker.removed, 1)
}

func TestExecuteLogStoreFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	h.logs.err = errors.New("database down")
	h.docker.files = map[string]string{"index.html": "x"}

	assert.NoError(t, h.builder.Execute(context.Background(), demoJob()))
	assert.Equal(t, []string{"7/index.html"}, h.uploader.keys())
}

func TestExecuteRedactsToken(t *testing.T) {
	h := newHarness(t)
	h.docker.exitCodes["clone"] = 128
	h.docker.output["clone"] = []string{"fatal: could not read from https://s3cr3t@example.com/demo.git"}

	j := demoJob()
	j.GitToken = "s3cr3t"

	err := h.builder.Execute(context.Background(), j)
	require.Error(t, err)

	assert.Contains(t, h.docker.execs["clone"], "https://s3cr3t@example.com/demo.git")

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	for _, line := range cmdErr.Output {
		assert.NotContains(t, line, "s3cr3t")
	}
	assert.NotContains(t, err.Error(), "s3cr3t")
}

func TestNewValidatesOptions(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())

	_, err := New(logger, &Options{Publisher: &publisher.Publisher{}, Image: "img"})
	assert.Equal(t, ErrMissingDocker, err)

	_, err = New(logger, &Options{Docker: newFakeDocker(), Image: "img"})
	assert.Equal(t, ErrMissingPublisher, err)

	_, err = New(logger, &Options{Docker: newFakeDocker(), Publisher: &publisher.Publisher{}})
	assert.Equal(t, ErrMissingImage, err)
}
