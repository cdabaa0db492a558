package docker

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Docker defines the container runtime operations used to run a build.
type Docker interface {
	// Provision creates and starts an idle container
	Provision(ctx context.Context, opts *ProvisionOptions) error
	// Exec runs a command inside a running container and waits for it to exit
	Exec(ctx context.Context, name string, cmd []string, opts *ExecOptions) (*ExecResult, error)
	// CopyOut copies a directory from a container to a local directory
	CopyOut(ctx context.Context, name, src, dst string) error
	// Remove force-removes a container
	Remove(ctx context.Context, name string) error
}

// Lister is implemented by runtimes able to enumerate the containers they created
type Lister interface {
	ListBuildContainers(ctx context.Context) ([]Container, error)
}

// ProvisionOptions describes an isolated build container
type ProvisionOptions struct {
	Name        string
	Image       string
	Memory      int64
	NanoCPUs    int64
	NetworkMode string
	Labels      map[string]string
}

// ExecOptions configures a command execution
type ExecOptions struct {
	Env        []string
	WorkingDir string
	// Output receives each non-empty output line in the order it was produced
	Output func(line string)
}

// ExecResult contains the outcome of an executed command
type ExecResult struct {
	ExitCode int
	Output   []string
}

// Container is a container created by this worker
type Container struct {
	ID      string
	Name    string
	Created time.Time
}

// Config stores the config for the docker controller
type Config struct {
	Host       string
	APIVersion string

	CertFile   string
	KeyFile    string
	CACertFile string
}

type baseDocker struct {
	logger *logrus.Entry
	c      *client.Client
}

// New creates a new Docker controller
func New(logger *logrus.Entry, config *Config) (Docker, error) {
	opts := []client.Opt{client.FromEnv}

	if config.Host != "" {
		opts = append(opts, client.WithHost(config.Host))
	}
	if config.APIVersion != "" {
		opts = append(opts, client.WithVersion(config.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	if config.CertFile != "" && config.KeyFile != "" && config.CACertFile != "" {
		httpClient, err := newHTTPClient(config.CertFile, config.KeyFile, config.CACertFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &baseDocker{
		logger: logger,
		c:      c,
	}, nil
}

// Provision creates the container and starts it. The image is pulled when it
// is not available on the daemon.
func (d *baseDocker) Provision(ctx context.Context, opts *ProvisionOptions) error {
	logger := d.logger.WithFields(logrus.Fields{"container": opts.Name, "image": opts.Image})

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	create := func() (container.CreateResponse, error) {
		return d.c.ContainerCreate(ctx,
			&container.Config{
				Image:  opts.Image,
				Cmd:    KeepAliveCommand,
				Labels: labels,
			},
			&container.HostConfig{
				NetworkMode: container.NetworkMode(opts.NetworkMode),
				SecurityOpt: []string{"no-new-privileges"},
				Resources: container.Resources{
					Memory:   opts.Memory,
					NanoCPUs: opts.NanoCPUs,
				},
			},
			nil,
			nil,
			opts.Name,
		)
	}

	logger.Info("creating container")

	resp, err := create()
	if err != nil && client.IsErrNotFound(err) {
		if err = d.pullImage(ctx, opts.Image); err != nil {
			return err
		}
		resp, err = create()
	}
	if err != nil {
		return errors.Wrap(err, "could not create container")
	}

	for _, warning := range resp.Warnings {
		logger.Warn(warning)
	}

	if err := d.c.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return errors.Wrap(err, "could not start container")
	}

	return nil
}

func (d *baseDocker) pullImage(ctx context.Context, image string) error {
	d.logger.WithField("image", image).Info("pulling image")

	resp, err := d.c.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return errors.Wrap(err, "could not pull image")
	}

	return errors.Wrap(checkResponse(resp), "could not pull image")
}

// Exec runs cmd inside the container, streaming combined output line by line
func (d *baseDocker) Exec(ctx context.Context, name string, cmd []string, opts *ExecOptions) (*ExecResult, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}

	created, err := d.c.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create exec")
	}

	attached, err := d.c.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, errors.Wrap(err, "could not attach to exec")
	}
	defer attached.Close()

	lines := newLineWriter(opts.Output)
	_, copyErr := stdcopy.StdCopy(lines, lines, attached.Reader)
	lines.Close()

	if copyErr != nil && copyErr != io.EOF {
		return nil, errors.Wrap(copyErr, "could not read exec output")
	}

	exitCode, err := d.waitExec(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		ExitCode: exitCode,
		Output:   lines.Lines(),
	}, nil
}

// waitExec inspects the exec until the process has exited
func (d *baseDocker) waitExec(ctx context.Context, id string) (int, error) {
	for {
		inspect, err := d.c.ContainerExecInspect(ctx, id)
		if err != nil {
			return 0, errors.Wrap(err, "could not inspect exec")
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(ExecPollInterval):
		}
	}
}

// CopyOut copies the src directory from the container into dst
func (d *baseDocker) CopyOut(ctx context.Context, name, src, dst string) error {
	archive, _, err := d.c.CopyFromContainer(ctx, name, src)
	if err != nil {
		return errors.Wrapf(err, "could not copy %s from container", src)
	}
	defer archive.Close() // nolint: errcheck

	return extract(archive, dst)
}

// Remove force-removes the container and its anonymous volumes
func (d *baseDocker) Remove(ctx context.Context, name string) error {
	d.logger.WithField("container", name).Info("removing container")

	err := d.c.ContainerRemove(ctx, name, types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if client.IsErrNotFound(err) {
		// Never created, nothing to clean up
		return nil
	}

	return err
}

// ListBuildContainers returns every container carrying the managed label
func (d *baseDocker) ListBuildContainers(ctx context.Context) ([]Container, error) {
	list, err := d.c.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, err
	}

	containers := make([]Container, 0, len(list))
	for _, c := range list {
		var name string
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		containers = append(containers, Container{
			ID:      c.ID,
			Name:    name,
			Created: time.Unix(c.Created, 0),
		})
	}

	return containers, nil
}
