package clamav

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Job is one throwaway container run.
type Job struct {
	Image string
	Cmd   []string
	// Source is bind-mounted read-only at Target.
	Source string
	Target string
}

// Runtime runs one-shot containers.
type Runtime interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, ref string) error
	// Run returns the container's stdout and exit code.
	Run(ctx context.Context, job Job) ([]byte, int, error)
}

// DockerRuntime is a Runtime backed by the Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the daemon named by the DOCKER_* environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Close releases the daemon connection.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// Ping checks that the daemon answers.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// EnsureImage pulls ref unless the daemon already has it.
func (d *DockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull is only complete once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker pull %s: read response: %w", ref, err)
	}
	return nil
}

// Run creates, starts and waits for a container, then collects its output.
// The container is always removed.
func (d *DockerRuntime) Run(ctx context.Context, job Job) ([]byte, int, error) {
	hostConfig := &container.HostConfig{}
	if job.Source != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   job.Source,
			Target:   job.Target,
			ReadOnly: true,
		}}
	}

	resp, err := d.client.ContainerCreate(ctx, &container.Config{Image: job.Image, Cmd: job.Cmd}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, -1, fmt.Errorf("create container: %w", err)
	}
	id := resp.ID
	defer func() {
		_ = d.client.ContainerRemove(context.WithoutCancel(ctx), id, container.RemoveOptions{Force: true})
	}()

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, -1, fmt.Errorf("start container: %w", err)
	}

	var exitCode int
	waitCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil {
			return nil, -1, fmt.Errorf("container wait: %s", res.Error.Message)
		}
		exitCode = int(res.StatusCode)
	case err := <-errCh:
		return nil, -1, fmt.Errorf("container wait: %w", err)
	case <-ctx.Done():
		return nil, -1, ctx.Err()
	}

	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, exitCode, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, exitCode, fmt.Errorf("read container logs: %w", err)
	}
	if exitCode > 1 && stdout.Len() == 0 {
		return stderr.Bytes(), exitCode, nil
	}
	return stdout.Bytes(), exitCode, nil
}
