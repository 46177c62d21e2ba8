package cosmos

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// Executor runs a ledger cli command and returns its output.
type Executor interface {
	Exec(ctx context.Context, cmd []string, env []string) (stdout, stderr []byte, err error)
}

// LocalExecutor runs commands on the host.
type LocalExecutor struct{}

func (LocalExecutor) Exec(ctx context.Context, cmd []string, env []string) ([]byte, []byte, error) {
	if len(cmd) == 0 {
		return nil, nil, fmt.Errorf("empty command")
	}
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Env = append(os.Environ(), env...)
	c.Stdout, c.Stderr = &stdout, &stderr
	if err := c.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w: %s", strings.Join(cmd, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// DockerAPI is the part of the docker client used to reach a running node container.
type DockerAPI interface {
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
	ContainerInspect(ctx context.Context, container string) (types.ContainerJSON, error)
}

// DockerExecutor runs commands inside a running node container.
type DockerExecutor struct {
	Client    DockerAPI
	Container string
	Log       *zap.Logger
}

func (d DockerExecutor) Exec(ctx context.Context, cmd []string, env []string) ([]byte, []byte, error) {
	created, err := d.Client.ContainerExecCreate(ctx, d.Container, types.ExecConfig{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("exec create in %s: %w", d.Container, err)
	}
	attached, err := d.Client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, nil, fmt.Errorf("exec attach in %s: %w", d.Container, err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return nil, nil, fmt.Errorf("reading exec output: %w", err)
	}
	inspect, err := d.Client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("exec inspect in %s: %w", d.Container, err)
	}
	if d.Log != nil {
		d.Log.Debug("Exec",
			zap.String("container", d.Container),
			zap.Strings("cmd", cmd),
			zap.Int("exit_code", inspect.ExitCode),
		)
	}
	if inspect.ExitCode != 0 {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s exited with code %d: %s", strings.Join(cmd, " "), inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// HostPort returns the host address a container port is published on.
func HostPort(ctx context.Context, cli DockerAPI, container string, port nat.Port) (string, error) {
	info, err := cli.ContainerInspect(ctx, container)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", container, err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", container)
	}
	bindings := info.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return "", fmt.Errorf("port %s of container %s is not published", port, container)
	}
	host := bindings[0].HostIP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, bindings[0].HostPort), nil
}
