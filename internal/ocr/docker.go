package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	DockerName           = "docker"
	DefaultDockerImage   = "jitesoft/tesseract-ocr:latest"
	DefaultContainerName = "vidoc-ocr"
	Label                = "vidoc-ocr"
)

// DockerConfig configures the containerized tesseract engine.
type DockerConfig struct {
	Image         string
	ContainerName string
	PageSegMode   int
	Labels        map[string]string // extra labels, used for test cleanup
	Logger        *slog.Logger
}

// DockerEngine runs tesseract inside a long-lived container, one exec per region.
// Start must be called before Recognize.
type DockerEngine struct {
	cli           *client.Client
	imageName     string
	containerName string
	psm           int
	labels        map[string]string
	logger        *slog.Logger

	mu          sync.Mutex
	containerID string
}

// NewDockerEngine creates a docker client for the engine.
func NewDockerEngine(cfg DockerConfig) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if cfg.Image == "" {
		cfg.Image = DefaultDockerImage
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.PageSegMode <= 0 {
		cfg.PageSegMode = DefaultPageSegMode
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	return &DockerEngine{
		cli:           cli,
		imageName:     cfg.Image,
		containerName: cfg.ContainerName,
		psm:           cfg.PageSegMode,
		labels:        labels,
		logger:        cfg.Logger.With("component", "ocr", "engine", DockerName),
	}, nil
}

// Name returns the engine identifier.
func (e *DockerEngine) Name() string {
	return DockerName
}

// Start ensures the OCR container exists and is running.
func (e *DockerEngine) Start(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	running, id, err := e.findContainer(ctx)
	if err != nil {
		return err
	}
	switch {
	case id == "":
		if id, err = e.create(ctx); err != nil {
			return err
		}
	case !running:
		if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
	}
	if err := e.waitRunning(ctx, id, 30*time.Second); err != nil {
		return err
	}

	e.mu.Lock()
	e.containerID = id
	e.mu.Unlock()
	e.logger.Info("ocr container ready", "container", e.containerName, "image", e.imageName)
	return nil
}

// Recognize runs tesseract in the container with the PNG on stdin.
func (e *DockerEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	e.mu.Lock()
	id := e.containerID
	e.mu.Unlock()
	if id == "" {
		return "", retry.Unrecoverable(fmt.Errorf("ocr container not started"))
	}

	data, err := EncodePNG(img)
	if err != nil {
		return "", retry.Unrecoverable(err)
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	exec, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          append([]string{"tesseract"}, tesseractArgs(lang, e.psm)...),
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := e.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	writeErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(resp.Conn, bytes.NewReader(data))
		if cerr := resp.CloseWrite(); err == nil {
			err = cerr
		}
		writeErr <- err
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}
	if err := <-writeErr; err != nil {
		return "", fmt.Errorf("failed to write image to exec: %w", err)
	}

	code, err := e.exitCode(ctx, exec.ID)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", tesseractError(code, stderr.String())
	}
	return normalizeText(stdout.String()), nil
}

// Logs returns the tail of the container logs.
func (e *DockerEngine) Logs(ctx context.Context, tail string) (string, error) {
	_, id, err := e.findContainer(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("container not found")
	}
	logs, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()
	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return stdout.String() + stderr.String(), nil
}

// Remove force-removes the OCR container.
func (e *DockerEngine) Remove(ctx context.Context) error {
	_, id, err := e.findContainer(ctx)
	if err != nil || id == "" {
		return err
	}
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	e.mu.Lock()
	e.containerID = ""
	e.mu.Unlock()
	return nil
}

// Close closes the docker client. The container is left running for reuse.
func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func (e *DockerEngine) create(ctx context.Context) (string, error) {
	if err := e.ensureImage(ctx); err != nil {
		return "", err
	}
	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:      e.imageName,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		Labels:     e.labels,
	}, &container.HostConfig{}, nil, nil, e.containerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (e *DockerEngine) findContainer(ctx context.Context) (bool, string, error) {
	args := filters.NewArgs()
	args.Add("name", e.containerName)
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return false, "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range containers {
		for _, name := range c.Names {
			if strings.TrimPrefix(name, "/") == e.containerName {
				return c.State == "running", c.ID, nil
			}
		}
	}
	return false, "", nil
}

func (e *DockerEngine) waitRunning(ctx context.Context, id string, timeout time.Duration) error {
	return retry.Do(
		func() error {
			info, err := e.cli.ContainerInspect(ctx, id)
			if err != nil {
				return err
			}
			if info.State == nil || !info.State.Running {
				return fmt.Errorf("container %s not running", e.containerName)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// exitCode polls until the exec has finished.
func (e *DockerEngine) exitCode(ctx context.Context, execID string) (int, error) {
	var code int
	err := retry.Do(
		func() error {
			info, err := e.cli.ContainerExecInspect(ctx, execID)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to inspect exec: %w", err))
			}
			if info.Running {
				return fmt.Errorf("exec still running")
			}
			code = info.ExitCode
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(20),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return code, err
}

func (e *DockerEngine) ensureImage(ctx context.Context) error {
	if _, err := e.cli.ImageInspect(ctx, e.imageName); err == nil {
		return nil
	}
	e.logger.Info("pulling ocr image", "image", e.imageName)
	reader, err := e.cli.ImagePull(ctx, e.imageName, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

var (
	_ Engine = (*DockerEngine)(nil)
	_ Closer = (*DockerEngine)(nil)
)
