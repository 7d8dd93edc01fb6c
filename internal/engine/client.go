package engine

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	domainerrors "github.com/nbforge/spawnd/internal/domain/errors"
)

// LabelManagedBy marks containers owned by this service so list operations
// never touch containers it did not create.
const (
	LabelManagedBy = "spawnd.managed-by"
	labelValue     = "spawnd"
)

const stopTimeoutSeconds = 10

// Container is the subset of engine container state the service consumes.
type Container struct {
	ID       string
	Name     string
	Status   string
	Running  bool
	HostPort int
	IP       string
}

// Mount binds a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// LaunchSpec describes one container to create and start.
type LaunchSpec struct {
	Image         string
	Name          string
	HostPort      int
	ContainerPort int
	Env           []string
	Mounts        []Mount
	MemoryBytes   int64
	CPUQuota      float64
}

// Client wraps the Docker Engine API. Ownership of containers is fully
// delegated to the engine; this client only translates between the engine's
// types and the service's.
type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, domainerrors.EngineError{Op: "connect", Err: err}
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return domainerrors.EngineError{Op: "ping", Err: err}
	}
	return nil
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return domainerrors.EngineError{Op: "pull", Err: err}
	}
	defer reader.Close()

	// Drain the progress stream so the pull runs to completion.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return domainerrors.EngineError{Op: "pull", Err: err}
	}
	return nil
}

// Launch creates and starts a container. A container that was created but
// failed to start is force-removed before the error is returned.
func (c *Client) Launch(ctx context.Context, spec LaunchSpec) (Container, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return Container{}, domainerrors.EngineError{Op: "create", Err: err}
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Tty:          true,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			LabelManagedBy: labelValue,
		},
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	hostCfg := &container.HostConfig{
		Mounts: mounts,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUPeriod: 100000,
			CPUQuota:  int64(spec.CPUQuota * 100000),
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return Container{}, domainerrors.EngineError{Op: "create", Err: err}
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return Container{}, domainerrors.EngineError{Op: "start", Err: err}
	}

	// Re-read the started container so network attributes come from the
	// engine rather than the requested spec.
	ctr, err := c.Inspect(ctx, resp.ID)
	if err != nil {
		return Container{
			ID:       resp.ID,
			Name:     spec.Name,
			Status:   "running",
			Running:  true,
			HostPort: spec.HostPort,
		}, nil
	}
	return ctr, nil
}

// Inspect looks up a container by id or name.
func (c *Client) Inspect(ctx context.Context, idOrName string) (Container, error) {
	inspect, err := c.cli.ContainerInspect(ctx, idOrName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Container{}, domainerrors.NotFoundError{ID: idOrName}
		}
		return Container{}, domainerrors.EngineError{Op: "inspect", Err: err}
	}

	ctr := Container{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		ctr.Status = inspect.State.Status
		ctr.Running = inspect.State.Running
	}
	if inspect.NetworkSettings != nil {
		ctr.IP = inspect.NetworkSettings.IPAddress
		ctr.HostPort = firstHostPort(inspect.NetworkSettings.Ports)
	}
	return ctr, nil
}

// List returns every container this service manages whose name carries the
// given prefix. Stopped containers are included.
func (c *Client) List(ctx context.Context, namePrefix string) ([]Container, error) {
	list, err := c.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+labelValue),
			filters.Arg("name", namePrefix),
		),
	})
	if err != nil {
		return nil, domainerrors.EngineError{Op: "list", Err: err}
	}

	out := make([]Container, 0, len(list))
	for _, item := range list {
		name := ""
		if len(item.Names) > 0 {
			name = strings.TrimPrefix(item.Names[0], "/")
		}
		hostPort := 0
		for _, p := range item.Ports {
			if p.PublicPort != 0 {
				hostPort = int(p.PublicPort)
				break
			}
		}
		out = append(out, Container{
			ID:       item.ID,
			Name:     name,
			Status:   item.State,
			Running:  item.State == "running",
			HostPort: hostPort,
		})
	}
	return out, nil
}

func (c *Client) Stop(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	err := c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domainerrors.NotFoundError{ID: id}
		}
		return domainerrors.EngineError{Op: "stop", Err: err}
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, id string) error {
	err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domainerrors.NotFoundError{ID: id}
		}
		return domainerrors.EngineError{Op: "remove", Err: err}
	}
	return nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func firstHostPort(ports nat.PortMap) int {
	for _, bindings := range ports {
		for _, b := range bindings {
			if p, err := strconv.Atoi(b.HostPort); err == nil && p != 0 {
				return p
			}
		}
	}
	return 0
}
