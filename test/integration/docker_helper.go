package integration

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
)

// dockerHelper provides utilities for interacting with Docker in tests.
type dockerHelper struct {
	client *client.Client
}

// newDockerHelper creates a new Docker helper for tests.
func newDockerHelper(t *testing.T) *dockerHelper {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err, "Failed to create Docker client")

	return &dockerHelper{client: cli}
}

// startContainer pulls the image and starts a long running container, the
// container is removed on the test cleanup.
func (d *dockerHelper) startContainer(t *testing.T, imageRef, containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := d.client.ImagePull(ctx, imageRef, image.PullOptions{})
	require.NoError(t, err, "Failed to pull image %s", imageRef)
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	d.cleanupContainer(t, containerName)
	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: imageRef,
		Cmd:   []string{"sleep", "300"},
	}, nil, nil, nil, containerName)
	require.NoError(t, err, "Failed to create container %s", containerName)

	t.Cleanup(func() { d.cleanupContainer(t, containerName) })

	err = d.client.ContainerStart(ctx, resp.ID, container.StartOptions{})
	require.NoError(t, err, "Failed to start container %s", containerName)
	d.requireContainerRunning(t, containerName)
}

// stopContainer stops a container.
func (d *dockerHelper) stopContainer(t *testing.T, containerName string) {
	timeout := 1
	err := d.client.ContainerStop(context.Background(), containerName, container.StopOptions{Timeout: &timeout})
	require.NoError(t, err, "Failed to stop container %s", containerName)
}

// getContainerStatus returns the status of a container (running, exited, etc).
func (d *dockerHelper) getContainerStatus(t *testing.T, containerName string) string {
	ctx := context.Background()
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	require.NoError(t, err, "Failed to list containers")

	for _, c := range containers {
		for _, name := range c.Names {
			// Docker names start with /
			if name == "/"+containerName || name == containerName {
				return c.State
			}
		}
	}
	return ""
}

// requireContainerRunning asserts that a container is running.
func (d *dockerHelper) requireContainerRunning(t *testing.T, containerName string) {
	status := d.getContainerStatus(t, containerName)
	require.Equal(t, "running", status,
		"Expected container %s to be running, got status: %s", containerName, status)
}

// cleanupContainer removes a container if it exists (for test cleanup).
func (d *dockerHelper) cleanupContainer(t *testing.T, containerName string) {
	ctx := context.Background()
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		t.Logf("Warning: Failed to list containers during cleanup: %v", err)
		return
	}

	for _, c := range containers {
		for _, name := range c.Names {
			if name == "/"+containerName || name == containerName {
				if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
					t.Logf("Warning: Failed to remove container %s during cleanup: %v", containerName, err)
				} else {
					t.Logf("Cleaned up container: %s", containerName)
				}
				return
			}
		}
	}
}
