package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/manthysbr/metaingest/internal/core/ports"
)

// Manager resolves image references against the local Docker engine.
type Manager struct {
	cli  *client.Client
	pull bool
}

// NewManager creates a new Docker manager from the standard DOCKER_* env.
// With pull set, an image missing locally is pulled before inspection.
func NewManager(pull bool, opts ...client.Opt) (*Manager, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Manager{cli: cli, pull: pull}, nil
}

// Ensure Manager implements DigestResolver
var _ ports.DigestResolver = (*Manager)(nil)

// ResolveDigest returns the repository digest of ref ("sha256:..."), or the
// local image ID when the image was never pushed.
func (m *Manager) ResolveDigest(ctx context.Context, ref string) (string, error) {
	inspect, err := m.cli.ImageInspect(ctx, ref)
	if client.IsErrNotFound(err) && m.pull {
		reader, pullErr := m.cli.ImagePull(ctx, ref, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", ref, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		inspect, err = m.cli.ImageInspect(ctx, ref)
	}
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	return digestOf(inspect), nil
}

func (m *Manager) Close() error {
	return m.cli.Close()
}

func digestOf(inspect image.InspectResponse) string {
	for _, rd := range inspect.RepoDigests {
		if i := strings.LastIndex(rd, "@"); i >= 0 {
			return rd[i+1:]
		}
	}
	return inspect.ID
}
