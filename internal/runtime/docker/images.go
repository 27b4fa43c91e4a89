package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
)

// ensureImage pulls ref unless the daemon already has it. Known images are
// remembered so steady-state runs skip the lookup.
func (e *Executor) ensureImage(ctx context.Context, ref string) error {
	e.imagesMu.Lock()
	_, known := e.images[ref]
	e.imagesMu.Unlock()
	if known {
		return nil
	}

	present, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("list images for %s: %w", ref, err)
	}

	if len(present) == 0 {
		e.logger.Info().Str("image", ref).Msg("pulling image")
		if err := e.pullImage(ctx, ref); err != nil {
			return err
		}
	}

	e.imagesMu.Lock()
	e.images[ref] = struct{}{}
	e.imagesMu.Unlock()
	return nil
}

func (e *Executor) pullImage(ctx context.Context, ref string) error {
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", ref, err)
	}
	return nil
}
