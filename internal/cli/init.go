package cli

import (
	"context"

	"github.com/virt-do/kaps/internal/container"
)

// Represents the hidden 'kaps init' command: the re-executed first process
// of a container. Never invoked by users; create spawns it with the setup
// pipes already wired to fixed descriptors.
type InitCmd struct{}

// Executes the init command.
func (c *InitCmd) Run(ctx context.Context) error {
	return container.RunInit()
}
