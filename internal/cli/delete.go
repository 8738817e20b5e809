package cli

import (
	"context"
	"log/slog"

	"github.com/virt-do/kaps/internal/container"
)

// Represents the 'kaps delete' command.
type DeleteCmd struct {
	ID    string `arg:"" help:"Container id."`
	Force bool   `short:"f" help:"Kill the container's processes first if still running."`
}

// Executes the delete command.
func (c *DeleteCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	ctr, err := container.Load(store, c.ID)
	if err != nil {
		return err
	}

	if err := ctr.Delete(c.Force); err != nil {
		return err
	}

	slog.Info("deleted", "id", ctr.ID())
	return nil
}
