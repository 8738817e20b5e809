package cli

import (
	"context"
	"log/slog"

	"github.com/virt-do/kaps/internal/container"
)

// Represents the 'kaps start' command.
type StartCmd struct {
	ID string `arg:"" help:"Container id."`
}

// Executes the start command.
//
// Releases the entry program of a created container and returns without
// waiting for it.
func (c *StartCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	ctr, err := container.Load(store, c.ID)
	if err != nil {
		return err
	}

	if err := ctr.Start(); err != nil {
		return err
	}

	slog.Info("started", "id", ctr.ID())
	return nil
}
