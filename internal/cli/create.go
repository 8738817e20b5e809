package cli

import (
	"context"
	"log/slog"

	"github.com/virt-do/kaps/internal/container"
	"github.com/virt-do/kaps/internal/spec"
)

// Represents the 'kaps create' command.
type CreateCmd struct {
	ID     string `arg:"" help:"Container id."`
	Bundle string `short:"b" default:"." help:"Path to the bundle directory." placeholder:"DIR"`
}

// Executes the create command.
//
// Loads and validates the bundle, then sets the container up to the point
// where its entry program is resolved and waiting for start.
func (c *CreateCmd) Run(ctx context.Context) error {
	b, err := spec.Load(c.Bundle)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	ctr, err := container.Create(store, c.ID, b)
	if err != nil {
		return err
	}

	slog.Info("created", "id", ctr.ID())
	return nil
}
