package cli

import (
	"context"
	"log/slog"

	"github.com/moby/sys/signal"

	"github.com/virt-do/kaps/internal/container"
)

// Represents the 'kaps kill' command.
type KillCmd struct {
	ID     string `arg:"" help:"Container id."`
	Signal string `arg:"" optional:"" default:"SIGTERM" help:"Signal name or number to deliver."`
}

// Executes the kill command.
//
// The signal is accepted by name (with or without the SIG prefix) or by
// number, matching what other runtimes take.
func (c *KillCmd) Run(ctx context.Context) error {
	sig, err := signal.ParseSignal(c.Signal)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	ctr, err := container.Load(store, c.ID)
	if err != nil {
		return err
	}

	if err := ctr.Kill(sig); err != nil {
		return err
	}

	slog.Info("signalled", "id", ctr.ID(), "signal", c.Signal)
	return nil
}
