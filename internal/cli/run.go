package cli

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/virt-do/kaps/internal/container"
	"github.com/virt-do/kaps/internal/spec"
)

// Represents the 'kaps run' command.
type RunCmd struct {
	ID     string `help:"Container id. A random id is generated when omitted."`
	Bundle string `short:"b" default:"." help:"Path to the bundle directory." placeholder:"DIR"`
}

// Executes the run command.
//
// The one-shot path: creates, starts, and waits out a container, removing
// its record on the way out. The process exits with the entry program's
// own exit code.
func (c *RunCmd) Run(ctx context.Context) error {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	b, err := spec.Load(c.Bundle)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}

	code, err := container.Run(store, id, b)
	if err != nil {
		return err
	}

	if code != 0 {
		os.Exit(code)
	}
	return nil
}
