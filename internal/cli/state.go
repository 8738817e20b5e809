package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/virt-do/kaps/internal/container"
)

// Represents the 'kaps state' command.
type StateCmd struct {
	ID string `arg:"" help:"Container id."`
}

// Executes the state command.
//
// Prints the container's state document to stdout. The status is verified
// against the live process first, so a container whose process died since
// the last command reports stopped rather than a stale running.
func (c *StateCmd) Run(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	ctr, err := container.Load(store, c.ID)
	if err != nil {
		return err
	}

	st := ctr.State()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	return enc.Encode(&st)
}
