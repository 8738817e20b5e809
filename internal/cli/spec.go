package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	imagespec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/virt-do/kaps/internal/spec"
)

// Represents the 'kaps spec' command.
type SpecCmd struct {
	Bundle      string `short:"b" default:"." help:"Directory to write config.json into." placeholder:"DIR"`
	ImageConfig string `help:"Seed the spec from an OCI image configuration file." placeholder:"FILE"`
}

// Executes the spec command.
//
// Writes a runnable config.json into the bundle directory, optionally
// seeded from an OCI image configuration. Refuses to overwrite an existing
// document; hand-edited configs are not clobbered by a stray invocation.
func (c *SpecCmd) Run(ctx context.Context) error {
	path := filepath.Join(c.Bundle, spec.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s already exists", spec.ErrMalformed, path)
	}

	s := spec.Default()
	if c.ImageConfig != "" {
		data, err := os.ReadFile(c.ImageConfig)
		if err != nil {
			return fmt.Errorf("%w: read image configuration: %w", spec.ErrMalformed, err)
		}
		var img imagespec.Image
		if err := json.Unmarshal(data, &img); err != nil {
			return fmt.Errorf("%w: parse image configuration: %w", spec.ErrMalformed, err)
		}
		s = spec.FromImageConfig(img.Config)
	}

	if err := spec.Save(s, path); err != nil {
		return err
	}

	slog.Info("spec written", "path", path)
	return nil
}
