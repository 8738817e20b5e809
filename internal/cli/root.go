package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/containerd/errdefs"

	"github.com/virt-do/kaps/internal"
	"github.com/virt-do/kaps/internal/cgroups"
	"github.com/virt-do/kaps/internal/container"
	"github.com/virt-do/kaps/internal/mounts"
	"github.com/virt-do/kaps/internal/namespaces"
	"github.com/virt-do/kaps/internal/paths"
	"github.com/virt-do/kaps/internal/spec"
	"github.com/virt-do/kaps/internal/state"
)

// Process exit codes, stable across releases so scripts can branch on them.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitBadSpec    = 2
	ExitPermission = 3
	ExitResources  = 4
)

// Represents the root command for the kaps runtime.
var RootCmd struct {
	Quiet bool   `short:"q" help:"Suppress informational output."`
	Debug bool   `short:"d" help:"Enable debug output."`
	Root  string `help:"Override the default state root directory." placeholder:"DIR"`

	Create  CreateCmd  `cmd:"" help:"Create a container from a bundle."`
	Start   StartCmd   `cmd:"" help:"Start a created container."`
	Run     RunCmd     `cmd:"" help:"Create, start, and wait out a container."`
	Kill    KillCmd    `cmd:"" help:"Send a signal to a container."`
	Delete  DeleteCmd  `cmd:"" help:"Remove a stopped container."`
	State   StateCmd   `cmd:"" help:"Print the state of a container."`
	Spec    SpecCmd    `cmd:"" help:"Generate a runnable config.json."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Init InitCmd `cmd:"" hidden:""`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("A minimal OCI container runtime.\n\nRuns processes inside Linux namespaces from standard OCI bundles."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("app", internal.Name))
}

// Opens the state store, honoring the --root override.
func openStore() (*state.Store, error) {
	root := RootCmd.Root
	if root == "" {
		root = paths.StateRoot()
	}
	return state.NewStore(root)
}

// Maps an execution error onto the documented process exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, spec.ErrMalformed),
		errors.Is(err, spec.ErrMissingField),
		errors.Is(err, spec.ErrUnsupportedNamespace),
		errors.Is(err, spec.ErrInvalidMount),
		errors.Is(err, spec.ErrInvalidResource),
		errors.Is(err, namespaces.ErrUnsupported),
		errors.Is(err, container.ErrInvalidID):
		return ExitBadSpec
	case errors.Is(err, namespaces.ErrPermissionDenied),
		errdefs.IsPermissionDenied(err):
		return ExitPermission
	case errors.Is(err, namespaces.ErrCreationFailed),
		errors.Is(err, cgroups.ErrUnavailable),
		errors.Is(err, mounts.ErrMountFailed),
		errors.Is(err, mounts.ErrPivotFailed),
		errors.Is(err, mounts.ErrPathEscape):
		return ExitResources
	default:
		return ExitFailure
	}
}
