// Parses flags and dispatches the kaps subcommands.
//
// The runtime accepts the following global flags:
//
//	-q, --quiet   Suppress informational output.
//	-d, --debug   Enable debug output.
//	    --root    Override the default state root directory.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level before the
// subcommand runs.
package cli
