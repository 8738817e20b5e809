// Package spec loads and validates OCI runtime bundle configurations.
//
// A bundle is a directory holding a root filesystem subtree and a
// config.json document conforming to the OCI runtime specification. [Load]
// parses the document into the upstream runtime-spec types and validates it
// before any OS state is touched: a bundle that fails validation is
// rejected without a single privileged call having been made.
//
// The package also generates configurations: [Default] produces the
// skeleton written by "kaps spec", and [FromImageConfig] seeds the process
// settings from an OCI image configuration.
package spec
