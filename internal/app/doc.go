// Package app wires application dependencies for the CLI.
//
// It loads Config from flags, environment and an optional config file,
// builds the logger, metrics registry and identity service from it, and
// hands out connection services that share them.
package app
