// Package commands defines the safechat CLI.
//
// Commands
//
//   - listen       Wait for one peer on --host/--port and chat with it
//   - dial         Connect to a listening peer and chat with it
//   - fingerprint  Print the fingerprint of a public key, or of a fresh one
//
// # Implementation
//
// The root command loads configuration (flags, SAFECHAT_* environment, then
// the config file) and builds the shared app wiring before any subcommand
// runs. listen and dial share one chat loop: each stdin line is sent as a
// message, received messages are printed as "[peer] text", and the
// connection is stopped on SIGINT/SIGTERM or end of input.
package commands
