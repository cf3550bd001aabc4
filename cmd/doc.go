// Package cmd implements the command-line interface of mprpc. It provides
// a server that exposes a set of builtin methods and a client to call them.
//
// The package is organized into several subpackages:
//
//   - serve: Starts an mprpc server with the builtin methods (echo, add, sleep, ping, notify.log)
//   - call: Calls a method on a server, and benchmarks servers with call perf
//   - util: Shared utilities for command-line processing and configuration (internal use)
//   - mprpc: The main package of the binary
//
// Every flag can also be set via an environment variable prefixed with MPRPC_
// or in a .env file. See mprpc -help for a list of all commands.
package cmd
