// Package unix provides the Unix domain socket connectors of the RPC runtime for
// processes running on the same machine. The listener removes a stale socket file
// before binding. Everything else is inherited from the base package.
package unix
