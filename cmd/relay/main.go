// relay: MCP tool server for approval-gated planning
//
// A single MCP endpoint that plans requests as tasks the user approves one
// by one, and brokers vector memory, web research and the tools of a
// running JetBrains IDE.
//
// Usage:
//
//	relay serve     # Start the MCP server (stdio transport)
//	relay serve --transport http --addr :8080
//	relay tools     # Print the tool catalog
//	relay version
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
