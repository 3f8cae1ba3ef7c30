// Command rastertiled is the server bootstrap (component L): parses CLI
// flags, wires components A-K together, and serves tiles until SIGINT or
// SIGTERM.
package main

import "github.com/MeKo-Tech/rastertiled/internal/cmd"

func main() {
	cmd.Execute()
}
