// demo-toolserver serves the demo tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/vikashloomba/mcp-toolhost-go/pkg/demotools"
)

func main() {
	name := ""
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	if err := demotools.ServeStdio(name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
