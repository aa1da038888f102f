// toolhost: run a fleet of MCP tool servers behind one client layer.
//
// Usage:
//
//	toolhost serve   -config servers.yaml   # start every server and the HTTP gateway
//	toolhost catalog -config servers.yaml   # print the aggregate tool catalog
//	toolhost call    -config servers.yaml <server> <tool> [json-args]
//	toolhost traces  -db traces.db [-server name] [-limit n]
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "catalog":
		err = runCatalog(os.Args[2:])
	case "call":
		err = runCall(os.Args[2:])
	case "traces":
		err = runTraces(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Printf("toolhost v%s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `toolhost v%s

Usage:
  toolhost serve   [-config file] [-addr :8700] [-token secret] [-trace-db file]
  toolhost catalog [-config file] [-o file]
  toolhost call    [-config file] <server> <tool> [json-args]
  toolhost traces  [-db file] [-server name] [-limit n]

The config file is YAML or JSON. It is either a list of servers or a
document with a "servers" key.
`, version)
}
