package main

import (
	"fmt"
	"os"
	"strings"
)

const usage = `usage: jaqflow <command> [flags]

commands:
  serve     run the engine, HTTP API, MCP endpoint and scheduler (default)
  install   write a config file and create the database
  import    load workflow definitions from YAML files
  backup    create, list, verify or restore backups
  version   print the build version
`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "install":
		runInstall(args)
	case "import":
		runImport(args)
	case "backup":
		runBackup(args)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
