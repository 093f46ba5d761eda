// Command plugctl is the plugin author's workbench: it validates manifests,
// previews a migration directory, and applies migrations to a host database.
package main

import (
	"flag"
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: plugctl <command> [options]

Commands:
  validate   Validate a plugin manifest
  inspect    Show a migration directory's parsed scripts
  migrate    Apply a migration directory to a host database

Run "plugctl <command> -h" for command options.
`)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch flag.Arg(0) {
	case "validate":
		err = runValidate(flag.Args()[1:])
	case "inspect":
		err = runInspect(flag.Args()[1:])
	case "migrate":
		err = runMigrate(flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
