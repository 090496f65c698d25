// Package main is the shared compiler server started by the csc and vbc clients.
package main

import (
	"buildpipe/cli"
	"os"
)

func main() {
	os.Exit(cli.Execute(cli.NewServerCommand()))
}
