// Package main is the C# compiler client. It forwards its command line to
// a shared compiler server, starting one when none is running.
package main

import (
	"buildpipe/cli"
	"buildpipe/message"
	"os"
)

func main() {
	os.Exit(cli.Execute(cli.NewClientCommand(message.CSharpCompile)))
}
