// Package cli provides the command-line entry points of the compiler client
// binaries and the compiler server, built on the Cobra CLI framework.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	// Version holds the build version.
	// This value is typically set at build time using -ldflags.
	Version = "0.0.0-dev"
)

// ExitError carries a process exit code that is not a failure of the tool
// itself, such as the compiler's own non-zero exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// Execute runs cmd and returns the process exit code. Failures are printed
// as a single error line on stderr and exit with 1.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	printError(cmd.ErrOrStderr(), err)
	return 1
}

func printError(w io.Writer, err error) {
	if w == nil {
		w = os.Stderr
	}
	pterm.Error.WithWriter(w).Println(err.Error())
}
