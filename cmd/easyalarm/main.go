package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

var rootCmd = &cobra.Command{
	Use:   "easyalarm",
	Short: "easyalarm - alarm scheduling and live delivery",
	Long: `easyalarm schedules wall-clock alarms and delivers them to connected
clients over Server-Sent Events or WebSocket when they fire.

Configuration is read from environment variables (and an optional .env file);
run "easyalarm config" to see the effective values.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, validateCmd, configCmd, versionCmd)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintf(os.Stderr, "easyalarm: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}
