// Command intercom runs the Hub, the per-node Daemon, or both together in
// standalone mode, and provides the thin per-agent tool-server and inbox
// CLI verbs a child agent process uses to reach the Hub, its local Daemon,
// and its own inbox file.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes (spec.md §6): 0 success, 1 config/IO error, 2 auth error.
const (
	exitOK        = 0
	exitConfigErr = 1
	exitAuthErr   = 2
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "intercom",
		Short:         "intercom — message bus for autonomous coding agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "intercom.yaml", "path to the YAML config file")

	root.AddCommand(newHubCmd())
	root.AddCommand(newDaemonCmd())
	root.AddCommand(newStandaloneCmd())
	root.AddCommand(newToolServerCmd())
	root.AddCommand(newCheckInboxCmd())
	return root
}

// cliError carries the exit code a failure should produce, distinct from
// cobra's own usage-error signaling.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func configErr(err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: exitConfigErr, err: err}
}

func authErr(err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: exitAuthErr, err: err}
}

func exitCodeFor(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		fmt.Fprintf(os.Stderr, "intercom: %v\n", ce.err)
		return ce.code
	}
	fmt.Fprintf(os.Stderr, "intercom: %v\n", err)
	return exitConfigErr
}
