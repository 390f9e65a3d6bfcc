// Package llmproxy implements the command-line entry point (spec §6
// CLI): a cobra root command with run and version subcommands (config
// validation is run's -t/--test-config flag),
// modeled on caddy's cmd/cobra.go root-command factory and cmd/main.go
// Main() (GOMAXPROCS tuning, exitError-carried exit codes).
package llmproxy

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/llmproxy/llmproxy/internal/applog"
)

const version = "0.1.0"

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmproxy",
		Short: "A reverse proxy and load balancer for LLM backends",
		Long: `llmproxy accepts client HTTP requests on one or more listening
sockets ("forwards"), routes each request to an upstream group by path,
selects a backend upstream by a pluggable balancing strategy, and
relays the request — including long-lived streaming responses — with
retry, rate-limit, timeout, and circuit-breaker safeguards. An admin
API permits inspecting and mutating the routing, upstream, and group
tables at runtime without a restart.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(runCommand())
	root.AddCommand(versionCommand())
	return root
}

// exitError carries a process exit code through cobra's RunE chain up
// to Main, mirroring caddy's cmd/cobra.go exitError.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exiting with status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Main is the process entry point called from the repository's root
// main.go.
func Main() {
	undo, err := maxprocs.Set(maxprocs.Logger(applog.L().Sugar().Infof))
	defer undo()
	if err != nil {
		applog.L().Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	if err := rootCommand().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, "llmproxy:", ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "llmproxy:", err)
		os.Exit(1)
	}
}
