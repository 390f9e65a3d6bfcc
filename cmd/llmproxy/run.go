package llmproxy

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmproxy/llmproxy/internal/admin"
	"github.com/llmproxy/llmproxy/internal/applog"
	"github.com/llmproxy/llmproxy/internal/config"
	"github.com/llmproxy/llmproxy/internal/server"
	"github.com/llmproxy/llmproxy/internal/state"
)

const (
	defaultShutdownTimeout = 30
	minShutdownTimeout     = 1
	maxShutdownTimeout     = 120
)

type runFlags struct {
	configPath      string
	debug           bool
	testConfig      bool
	shutdownTimeout int
}

func runCommand() *cobra.Command {
	fl := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run llmproxy in the foreground, or validate config with --test-config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMain(fl)
		},
	}
	cmd.Flags().StringVarP(&fl.configPath, "config", "c", "config.yaml", "Configuration file")
	cmd.Flags().BoolVarP(&fl.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&fl.testConfig, "test-config", "t", false, "Validate the configuration file and exit")
	cmd.Flags().IntVar(&fl.shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "Seconds to wait for in-flight requests to drain on shutdown")
	return cmd
}

func runMain(fl *runFlags) error {
	if err := applog.Init(fl.debug); err != nil {
		return fail(1, fmt.Errorf("initializing logger: %w", err))
	}
	defer applog.Sync()

	cfg, err := config.Load(fl.configPath)
	if err != nil {
		return fail(1, fmt.Errorf("loading config %q: %w", fl.configPath, err))
	}
	if err := cfg.Validate(); err != nil {
		return fail(1, fmt.Errorf("invalid config: %w", err))
	}

	if fl.testConfig {
		fmt.Fprintf(os.Stdout, "config %q is valid\n", fl.configPath)
		return nil
	}

	snap, err := config.Build(cfg, 0)
	if err != nil {
		return fail(1, fmt.Errorf("building runtime state: %w", err))
	}
	store := state.NewStore(snap)
	mutator := admin.NewMutator(*cfg, store)

	timeout := clampShutdownTimeout(fl.shutdownTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forwards := make([]*server.Forward, 0, len(cfg.HTTPServer.Forwards))
	for _, f := range cfg.HTTPServer.Forwards {
		fwd, ferr := server.NewForward(ctx, f.Name, store)
		if ferr != nil {
			return fail(1, fmt.Errorf("starting forward %q: %w", f.Name, ferr))
		}
		forwards = append(forwards, fwd)
	}

	adminServer := &adminListener{}
	if err := adminServer.start(ctx, cfg.HTTPServer.Admin, mutator); err != nil {
		return fail(1, fmt.Errorf("starting admin server: %w", err))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(forwards))
	for _, fwd := range forwards {
		wg.Add(1)
		go func(f *server.Forward) {
			defer wg.Done()
			applog.L().Info("forward listening", zap.String("forward", f.Name), zap.String("addr", f.Listener.Addr().String()))
			if serveErr := f.Serve(); serveErr != nil {
				errCh <- fmt.Errorf("forward %q: %w", f.Name, serveErr)
			}
		}(fwd)
	}

	<-ctx.Done()
	applog.L().Info("shutting down", zap.Int("timeout_seconds", timeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	unclean := false
	for _, fwd := range forwards {
		if err := fwd.Shutdown(shutdownCtx); err != nil {
			applog.L().Warn("forward shutdown did not complete cleanly", zap.String("forward", fwd.Name), zap.Error(err))
			unclean = true
		}
	}
	if err := adminServer.shutdown(shutdownCtx); err != nil {
		applog.L().Warn("admin server shutdown did not complete cleanly", zap.Error(err))
		unclean = true
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		applog.L().Error("forward exited with error", zap.Error(err))
		unclean = true
	}

	if unclean {
		return fail(1, fmt.Errorf("shutdown did not complete cleanly within %ds", timeout))
	}
	return nil
}

func clampShutdownTimeout(seconds int) int {
	if seconds < minShutdownTimeout {
		return minShutdownTimeout
	}
	if seconds > maxShutdownTimeout {
		return maxShutdownTimeout
	}
	return seconds
}
