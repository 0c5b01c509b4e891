package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sonar/internal/config"
	"sonar/internal/http/handlers"
	applog "sonar/internal/log"
)

type ServeOptions struct {
	*RootOptions
	Host string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local JSON API for desktop front ends",
		Long: `Serve the catalog over HTTP on PORT. The API shares this device's
session and cache, so it listens on localhost unless --host says otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := OpenApp(ctx, cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to start", err)
			}
			defer a.Close()
			return opts.serve(ctx, a)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "127.0.0.1", "interface to listen on")

	return cmd
}

func (o *ServeOptions) serve(ctx context.Context, a *App) error {
	cfg := a.Config
	mediaDir := ""
	if cfg.Backend == config.BackendSQL {
		mediaDir = cfg.MediaDir
	}
	app := handlers.NewApp(handlers.Options{Auth: a.Auth, Catalog: a.Catalog, MediaDir: mediaDir})

	janitorEvery := cfg.GCTime / 2
	if janitorEvery <= 0 {
		janitorEvery = time.Minute
	}
	go a.Cache.RunJanitor(ctx, janitorEvery)

	addr := net.JoinHostPort(o.Host, cfg.Port)
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()
	applog.Info(nil, "server.start", map[string]any{"addr": addr, "backend": cfg.Backend})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	applog.Info(nil, "server.stop", nil)
	return nil
}
