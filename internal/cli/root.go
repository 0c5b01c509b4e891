package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sonar/internal/config"
	applog "sonar/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sonar CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sonar",
		Short: "Sonar - inventory for small businesses",
		Long:  "Sign in, then browse, search and edit the product catalog of your business.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			applog.SetDebug(opts.Verbose)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $SONAR_CONFIG)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewCategoriesCommand(opts))
	cmd.AddCommand(NewDBCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) printer(cmd *cobra.Command) *Printer {
	return &Printer{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// withApp runs fn against a freshly wired App and reports fn's error in
// the selected format.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *App, p *Printer) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := OpenApp(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	p := o.printer(cmd)
	if err := fn(ctx, a, p); err != nil {
		_ = p.Error(err)
		return err
	}
	return nil
}

// withSession is withApp for commands that need a signed-in user.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(ctx context.Context, a *App, p *Printer) error) error {
	return o.withApp(cmd, func(ctx context.Context, a *App, p *Printer) error {
		if !a.Auth.IsAuthenticated() {
			return NewExitError(ExitCommandError, "not signed in: run sonar login")
		}
		return fn(ctx, a, p)
	})
}
