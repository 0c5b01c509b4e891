package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sonar/internal/config"
	"sonar/internal/remote/sqlbackend"
)

func NewDBCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Maintain the self-hosted database",
	}

	var seed bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the schema, optionally with demo data",
		Long: `Create the categorias, productos, users and sessions tables when they
are missing. With --seed an empty database also gets demo categories,
products and the demo login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendSQL {
				return NewExitError(ExitCommandError, "db init needs SONAR_BACKEND=sql")
			}
			b, err := sqlbackend.Open(sqlbackend.Options{
				Driver:       cfg.DBDriver,
				DSN:          cfg.DBDSN,
				MediaDir:     cfg.MediaDir,
				MediaBaseURL: cfg.MediaBaseURL,
				Seed:         seed,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize database", err)
			}
			defer b.Close()
			p := opts.printer(cmd)
			return p.Success(map[string]any{"driver": cfg.DBDriver, "seeded": seed}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "database ready (%s)\n", cfg.DBDriver)
				return err
			})
		},
	}
	initCmd.Flags().BoolVar(&seed, "seed", false, "insert demo data into an empty database")
	cmd.AddCommand(initCmd)

	return cmd
}
