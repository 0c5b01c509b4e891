package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"sonar/internal/domain"
	"sonar/internal/validate"
)

func NewCategoriesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"categorias"},
		Short:   "List and create product categories",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories by description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				cats, err := a.Catalog.Categories(ctx)
				if err != nil {
					return err
				}
				return p.Success(cats, func(w io.Writer) error { return writeCategories(w, cats) })
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <descripcion>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, ok := validate.Name(args[0])
			if !ok {
				return NewExitError(ExitCommandError, "invalid description")
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				cat, err := a.Catalog.CreateCategory(ctx, desc)
				if err != nil {
					return err
				}
				return p.Success(cat, func(w io.Writer) error {
					return writeCategories(w, []domain.Category{*cat})
				})
			})
		},
	})
	return cmd
}
