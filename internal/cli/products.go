package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"sonar/internal/domain"
	"sonar/internal/services"
	"sonar/internal/validate"
)

func NewProductsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"productos"},
		Short:   "List, search and edit products",
	}
	cmd.AddCommand(newProductsListCommand(opts))
	cmd.AddCommand(newProductsGetCommand(opts))
	cmd.AddCommand(newProductsCreateCommand(opts))
	cmd.AddCommand(newProductsUpdateCommand(opts))
	cmd.AddCommand(newProductsDeleteCommand(opts))
	cmd.AddCommand(newProductsStockCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	return cmd
}

func parseID(arg string) (int64, error) {
	id, ok := validate.ID(arg)
	if !ok {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid product id %q", arg))
	}
	return id, nil
}

type listOptions struct {
	Name     string
	Category int64
	Page     int
}

func (o *listOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Name, "nombre", "", "name contains (case-insensitive)")
	cmd.Flags().Int64Var(&o.Category, "categoria", 0, "category id (1 means all)")
	cmd.Flags().IntVar(&o.Page, "page", 0, "1-based page when PAGE_SIZE is set")
}

func (o *listOptions) filter() (domain.ProductFilter, error) {
	name, ok := validate.Q(o.Name)
	if !ok {
		return domain.ProductFilter{}, NewExitError(ExitCommandError, "invalid --nombre")
	}
	if o.Page < 0 {
		return domain.ProductFilter{}, NewExitError(ExitCommandError, "invalid --page")
	}
	return domain.ProductFilter{Name: name, CategoryID: o.Category, Page: o.Page}, nil
}

func newProductsListCommand(opts *RootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active products",
		Long: `List active products, optionally filtered by name and category.

Example:
  sonar products list --nombre cafe --categoria 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := lo.filter()
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				pg, err := a.Catalog.Products(ctx, f)
				if err != nil {
					return err
				}
				return p.Success(pg, func(w io.Writer) error { return writeProducts(w, pg) })
			})
		},
	}
	lo.bind(cmd)
	return cmd
}

func newProductsGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				prod, err := a.Catalog.Product(ctx, id)
				if err != nil {
					return err
				}
				return p.Success(prod, func(w io.Writer) error { return writeProduct(w, prod) })
			})
		},
	}
}

// productFlags are shared by create and update. Update only sends the
// flags that were given.
type productFlags struct {
	Name        string
	Description string
	Price       string
	Qty         int
	InStock     bool
	Category    int64
	Image       string
}

func (f *productFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "nombre", "", "product name")
	cmd.Flags().StringVar(&f.Description, "descripcion", "", "description")
	cmd.Flags().StringVar(&f.Price, "precio", "", "price, e.g. 2.50")
	cmd.Flags().IntVar(&f.Qty, "cantidad", 0, "units in stock")
	cmd.Flags().BoolVar(&f.InStock, "stock", false, "mark as available")
	cmd.Flags().Int64Var(&f.Category, "categoria", 0, "category id")
	cmd.Flags().StringVar(&f.Image, "imagen", "", "path to an image file to upload")
}

func (f *productFlags) image() (*services.ImageFile, error) {
	if f.Image == "" {
		return nil, nil
	}
	if !validate.ImageName(f.Image) {
		return nil, NewExitError(ExitCommandError, "--imagen must be a jpg, png, webp or gif file")
	}
	body, err := os.ReadFile(f.Image)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read image", err)
	}
	return &services.ImageFile{Name: filepath.Base(f.Image), Body: body}, nil
}

func (f *productFlags) draft() (domain.ProductDraft, error) {
	d := domain.ProductDraft{Name: f.Name, StockQty: f.Qty, InStock: f.InStock, CategoryID: f.Category}
	if f.Description != "" {
		desc := f.Description
		d.Description = &desc
	}
	if f.Price != "" {
		price, ok := validate.Price(f.Price)
		if !ok {
			return d, NewExitError(ExitCommandError, "invalid --precio")
		}
		d.Price = price
	}
	return d, nil
}

func (f *productFlags) patch(cmd *cobra.Command) (domain.ProductPatch, error) {
	var p domain.ProductPatch
	changed := cmd.Flags().Changed
	if changed("nombre") {
		p.Name = &f.Name
	}
	if changed("descripcion") {
		p.Description = &f.Description
	}
	if changed("precio") {
		price, ok := validate.Price(f.Price)
		if !ok {
			return p, NewExitError(ExitCommandError, "invalid --precio")
		}
		p.Price = &price
	}
	if changed("cantidad") {
		p.StockQty = &f.Qty
	}
	if changed("stock") {
		p.InStock = &f.InStock
	}
	if changed("categoria") {
		p.CategoryID = &f.Category
	}
	return p, nil
}

func newProductsCreateCommand(opts *RootOptions) *cobra.Command {
	pf := &productFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product",
		Long: `Create a product, uploading its image first when --imagen is given.

Example:
  sonar products create --nombre "Flan" --precio 2.10 --cantidad 6 --stock --categoria 4 --imagen flan.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pf.draft()
			if err != nil {
				return err
			}
			img, err := pf.image()
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				prod, err := a.Catalog.CreateProductWithImage(ctx, d, img)
				if err != nil {
					return err
				}
				return p.Success(prod, func(w io.Writer) error { return writeProduct(w, prod) })
			})
		},
	}
	pf.bind(cmd)
	return cmd
}

func newProductsUpdateCommand(opts *RootOptions) *cobra.Command {
	pf := &productFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change some fields of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			patch, err := pf.patch(cmd)
			if err != nil {
				return err
			}
			img, err := pf.image()
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				var old string
				if img != nil {
					cur, err := a.Catalog.Product(ctx, id)
					if err != nil {
						return err
					}
					if cur.Image != nil {
						old = *cur.Image
					}
				}
				prod, err := a.Catalog.UpdateProductWithImage(ctx, id, patch, img, old)
				if err != nil {
					return err
				}
				return p.Success(prod, func(w io.Writer) error { return writeProduct(w, prod) })
			})
		},
	}
	pf.bind(cmd)
	return cmd
}

func newProductsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				if err := a.Catalog.DeleteProduct(ctx, id); err != nil {
					return err
				}
				return p.Success(map[string]int64{"id": id}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deleted product %d\n", id)
					return err
				})
			})
		},
	}
}

func newProductsStockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock <id> <delta>",
		Short: "Add units to (or remove units from) a product's stock",
		Long: `Adjust stock by a signed amount. Removing more units than are in
stock fails and changes nothing.

Example:
  sonar products stock 3 -- -2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			delta, ok := validate.Delta(args[1])
			if !ok {
				return NewExitError(ExitCommandError, "delta must be a non-zero integer, got "+strconv.Quote(args[1]))
			}
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				prod, err := a.Catalog.AdjustStock(ctx, id, delta)
				if err != nil {
					return err
				}
				return p.Success(prod, func(w io.Writer) error { return writeProduct(w, prod) })
			})
		},
	}
}
