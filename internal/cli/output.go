package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"sonar/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the backend refused or the input was invalid
	ExitCommandError = 2 // bad flags, unreadable config, no session
)

// ExitError carries the exit code a command wants.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Printer writes command results as text tables or JSON.
type Printer struct {
	Format string
	Writer io.Writer
}

func (p *Printer) json() bool { return p.Format == "json" }

// Success writes data. text renders it for humans.
func (p *Printer) Success(data any, text func(w io.Writer) error) error {
	if p.json() {
		return json.NewEncoder(p.Writer).Encode(Response{Status: "ok", Data: data})
	}
	return text(p.Writer)
}

// Error writes err in JSON mode; in text mode cobra prints it.
func (p *Printer) Error(err error) error {
	if !p.json() {
		return nil
	}
	kind := "internal"
	var de *domain.Error
	if errors.As(err, &de) {
		kind = string(de.Kind)
	}
	return json.NewEncoder(p.Writer).Encode(Response{Status: "error", Error: &ResponseError{Kind: kind, Message: err.Error()}})
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "si"
	}
	return "no"
}

func writeProducts(w io.Writer, pg domain.ProductPage) error {
	tw := table(w)
	fmt.Fprintln(tw, "ID\tNOMBRE\tPRECIO\tSTOCK\tCANTIDAD\tCATEGORIA")
	for _, p := range pg.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.Name, p.Price.StringFixed(2), yesNo(p.InStock), p.StockQty, deref(p.Category))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d products\n", len(pg.Rows), pg.Total)
	return err
}

func writeProduct(w io.Writer, p *domain.Product) error {
	tw := table(w)
	fmt.Fprintf(tw, "ID\t%d\n", p.ID)
	fmt.Fprintf(tw, "NOMBRE\t%s\n", p.Name)
	fmt.Fprintf(tw, "DESCRIPCION\t%s\n", deref(p.Description))
	fmt.Fprintf(tw, "PRECIO\t%s\n", p.Price.StringFixed(2))
	fmt.Fprintf(tw, "STOCK\t%s\n", yesNo(p.InStock))
	fmt.Fprintf(tw, "CANTIDAD\t%d\n", p.StockQty)
	fmt.Fprintf(tw, "CATEGORIA\t%s (%d)\n", deref(p.Category), p.CategoryID)
	fmt.Fprintf(tw, "IMAGEN\t%s\n", deref(p.Image))
	return tw.Flush()
}

func writeCategories(w io.Writer, cats []domain.Category) error {
	tw := table(w)
	fmt.Fprintln(tw, "ID\tDESCRIPCION")
	for _, c := range cats {
		fmt.Fprintf(tw, "%d\t%s\n", c.ID, c.Description)
	}
	return tw.Flush()
}

func writeUser(w io.Writer, u *domain.User) error {
	_, err := fmt.Fprintf(w, "%s (empresa %d)\n", u.Email, u.TenantID)
	return err
}
