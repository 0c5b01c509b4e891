package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"sonar/internal/cache"
	"sonar/internal/domain"
	applog "sonar/internal/log"
	"sonar/internal/services"
	"sonar/internal/validate"
)

type WatchOptions struct {
	*RootOptions
	Category int64
	For      time.Duration
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Search products as you type",
		Long: `Read search terms from stdin, one per line, and show the matching
products. Terms typed faster than SEARCH_DEBOUNCE are skipped; only the
last one is searched. The listing is refreshed whenever the cached page
changes, until --for elapses after stdin ends.

Example:
  sonar products watch --categoria 2 --for 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *App, p *Printer) error {
				return opts.run(ctx, a, p, cmd.InOrStdin())
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Category, "categoria", 0, "category id (1 means all)")
	cmd.Flags().DurationVar(&opts.For, "for", 0, "keep showing updates this long after stdin ends")

	return cmd
}

func (o *WatchOptions) run(ctx context.Context, a *App, p *Printer, in io.Reader) error {
	w := &watcher{ctx: ctx, catalog: a.Catalog, printer: p, base: domain.ProductFilter{CategoryID: o.Category}}
	defer w.close()

	d := services.NewDebouncer(a.Config.SearchDebounce, func(term string) { w.show(term, false) })
	last := ""
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		term, ok := validate.Q(sc.Text())
		if !ok {
			applog.Warn(nil, "watch.term.invalid", nil, map[string]any{"term": sc.Text()})
			continue
		}
		last = term
		d.Submit(term)
	}
	d.Stop()
	if err := sc.Err(); err != nil {
		return err
	}
	w.show(last, true)

	if o.For > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(o.For):
		}
	}
	return w.err()
}

// watcher keeps one cache subscription for the term being shown.
type watcher struct {
	ctx     context.Context
	catalog *services.CatalogService
	printer *Printer
	base    domain.ProductFilter

	showMu sync.Mutex // serializes show
	final  bool
	term   string
	sub    *cache.Subscription

	outMu   sync.Mutex
	last    []byte
	lastErr error
}

// show switches to term. Once the final term is shown, debounced terms that
// arrive late are ignored.
func (w *watcher) show(term string, final bool) {
	w.showMu.Lock()
	defer w.showMu.Unlock()
	if w.final {
		return
	}
	w.final = final
	if w.sub != nil && term == w.term {
		return
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
	f := w.base
	f.Name = term
	w.term = term
	w.sub = w.catalog.WatchProducts(f, func(pg domain.ProductPage, err error) { w.print(term, pg, err) })

	pg, err := w.catalog.Products(w.ctx, f)
	w.print(term, pg, err)
}

// print skips pages identical to the last one shown.
func (w *watcher) print(term string, pg domain.ProductPage, err error) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if err != nil {
		w.lastErr = err
		_ = w.printer.Error(err)
		return
	}
	w.lastErr = nil

	var buf bytes.Buffer
	if w.printer.json() {
		_ = json.NewEncoder(&buf).Encode(Response{Status: "ok", Data: map[string]any{"nombre": term, "page": pg}})
	} else {
		fmt.Fprintf(&buf, "-- nombre=%q\n", term)
		_ = writeProducts(&buf, pg)
	}
	if bytes.Equal(buf.Bytes(), w.last) {
		return
	}
	w.last = buf.Bytes()
	_, _ = w.printer.Writer.Write(w.last)
}

func (w *watcher) err() error {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	return w.lastErr
}

func (w *watcher) close() {
	w.showMu.Lock()
	defer w.showMu.Unlock()
	w.final = true
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
}
