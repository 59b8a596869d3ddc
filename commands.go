package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/duynguyendang/fiscalxml/internal/config"
	"github.com/duynguyendang/fiscalxml/internal/manager"
	"github.com/duynguyendang/fiscalxml/pkg/docstore"
	"github.com/duynguyendang/fiscalxml/pkg/export"
	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
	"github.com/duynguyendang/fiscalxml/pkg/ingest"
	"github.com/duynguyendang/fiscalxml/pkg/server"
	"github.com/duynguyendang/fiscalxml/pkg/walker"
)

// cli owns the app built for the running command. The app is closed by
// main, since cobra skips post-run hooks when a command fails.
type cli struct {
	flags globalFlags
	app   *app
}

func (c *cli) close() {
	if c.app != nil {
		c.app.close()
	}
}

func newRootCmd(c *cli) *cobra.Command {
	g := &c.flags

	root := &cobra.Command{
		Use:          "fiscalxml",
		Short:        "Import, query and export Brazilian fiscal XML documents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "configuration file (default "+config.DefaultFile+" when present)")
	pf.StringVar(&g.envFile, "env-file", "", "dotenv file (default .env when present)")
	pf.StringVar(&g.dataDir, "data", "", "data directory holding the workspaces")
	pf.StringVarP(&g.workspace, "workspace", "w", "", "company workspace")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newImportCmd(c),
		newLoadCmd(c),
		newListCmd(c),
		newShowCmd(c),
		newExportCmd(c),
		newDeleteCmd(c),
		newStatsCmd(c),
		newWorkspaceCmd(c),
		newServeCmd(c),
	)
	return root
}

func newImportCmd(c *cli) *cobra.Command {
	var mode string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import XML files and archives found under path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			m, err := walker.ParseMode(mode)
			if err != nil {
				return err
			}

			var progress fiscal.ProgressFunc
			if !quiet {
				progress = progressPrinter(cmd.ErrOrStderr())
			}
			res, err := a.svc.Import(cmd.Context(), a.workspace(), args[0], m, progress)
			if res != nil {
				if !quiet {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "recursive", "walk mode: file, dir or recursive")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not report progress")
	return cmd
}

func newLoadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the workspace store and report its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			n, err := a.svc.Load(cmd.Context(), a.workspace(), progressPrinter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d documents loaded\n", n)
			return nil
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var ff filterFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			f, err := ff.filter()
			if err != nil {
				return err
			}
			if err := load(cmd, a); err != nil {
				return err
			}
			docs := a.svc.Query(cmd.Context(), a.workspace(), f)
			if asJSON {
				_, err := export.Write(cmd.Context(), cmd.OutOrStdout(), docs, export.JSON, export.DefaultColumns())
				return err
			}
			return printTable(cmd.OutOrStdout(), docs)
		},
	}
	ff.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <type> <access-key>",
		Short: "Show one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			t, err := fiscal.ParseDocumentType(args[0])
			if err != nil {
				return err
			}
			k := fiscal.Key{Type: t, AccessKey: args[1]}

			if raw {
				data, err := a.svc.Raw(cmd.Context(), a.workspace(), k)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := load(cmd, a); err != nil {
				return err
			}
			doc, err := a.svc.Get(cmd.Context(), a.workspace(), k)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the original XML")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var ff filterFlags
	var format, columns string
	var items, listFields bool

	cmd := &cobra.Command{
		Use:   "export <dest>",
		Short: "Export documents to an xlsx, csv or json file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listFields {
				for _, name := range export.Fields() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			if len(args) != 1 {
				return errors.New("export needs a destination file")
			}
			a := c.app
			dest := args[0]
			if format == "" {
				format = filepath.Ext(dest)
			}
			fmtv, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var cols []export.Column
			if columns != "" {
				if cols, err = export.ParseColumns(columns); err != nil {
					return err
				}
			}
			f, err := ff.filter()
			if err != nil {
				return err
			}
			var opts []export.Option
			if items {
				opts = append(opts, export.WithItems())
			}

			if err := load(cmd, a); err != nil {
				return err
			}
			start := time.Now()
			n, err := a.svc.Export(cmd.Context(), a.workspace(), f, fmtv, cols, dest, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows written to %s in %s\n", n, dest, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	ff.bind(cmd)
	cmd.Flags().StringVar(&format, "format", "", "xlsx, csv or json (default from the file extension)")
	cmd.Flags().StringVar(&columns, "columns", "", "comma separated field[:Header] list; see --list-fields")
	cmd.Flags().BoolVar(&items, "items", false, "one row per item")
	cmd.Flags().BoolVar(&listFields, "list-fields", false, "print the exportable fields and exit")
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <access-key>",
		Short: "Delete every document stored under an access key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := c.app
			n, err := a.svc.Delete(cmd.Context(), a.workspace(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d documents deleted\n", n)
			return nil
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			if err := load(cmd, a); err != nil {
				return err
			}
			st, err := a.svc.Stats(cmd.Context(), a.workspace())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newWorkspaceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage company workspaces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.app.svc.Workspaces()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTAX ID")
			for _, ws := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.TaxID)
			}
			return tw.Flush()
		},
	}

	var meta manager.WorkspaceMetadata
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta.ID = args[0]
			return c.app.svc.CreateWorkspace(meta)
		},
	}
	create.Flags().StringVar(&meta.Name, "name", "", "company name")
	create.Flags().StringVar(&meta.TaxID, "tax-id", "", "company CNPJ")
	create.Flags().StringVar(&meta.Description, "description", "", "free text")

	cmd.AddCommand(list, create)
	return cmd
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			// The default workspace is loaded up front when it exists.
			if _, err := a.svc.Load(cmd.Context(), a.workspace(), nil); err != nil {
				a.logger.Warn("default workspace not loaded", "workspace", a.workspace(), "error", err)
			}

			srv := server.NewServer(a.svc, a.workspace(), server.WithGatherer(a.registry))
			a.logger.Info("starting REST API server", "addr", addr, "data", a.cfg.Store.DataDir)
			return srv.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from configuration)")
	return cmd
}

// filterFlags binds the document filter to command flags.
type filterFlags struct {
	types    []string
	statuses []string
	from, to string
	text     string
	fuzzy    bool
	sort     string
	offset   int
	limit    int
}

func (ff *filterFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&ff.types, "type", "t", nil, "document types: nfe, nfce, cte, nfse, mdfe, cce, event")
	fs.StringSliceVar(&ff.statuses, "status", nil, "statuses: authorized, cancelled, denied, unknown")
	fs.StringVar(&ff.from, "from", "", "issued on or after (YYYY-MM-DD)")
	fs.StringVar(&ff.to, "to", "", "issued on or before (YYYY-MM-DD)")
	fs.StringVarP(&ff.text, "search", "s", "", "search access key, number and parties")
	fs.BoolVar(&ff.fuzzy, "fuzzy", false, "accept party names similar to --search")
	fs.StringVar(&ff.sort, "sort", "", "date-asc or date-desc")
	fs.IntVar(&ff.offset, "offset", 0, "skip the first n documents")
	fs.IntVar(&ff.limit, "limit", 0, "return at most n documents")
}

func (ff *filterFlags) filter() (docstore.Filter, error) {
	f := docstore.Filter{
		Text:   ff.text,
		Fuzzy:  ff.fuzzy,
		Offset: ff.offset,
		Limit:  ff.limit,
	}
	for _, v := range ff.types {
		t, err := fiscal.ParseDocumentType(v)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, t)
	}
	for _, v := range ff.statuses {
		st, err := fiscal.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	var err error
	if f.DateFrom, f.DateTo, err = docstore.ParseDayRange(ff.from, ff.to); err != nil {
		return f, err
	}
	if f.Sort, err = docstore.ParseSort(ff.sort); err != nil {
		return f, err
	}
	if f.Offset < 0 || f.Limit < 0 {
		return f, errors.New("offset and limit must not be negative")
	}
	return f, nil
}

// load makes the workspace store queryable before a read command.
func load(cmd *cobra.Command, a *app) error {
	_, err := a.svc.Load(cmd.Context(), a.workspace(), nil)
	return err
}

// progressPrinter rewrites one status line, at most every 200ms.
func progressPrinter(w io.Writer) fiscal.ProgressFunc {
	var last time.Time
	return func(p fiscal.Progress) {
		if time.Since(last) < 200*time.Millisecond {
			return
		}
		last = time.Now()
		fmt.Fprintf(w, "\rscanned %d  extracted %d  duplicates %d  errors %d  committed %d",
			p.Scanned, p.Extracted, p.Duplicates, p.Errors, p.Committed)
	}
}

func printResult(w io.Writer, res *ingest.Result) {
	p := res.Progress
	state := res.State.String()
	if res.Partial {
		state += " (partial)"
	}
	fmt.Fprintf(w, "run %s %s in %s\n", res.RunID, state, res.Elapsed().Round(time.Millisecond))
	fmt.Fprintf(w, "scanned %d, extracted %d, duplicates %d, errors %d, committed %d\n",
		p.Scanned, p.Extracted, p.Duplicates, p.Errors, p.Committed)
	if len(res.Errors) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPATH\tMESSAGE")
	for _, fe := range res.Errors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", fe.Kind, fe.SourcePath, fe.Message)
	}
	tw.Flush()
}

func printTable(w io.Writer, docs iter.Seq2[fiscal.Document, error]) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tACCESS KEY\tNUMBER\tISSUED\tISSUER\tTOTAL\tSTATUS")
	for doc, err := range docs {
		if err != nil {
			tw.Flush()
			return err
		}
		issued := ""
		if doc.IssueDate != nil {
			issued = doc.IssueDate.Format(docstore.DayLayout)
		}
		total := ""
		if doc.TotalValue.Valid {
			total = doc.TotalValue.Decimal.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			doc.Type.Code(), doc.AccessKey, doc.Number, issued, truncate(doc.IssuerName, 32), total, doc.Status)
	}
	return tw.Flush()
}

func printStats(w io.Writer, st docstore.Stats) {
	fmt.Fprintf(w, "documents  %d\nitems      %d\ntotal      %s\nunresolved %d\n",
		st.Documents, st.Items, st.TotalValue.StringFixed(2), st.Unresolved)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTYPE\tCOUNT")
	for _, t := range fiscal.AllTypes() {
		if n := st.ByType[t]; n > 0 {
			fmt.Fprintf(tw, "%s\t%d\n", t.Code(), n)
		}
	}
	fmt.Fprintln(tw, "\nSTATUS\tCOUNT")
	for _, s := range slices.Sorted(maps.Keys(st.ByStatus)) {
		fmt.Fprintf(tw, "%s\t%d\n", s, st.ByStatus[s])
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
