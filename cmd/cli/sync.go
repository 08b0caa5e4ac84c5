package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"animehub/internal/syncer"
	"animehub/pkg/models"
)

type syncFlags struct {
	contentType string
	mode        string
	maxPages    int
	startPage   int
	startFromID int64
	resume      bool
	async       bool
}

func (f *syncFlags) payload(cmd *cobra.Command) map[string]any {
	p := map[string]any{
		"contentType": f.contentType,
		"mode":        f.mode,
		"maxPages":    f.maxPages,
		"startPage":   f.startPage,
		"resume":      f.resume,
		"async":       f.async,
	}
	if cmd.Flags().Changed("start-from-id") {
		p["startFromId"] = f.startFromID
	}
	return p
}

func (f *syncFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", string(syncer.ModePaged), "paged or complete")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "Pages to import in paged mode (server default when 0)")
	cmd.Flags().IntVar(&f.startPage, "start-page", 0, "First page to fetch")
	cmd.Flags().Int64Var(&f.startFromID, "start-from-id", 0, "Complete mode: only ids above this one")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "Continue from the stored checkpoint")
	cmd.Flags().BoolVar(&f.async, "async", false, "Start the run in the background and print its id")
}

type runAccepted struct {
	RunID string          `json:"runId"`
	State syncer.RunState `json:"state"`
}

func newSyncCommand(ctx *cliContext) *cobra.Command {
	f := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import titles from AniList",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := models.ParseContentType(f.contentType); err != nil {
				return err
			}
			c := ctx.client()
			if f.async {
				var acc runAccepted
				if err := c.do(cmd.Context(), http.MethodPost, "/admin/sync", true, f.payload(cmd), &acc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", acc.RunID, acc.State)
				return nil
			}
			var res syncer.Result
			err := c.do(cmd.Context(), http.MethodPost, "/admin/sync", true, f.payload(cmd), &res)
			if err != nil && res.RunID == "" {
				return err
			}
			if ctx.jsonOut {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			}
			printResults(cmd.OutOrStdout(), []models.ContentType{models.ContentType(f.contentType)}, []*syncer.Result{&res})
			return err
		},
	}
	cmd.Flags().StringVar(&f.contentType, "type", string(models.ContentAnime), "anime or manga")
	f.bind(cmd)
	cmd.AddCommand(newSyncAllCommand(ctx))
	return cmd
}

func newSyncAllCommand(ctx *cliContext) *cobra.Command {
	f := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Import anime and manga concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := ctx.client()
			if f.async {
				var acc runAccepted
				if err := c.do(cmd.Context(), http.MethodPost, "/admin/sync/all", true, f.payload(cmd), &acc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", acc.RunID, acc.State)
				return nil
			}
			var out struct {
				Success bool             `json:"success"`
				Results []syncer.Outcome `json:"results"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/admin/sync/all", true, f.payload(cmd), &out); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), out)
			}
			cts := make([]models.ContentType, 0, len(out.Results))
			results := make([]*syncer.Result, 0, len(out.Results))
			for _, o := range out.Results {
				if o.Error != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", o.ContentType, o.Error)
				}
				if o.Result != nil {
					cts = append(cts, o.ContentType)
					results = append(results, o.Result)
				}
			}
			printResults(cmd.OutOrStdout(), cts, results)
			if !out.Success {
				return fmt.Errorf("one or more imports failed")
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func printResults(w io.Writer, cts []models.ContentType, results []*syncer.Result) {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		rows = append(rows, []string{
			string(cts[i]),
			r.RunID,
			string(r.Status),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.ErrorCount),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Type", "Run", "Status", "Pages", "Processed", "Created", "Updated", "Errors"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	for _, r := range results {
		for _, e := range r.Errors {
			fmt.Fprintln(w, "  !", e)
		}
	}
}

func newReconcileCommand(ctx *cliContext) *cobra.Command {
	var (
		contentType string
		provider    string
		limit       int
		daysBack    int
		async       bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match recently updated Kitsu or MAL entries against the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]any{
				"contentType": contentType,
				"provider":    provider,
				"limit":       limit,
				"daysBack":    daysBack,
				"async":       async,
			}
			c := ctx.client()
			if async {
				var acc runAccepted
				if err := c.do(cmd.Context(), http.MethodPost, "/admin/reconcile", true, payload, &acc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", acc.RunID, acc.State)
				return nil
			}
			var res syncer.ReconcileResult
			err := c.do(cmd.Context(), http.MethodPost, "/admin/reconcile", true, payload, &res)
			if err != nil && res.RunID == "" {
				return err
			}
			if ctx.jsonOut {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Status", "Processed", "Confident", "Uncertain", "New", "Updated", "Skipped", "Errors"},
				[][]string{{
					res.RunID,
					string(res.Status),
					strconv.Itoa(res.ProcessedCount),
					strconv.Itoa(res.ConfidentMatches),
					strconv.Itoa(res.UncertainMatches),
					strconv.Itoa(res.NewItems),
					strconv.Itoa(res.Updated),
					strconv.Itoa(res.Skipped),
					strconv.Itoa(res.ErrorCount),
				}},
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return err
		},
	}
	cmd.Flags().StringVar(&contentType, "type", string(models.ContentAnime), "anime or manga")
	cmd.Flags().StringVar(&provider, "provider", string(models.ProviderKitsu), "kitsu or mal")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to examine (server default when 0)")
	cmd.Flags().IntVar(&daysBack, "days-back", 7, "Only records updated within this many days")
	cmd.Flags().BoolVar(&async, "async", false, "Start the run in the background and print its id")
	return cmd
}

func newRunsCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List background runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			if len(args) == 1 {
				var info syncer.RunInfo
				if err := c.do(cmd.Context(), http.MethodGet, "/admin/sync/runs/"+url.PathEscape(args[0]), true, nil, &info); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			}
			var out struct {
				Items []syncer.RunInfo `json:"items"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/admin/sync/runs", true, nil, &out); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), out.Items)
			}
			rows := make([][]string, 0, len(out.Items))
			for _, r := range out.Items {
				rows = append(rows, []string{
					r.ID, string(r.Kind), string(r.ContentType), string(r.State),
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Kind", "Type", "State", "Started", "Error"}, rows, nil))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a background run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info syncer.RunInfo
			if err := ctx.client().do(cmd.Context(), http.MethodDelete, "/admin/sync/runs/"+url.PathEscape(args[0]), true, nil, &info); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", info.ID, info.State)
			return nil
		},
	})
	return cmd
}

func newStatusCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync checkpoints per content type and provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Items []models.ContentSyncStatus `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/admin/sync/status", true, nil, &out); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), out.Items)
			}
			rows := make([][]string, 0, len(out.Items))
			for _, s := range out.Items {
				lastID := "-"
				if s.LastExternalID != nil {
					lastID = strconv.FormatInt(*s.LastExternalID, 10)
				}
				rows = append(rows, []string{
					string(s.ContentType), string(s.Provider), string(s.Status),
					strconv.Itoa(s.LastPage), lastID, strconv.Itoa(s.TotalProcessed),
					s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Type", "Provider", "Status", "Last page", "Last id", "Processed", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newLogsCommand(ctx *cliContext) *cobra.Command {
	var (
		contentType string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "logs [id]",
		Short: "Show recent sync log entries, or one entry in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			if len(args) == 1 {
				var l models.SyncLog
				if err := c.do(cmd.Context(), http.MethodGet, "/admin/sync/logs/"+url.PathEscape(args[0]), true, nil, &l); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), l)
			}
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if contentType != "" {
				q.Set("content_type", contentType)
			}
			var out struct {
				Items []models.SyncLog `json:"items"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/admin/sync/logs?"+q.Encode(), true, nil, &out); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), out.Items)
			}
			rows := make([][]string, 0, len(out.Items))
			for _, l := range out.Items {
				rows = append(rows, []string{
					l.ID, string(l.Kind), string(l.ContentType), string(l.Provider), string(l.Status),
					strconv.Itoa(l.Processed), strconv.Itoa(l.Created), strconv.Itoa(l.Updated),
					strconv.Itoa(l.Pending), strconv.Itoa(l.ErrorCount),
					l.StartedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "Type", "Provider", "Status", "Processed", "Created", "Updated", "Pending", "Errors", "Started"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "Filter by anime or manga")
	cmd.Flags().IntVar(&limit, "limit", 20, "Entries to show")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
