package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"animehub/pkg/models"
)

type titlePage struct {
	Total int            `json:"total"`
	Items []models.Title `json:"items"`
}

func titlesQuery(q, contentType, status, genre string, limit, offset int) string {
	v := url.Values{}
	for k, s := range map[string]string{"q": q, "content_type": contentType, "status": status, "genre": genre} {
		if s != "" {
			v.Set(k, s)
		}
	}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))
	return "/titles?" + v.Encode()
}

func newTitlesCommand(ctx *cliContext) *cobra.Command {
	var (
		q, contentType, status, genre string
		limit, offset                 int
	)
	cmd := &cobra.Command{
		Use:   "titles [id]",
		Short: "Search the catalog, or show one title",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			if len(args) == 1 {
				var t models.Title
				if err := c.do(cmd.Context(), http.MethodGet, "/titles/"+url.PathEscape(args[0]), false, nil, &t); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			}
			var page titlePage
			if err := c.do(cmd.Context(), http.MethodGet, titlesQuery(q, contentType, status, genre, limit, offset), false, nil, &page); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), page)
			}
			rows := make([][]string, 0, len(page.Items))
			for _, t := range page.Items {
				rows = append(rows, []string{
					t.ID, string(t.ContentType), t.Title, optFloat(t.Score), optInt(t.Year), idList(t),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Title", "Score", "Year", "External ids"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(page.Items), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&q, "query", "q", "", "Title search")
	cmd.Flags().StringVar(&contentType, "type", "", "anime or manga")
	cmd.Flags().StringVar(&status, "status", "", "Release status")
	cmd.Flags().StringVar(&genre, "genre", "", "Genre name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset")
	return cmd
}

func newExportCommand(ctx *cliContext) *cobra.Command {
	var (
		contentType string
		format      string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the catalog as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			c := ctx.client()
			var all []models.Title
			const pageSize = 100
			for offset := 0; ; offset += pageSize {
				var page titlePage
				if err := c.do(cmd.Context(), http.MethodGet, titlesQuery("", contentType, "", "", pageSize, offset), false, nil, &page); err != nil {
					return err
				}
				all = append(all, page.Items...)
				if len(page.Items) < pageSize {
					break
				}
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if format == "json" {
				return printJSON(w, all)
			}
			return writeTitlesCSV(w, all)
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "anime or manga (both when empty)")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file")
	return cmd
}

func writeTitlesCSV(w io.Writer, items []models.Title) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "content_type", "title", "title_english", "score", "year", "anilist_id", "mal_id", "kitsu_id", "genres"})
	for _, t := range items {
		_ = cw.Write([]string{
			t.ID, string(t.ContentType), t.Title, t.TitleEnglish,
			optFloat(t.Score), optInt(t.Year),
			optID(t.AniListID), optID(t.MALID), optID(t.KitsuID),
			strings.Join(t.Genres, ";"),
		})
	}
	cw.Flush()
	return cw.Error()
}

func newPendingCommand(ctx *cliContext) *cobra.Command {
	var (
		contentType, status string
		limit               int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List uncertain matches waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := url.Values{}
			v.Set("status", status)
			v.Set("limit", strconv.Itoa(limit))
			if contentType != "" {
				v.Set("content_type", contentType)
			}
			var out struct {
				Total int                   `json:"total"`
				Items []models.PendingMatch `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/admin/pending?"+v.Encode(), true, nil, &out); err != nil {
				return err
			}
			if ctx.jsonOut {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out.Items))
			for _, m := range out.Items {
				best := "-"
				if len(m.Candidates) > 0 {
					best = fmt.Sprintf("%s (%s)", m.Candidates[0].Title, m.Candidates[0].TitleID)
				}
				decision := "open"
				if m.Decision != nil {
					decision = string(*m.Decision)
				}
				rows = append(rows, []string{
					m.ID, string(m.Provider), strconv.FormatInt(m.ExternalID, 10), m.Record.Title,
					strconv.FormatFloat(m.ConfidenceScore, 'f', 2, 64), best, decision,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Provider", "External id", "Title", "Confidence", "Best candidate", "Decision"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(out.Items), out.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "anime or manga")
	cmd.Flags().StringVar(&status, "status", "open", "open, decided or all")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.AddCommand(newResolveCommand(ctx))
	return cmd
}

func newResolveCommand(ctx *cliContext) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "resolve <id> <approved|rejected|merged>",
		Short: "Decide a pending match",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := models.ParseDecision(args[1])
			if err != nil {
				return err
			}
			payload := map[string]any{"decision": decision}
			if target != "" {
				payload["targetTitleId"] = target
			}
			var m models.PendingMatch
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/admin/pending/"+url.PathEscape(args[0])+"/resolve", true, payload, &m); err != nil {
				return err
			}
			resolved := "-"
			if m.ResolvedTitleID != nil {
				resolved = *m.ResolvedTitleID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s, title %s\n", m.ID, decision, resolved)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Title id to merge into (merged only)")
	return cmd
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func optID(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func idList(t models.Title) string {
	var parts []string
	if t.AniListID != nil {
		parts = append(parts, "anilist:"+optID(t.AniListID))
	}
	if t.MALID != nil {
		parts = append(parts, "mal:"+optID(t.MALID))
	}
	if t.KitsuID != nil {
		parts = append(parts, "kitsu:"+optID(t.KitsuID))
	}
	return strings.Join(parts, " ")
}
