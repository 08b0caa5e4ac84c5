package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"animehub/internal/logging"
	"animehub/pkg/database"
	"animehub/pkg/utils"
)

func main() {
	var titlesOut, logsOut string

	cmd := &cobra.Command{
		Use:          "export-csv",
		Short:        "Write the catalog and sync history to CSV files",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("db migrate failed: %w", err)
			}

			n, err := exportFile(titlesOut, func(w io.Writer) (int, error) { return exportTitles(ctx, db, w) })
			if err != nil {
				return fmt.Errorf("export titles: %w", err)
			}
			m, err := exportFile(logsOut, func(w io.Writer) (int, error) { return exportSyncLogs(ctx, db, w) })
			if err != nil {
				return fmt.Errorf("export sync logs: %w", err)
			}

			logging.Info().
				Int("titles", n).Str("titles_out", titlesOut).
				Int("sync_logs", m).Str("sync_logs_out", logsOut).
				Msg("[export] done")
			return nil
		},
	}
	cmd.Flags().StringVar(&titlesOut, "titles", "data/titles.csv", "output CSV path for titles")
	cmd.Flags().StringVar(&logsOut, "sync-logs", "data/sync_logs.csv", "output CSV path for sync logs")

	if err := cmd.Execute(); err != nil {
		logging.Fatal().Err(err).Msg("[export] failed")
	}
}

func exportFile(path string, write func(io.Writer) (int, error)) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return write(f)
}

func exportTitles(ctx context.Context, db *sql.DB, out io.Writer) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write([]string{
		"id", "content_type", "anilist_id", "mal_id", "kitsu_id", "title", "title_english", "title_japanese",
		"score", "year", "status", "format", "episodes", "chapters", "volumes", "genres",
	}); err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, `
        SELECT t.id, t.content_type, t.anilist_id, t.mal_id, t.kitsu_id,
               t.title, t.title_english, t.title_japanese, t.score, t.year,
               COALESCE(a.status, m.status), COALESCE(a.format, m.format),
               a.episodes, m.chapters, m.volumes,
               (SELECT GROUP_CONCAT(g.name, ';') FROM title_genres tg
                  JOIN genres g ON g.id = tg.genre_id WHERE tg.title_id = t.id)
        FROM titles t
        LEFT JOIN anime_details a ON a.title_id = t.id
        LEFT JOIN manga_details m ON m.title_id = t.id
        ORDER BY t.content_type, t.title
    `)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			id, contentType, title            string
			anilistID, malID, kitsuID         sql.NullInt64
			english, japanese, status, format sql.NullString
			score                             sql.NullFloat64
			year, episodes, chapters, volumes sql.NullInt64
			genres                            sql.NullString
		)
		if err := rows.Scan(&id, &contentType, &anilistID, &malID, &kitsuID,
			&title, &english, &japanese, &score, &year,
			&status, &format, &episodes, &chapters, &volumes, &genres); err != nil {
			return n, err
		}

		scoreStr := ""
		if score.Valid {
			scoreStr = strconv.FormatFloat(score.Float64, 'f', 2, 64)
		}
		if err := w.Write([]string{
			id, contentType, nullInt(anilistID), nullInt(malID), nullInt(kitsuID),
			title, english.String, japanese.String, scoreStr, nullInt(year),
			status.String, format.String, nullInt(episodes), nullInt(chapters), nullInt(volumes),
			genres.String,
		}); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}

	w.Flush()
	return n, w.Error()
}

func exportSyncLogs(ctx context.Context, db *sql.DB, out io.Writer) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write([]string{
		"id", "content_type", "provider", "kind", "status", "pages", "processed",
		"created", "updated", "pending", "error_count", "message", "started_at", "finished_at",
	}); err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, `
        SELECT id, content_type, provider, kind, status, pages, processed,
               created, updated, pending, error_count, message, started_at, finished_at
        FROM sync_logs
        ORDER BY started_at DESC
    `)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			id, contentType, provider, kind, status     string
			pages, processed, created, updated, pending int
			errorCount                                  int
			message                                     sql.NullString
			startedAt                                   time.Time
			finishedAt                                  sql.NullTime
		)
		if err := rows.Scan(&id, &contentType, &provider, &kind, &status, &pages, &processed,
			&created, &updated, &pending, &errorCount, &message, &startedAt, &finishedAt); err != nil {
			return n, err
		}

		finished := ""
		if finishedAt.Valid {
			finished = finishedAt.Time.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{
			id, contentType, provider, kind, status,
			strconv.Itoa(pages), strconv.Itoa(processed), strconv.Itoa(created),
			strconv.Itoa(updated), strconv.Itoa(pending), strconv.Itoa(errorCount),
			message.String, startedAt.UTC().Format(time.RFC3339), finished,
		}); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}

	w.Flush()
	return n, w.Error()
}

func nullInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}
