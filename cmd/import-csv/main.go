package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"animehub/internal/catalogcsv"
	"animehub/internal/logging"
	"animehub/internal/syncer"
	"animehub/internal/titles"
	"animehub/pkg/database"
	"animehub/pkg/utils"
)

type counts struct {
	created, updated, failed int
}

func main() {
	var in string

	cmd := &cobra.Command{
		Use:          "import-csv",
		Short:        "Seed the catalog from a titles CSV written by export-csv",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := utils.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("db migrate failed: %w", err)
			}

			f, err := os.Open(in)
			if err != nil {
				return err
			}
			defer f.Close()

			c, err := importTitles(ctx, titles.NewRepo(db), f)
			if err != nil {
				return err
			}
			logging.Info().
				Str("in", in).
				Int("created", c.created).
				Int("updated", c.updated).
				Int("failed", c.failed).
				Msg("[import] done")
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "titles", "data/titles.csv", "input CSV path for titles")

	if err := cmd.Execute(); err != nil {
		logging.Fatal().Err(err).Msg("[import] failed")
	}
}

// importTitles skips bad rows and rows that conflict with a stored title.
func importTitles(ctx context.Context, repo *titles.Repo, in io.Reader) (counts, error) {
	var c counts
	rd, err := catalogcsv.NewReader(in)
	if err != nil {
		return c, err
	}
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return c, nil
		}
		var rowErr *catalogcsv.RowError
		if errors.As(err, &rowErr) {
			c.failed++
			logging.Warn().Err(err).Msg("[import] row skipped")
			continue
		}
		if err != nil {
			return c, err
		}

		created, err := syncer.Upsert(ctx, repo, rec)
		switch {
		case errors.Is(err, titles.ErrConflict):
			c.failed++
			logging.Warn().Err(err).Str("title", rec.Title).Msg("[import] conflict")
		case err != nil:
			return c, fmt.Errorf("upsert %q: %w", rec.Title, err)
		case created:
			c.created++
		default:
			c.updated++
		}
	}
}
