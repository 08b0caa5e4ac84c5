// Command syncer runs one import or reconcile pass against the local
// database and exits. Useful from cron when the API server is not running.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"animehub/internal/app"
	"animehub/internal/logging"
	"animehub/internal/syncer"
	"animehub/pkg/database"
	"animehub/pkg/models"
	"animehub/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncer",
		Short:         "One-shot catalog import and reconcile",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCommand(), newReconcileCommand())
	return root
}

func services() (*app.Services, func(), error) {
	cfg, err := utils.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(cfg.Log)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return app.Build(cfg, db, nil), func() { _ = db.Close() }, nil
}

func newImportCommand() *cobra.Command {
	var (
		contentType string
		mode        string
		maxPages    int
		startPage   int
		resume      bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import from AniList into the local catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := syncer.ParseMode(mode)
			if err != nil {
				return err
			}
			svc, closeDB, err := services()
			if err != nil {
				return err
			}
			defer closeDB()

			req := syncer.Request{Mode: m, MaxPages: maxPages, StartPage: startPage, Resume: resume}

			if contentType == "all" {
				failed := false
				for _, o := range syncer.RunBoth(cmd.Context(), svc.Importer, svc.Importer, req) {
					if o.Result != nil {
						printResult(cmd, o.ContentType, o.Result)
					}
					if o.Err != nil {
						failed = true
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", o.ContentType, o.Err)
					}
				}
				if failed {
					return errors.New("import failed")
				}
				return nil
			}

			ct, err := models.ParseContentType(contentType)
			if err != nil {
				return err
			}
			req.ContentType = ct
			res, err := svc.Importer.Run(cmd.Context(), req)
			if res != nil {
				printResult(cmd, ct, res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "all", "anime, manga or all")
	cmd.Flags().StringVar(&mode, "mode", string(syncer.ModePaged), "paged or complete")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Page cap (0: configured default for paged, none for complete)")
	cmd.Flags().IntVar(&startPage, "start-page", 0, "First page")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the last checkpoint")
	return cmd
}

func printResult(cmd *cobra.Command, ct models.ContentType, r *syncer.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s run %s %s: pages=%d processed=%d created=%d updated=%d errors=%d\n",
		ct, r.RunID, r.Status, r.Pages, r.Processed, r.Created, r.Updated, r.ErrorCount)
}

func newReconcileCommand() *cobra.Command {
	var (
		contentType string
		provider    string
		limit       int
		daysBack    int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile recently updated Kitsu or MAL entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ct, err := models.ParseContentType(contentType)
			if err != nil {
				return err
			}
			p, err := models.ParseProvider(provider)
			if err != nil {
				return err
			}
			svc, closeDB, err := services()
			if err != nil {
				return err
			}
			defer closeDB()

			rc, ok := svc.Reconcilers[p]
			if !ok {
				return fmt.Errorf("no reconciler for provider %q", p)
			}
			res, err := rc.Run(cmd.Context(), syncer.ReconcileRequest{ContentType: ct, Limit: limit, DaysBack: daysBack})
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s/%s run %s %s: processed=%d confident=%d uncertain=%d new=%d updated=%d skipped=%d errors=%d\n",
					ct, p, res.RunID, res.Status, res.ProcessedCount, res.ConfidentMatches, res.UncertainMatches,
					res.NewItems, res.Updated, res.Skipped, res.ErrorCount)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&contentType, "type", string(models.ContentAnime), "anime or manga")
	cmd.Flags().StringVar(&provider, "provider", string(models.ProviderKitsu), "kitsu or mal")
	cmd.Flags().IntVar(&limit, "limit", 0, "Records to examine (0: configured default)")
	cmd.Flags().IntVar(&daysBack, "days-back", 7, "Look back this many days")
	return cmd
}
