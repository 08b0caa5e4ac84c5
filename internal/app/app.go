// Package app wires repositories, catalog clients and the sync pipeline from
// a loaded config. Every binary builds its services through here.
package app

import (
	"database/sql"

	"animehub/internal/auth"
	"animehub/internal/events"
	"animehub/internal/matcher"
	"animehub/internal/pending"
	"animehub/internal/providers"
	"animehub/internal/syncer"
	"animehub/internal/synclog"
	"animehub/internal/titles"
	"animehub/pkg/models"
	"animehub/pkg/utils"
)

type Services struct {
	Config *utils.Config
	DB     *sql.DB

	Titles  *titles.Repo
	Pending *pending.Repo
	Logs    *synclog.Repo
	Admins  *auth.Repo
	Tokens  auth.TokenService

	Importer    *syncer.Importer
	Reconcilers map[models.Provider]*syncer.Reconciler
}

// Build assembles the services. pub receives progress events; nil discards them.
func Build(cfg *utils.Config, db *sql.DB, pub events.Publisher) *Services {
	s := &Services{
		Config:  cfg,
		DB:      db,
		Titles:  titles.NewRepo(db),
		Pending: pending.NewRepo(db),
		Logs:    synclog.NewRepo(db),
		Admins:  auth.NewRepo(db),
		Tokens:  cfg.Auth.TokenService(),
	}

	anilist := providers.NewAniList(cfg.AniList.Options()...)
	kitsu := providers.NewKitsu(cfg.Kitsu.Options()...)
	jikan := providers.NewJikan(cfg.Jikan.Options()...)

	finder := matcher.NewCatalogFinder(s.Titles)
	s.Importer = syncer.NewImporter(anilist, s.Titles, s.Logs, pub, cfg.Sync)
	s.Reconcilers = map[models.Provider]*syncer.Reconciler{
		models.ProviderKitsu: syncer.NewReconciler(kitsu, s.Titles, s.Pending, finder, cfg.Match, s.Logs, pub, cfg.Sync),
		models.ProviderMAL:   syncer.NewReconciler(jikan, s.Titles, s.Pending, finder, cfg.Match, s.Logs, pub, cfg.Sync),
	}
	return s
}
