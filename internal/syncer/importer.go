package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"animehub/internal/events"
	"animehub/internal/logging"
	"animehub/internal/metrics"
	"animehub/internal/normalize"
	"animehub/internal/providers"
	"animehub/internal/synclog"
	"animehub/internal/titles"
	"animehub/pkg/models"
)

var (
	ErrInvalidRequest = errors.New("invalid sync request")
	// ErrProviderDown ends a run after too many page fetches failed in a row.
	ErrProviderDown = errors.New("provider keeps failing")
)

type Mode string

const (
	// ModePaged walks a bounded number of pages in popularity order.
	ModePaged Mode = "paged"
	// ModeComplete walks by ascending id until the provider runs out.
	ModeComplete Mode = "complete"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePaged:
		return ModePaged, nil
	case ModeComplete:
		return ModeComplete, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrInvalidRequest, s)
}

type Request struct {
	RunID       string // optional, used as the sync log id
	ContentType models.ContentType
	Mode        Mode
	MaxPages    int // 0: default for paged, unbounded for complete
	StartPage   int
	StartFromID *int64
	// Resume continues from the stored content_sync_status when StartPage
	// and StartFromID are unset.
	Resume bool
}

type Result struct {
	RunID      string            `json:"runId"`
	Status     models.SyncStatus `json:"status"`
	Processed  int               `json:"totalProcessed"`
	Created    int               `json:"totalCreated"`
	Updated    int               `json:"totalUpdated"`
	Pages      int               `json:"pages"`
	ErrorCount int               `json:"errorCount"`
	Errors     []string          `json:"errors"`
}

// Importer pulls pages from one provider and writes new or refreshed titles.
type Importer struct {
	Source providers.Source
	Titles *titles.Repo
	Logs   *synclog.Repo
	Events events.Publisher
	Opts   Options
}

func NewImporter(src providers.Source, t *titles.Repo, logs *synclog.Repo, pub events.Publisher, opts Options) *Importer {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Importer{Source: src, Titles: t, Logs: logs, Events: pub, Opts: opts.withDefaults()}
}

func (im *Importer) prepare(ctx context.Context, req Request) (Request, error) {
	if !req.ContentType.Valid() {
		return req, fmt.Errorf("%w: content type %q", ErrInvalidRequest, req.ContentType)
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return req, err
	}
	req.Mode = mode
	if req.MaxPages < 0 || req.StartPage < 0 {
		return req, fmt.Errorf("%w: negative page bounds", ErrInvalidRequest)
	}

	if req.Resume && req.StartPage == 0 && req.StartFromID == nil {
		st, err := im.Logs.GetStatus(ctx, req.ContentType, im.Source.Provider())
		if err != nil {
			return req, err
		}
		if st != nil {
			switch req.Mode {
			case ModeComplete:
				req.StartFromID = st.LastExternalID
			default:
				req.StartPage = st.LastPage + 1
			}
		}
	}

	if req.StartPage == 0 {
		req.StartPage = 1
	}
	if req.Mode == ModePaged && req.MaxPages == 0 {
		req.MaxPages = im.Opts.DefaultMaxPages
	}
	if req.Mode == ModeComplete && req.StartFromID == nil {
		zero := int64(0)
		req.StartFromID = &zero
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return req, nil
}

// Run executes one import. Record and page failures are counted and the run
// continues; only an invalid request or an unusable store returns early.
func (im *Importer) Run(ctx context.Context, req Request) (*Result, error) {
	opts := im.Opts.withDefaults()
	req, err := im.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	provider := im.Source.Provider()
	kind := models.SyncImport
	if req.Mode == ModeComplete {
		kind = models.SyncComplete
	}

	if _, err := im.Logs.Open(ctx, models.SyncLog{
		ID:          req.RunID,
		ContentType: req.ContentType,
		Provider:    provider,
		Kind:        kind,
		StartPage:   req.StartPage,
	}); err != nil {
		return nil, err
	}

	log := logging.With().
		Str("run_id", req.RunID).
		Str("content_type", string(req.ContentType)).
		Str("provider", string(provider)).
		Str("mode", string(req.Mode)).
		Logger()
	log.Info().Int("start_page", req.StartPage).Int("max_pages", req.MaxPages).Msg("[sync] run started")

	started := time.Now()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	st := newRunState(req.RunID, req.StartPage, opts.MaxErrorMessages)
	im.publish(events.TypeRunStarted, kind, req, provider, st, "", "")

	status := models.SyncCompleted
	var runErr error
	consecutive := 0
	page := req.StartPage

	for walked := 0; req.MaxPages == 0 || walked < req.MaxPages; walked++ {
		if ctx.Err() != nil {
			status = models.SyncCancelled
			break
		}
		st.currentPage = page

		pg, err := im.Source.FetchPage(ctx, providers.PageQuery{
			ContentType: req.ContentType,
			Page:        page,
			PerPage:     opts.PerPage,
			StartFromID: req.StartFromID,
		})
		if err != nil {
			if ctx.Err() != nil {
				status = models.SyncCancelled
				break
			}
			consecutive++
			st.fail("page %d: %v", page, err)
			metrics.PageErrors.WithLabelValues(string(provider), string(req.ContentType)).Inc()
			log.Warn().Err(err).Int("page", page).Msg("[sync] page fetch failed, skipping")

			if consecutive >= opts.MaxConsecutivePageErrors {
				status = models.SyncFailed
				runErr = fmt.Errorf("%w: %d consecutive page errors", ErrProviderDown, consecutive)
				break
			}
			if req.Mode == ModeComplete {
				if err := sleep(ctx, opts.PageErrorPause); err != nil {
					status = models.SyncCancelled
					break
				}
			}
			page++
			continue
		}
		consecutive = 0

		if len(pg.Records) == 0 {
			log.Info().Int("page", page).Msg("[sync] empty page, stopping")
			break
		}

		for _, raw := range pg.Records {
			if ctx.Err() != nil {
				break
			}
			st.processed++
			outcome, err := im.importRecord(ctx, raw)
			if err != nil {
				st.fail("%s %d: %v", raw.Provider, raw.ID, err)
				metrics.RecordOutcome(string(req.ContentType), "error")
				log.Debug().Err(err).Int64("external_id", raw.ID).Msg("[sync] record failed")
				continue
			}
			switch outcome {
			case outcomeCreated:
				st.created++
			case outcomeUpdated:
				st.updated++
			}
			metrics.RecordOutcome(string(req.ContentType), outcome)
			if raw.ID > 0 {
				st.seen(raw.ID)
			}
		}
		st.pages++

		im.checkpoint(ctx, req, provider, st, len(pg.Records), models.SyncRunning)
		im.publish(events.TypeRunPage, kind, req, provider, st, "", "")

		if req.Mode == ModeComplete && !pg.HasNextPage {
			break
		}
		page++
	}

	if status == models.SyncCompleted && ctx.Err() != nil {
		status = models.SyncCancelled
	}
	message := ""
	if runErr != nil {
		message = runErr.Error()
	}

	// the run context may already be cancelled; the final write must still land
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := im.Logs.Finish(finishCtx, req.RunID, status, st.snapshot(), message); err != nil {
		log.Error().Err(err).Msg("[sync] could not close sync log")
	}
	im.checkpoint(finishCtx, req, provider, st, 0, status)
	im.publish(events.TypeRunFinished, kind, req, provider, st, string(status), message)
	metrics.RunDuration.WithLabelValues(string(kind), string(status)).Observe(time.Since(started).Seconds())

	log.Info().
		Str("status", string(status)).
		Int("pages", st.pages).
		Int("processed", st.processed).
		Int("created", st.created).
		Int("updated", st.updated).
		Int("errors", st.errorCount).
		Dur("took", time.Since(started)).
		Msg("[sync] run finished")

	return &Result{
		RunID:      req.RunID,
		Status:     status,
		Processed:  st.processed,
		Created:    st.created,
		Updated:    st.updated,
		Pages:      st.pages,
		ErrorCount: st.errorCount,
		Errors:     append([]string{}, st.errors...),
	}, runErr
}

const (
	outcomeCreated = "created"
	outcomeUpdated = "updated"
	outcomePending = "pending"
	outcomeSkipped = "skipped"
)

// importRecord is the duplicate guard followed by create or update.
func (im *Importer) importRecord(ctx context.Context, raw providers.RawRecord) (string, error) {
	rec, err := normalize.Record(raw)
	if err != nil {
		return "", err
	}
	return upsertKnown(ctx, im.Titles, rec, true)
}

// upsertKnown updates the title already holding one of rec's ids. When none
// does, create decides: true inserts a new title, false reports ("", nil).
// Upsert writes one record outside of a run, through the same duplicate guard
// an import uses. It reports whether a new title was created.
func Upsert(ctx context.Context, repo *titles.Repo, rec models.CanonicalRecord) (bool, error) {
	outcome, err := upsertKnown(ctx, repo, rec, true)
	return outcome == outcomeCreated, err
}

func upsertKnown(ctx context.Context, repo *titles.Repo, rec models.CanonicalRecord, create bool) (string, error) {
	existing, err := repo.FindExisting(ctx, rec)
	if err != nil {
		return "", err
	}
	if existing != nil {
		own := existing.IDFor(rec.Provider)
		if own != nil && *own != rec.ExternalID {
			return "", fmt.Errorf("%w: title %s already has %s id %d", titles.ErrConflict, existing.ID, rec.Provider, *own)
		}
		if err := repo.ApplyUpdate(ctx, existing.ID, rec, own == nil); err != nil {
			return "", err
		}
		return outcomeUpdated, nil
	}
	if !create {
		return "", nil
	}
	if _, err := repo.Create(ctx, rec); err != nil {
		return "", err
	}
	return outcomeCreated, nil
}

func (im *Importer) checkpoint(ctx context.Context, req Request, provider models.Provider, st *runState, processedDelta int, status models.SyncStatus) {
	if status == models.SyncRunning {
		if err := im.Logs.Progress(ctx, req.RunID, st.snapshot()); err != nil {
			logging.Warn().Err(err).Str("run_id", req.RunID).Msg("[sync] progress write failed")
		}
	}
	// each mode only moves its own resume point
	s := models.ContentSyncStatus{
		ContentType:    req.ContentType,
		Provider:       provider,
		TotalProcessed: processedDelta,
		Status:         status,
		LastRunID:      req.RunID,
	}
	if req.Mode == ModeComplete {
		s.LastExternalID = st.lastExternalID
	} else {
		s.LastPage = st.currentPage
	}
	err := im.Logs.UpsertStatus(ctx, s)
	if err != nil {
		logging.Warn().Err(err).Str("run_id", req.RunID).Msg("[sync] status write failed")
	}
}

func (im *Importer) publish(typ string, kind models.SyncKind, req Request, provider models.Provider, st *runState, status, message string) {
	im.Events.Publish(events.SyncEvent{
		Type:        typ,
		RunID:       req.RunID,
		Kind:        string(kind),
		ContentType: string(req.ContentType),
		Provider:    string(provider),
		Page:        st.currentPage,
		Processed:   st.processed,
		Created:     st.created,
		Updated:     st.updated,
		Errors:      st.errorCount,
		Status:      status,
		Message:     message,
		At:          time.Now().UTC(),
	})
}
