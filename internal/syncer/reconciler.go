package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"animehub/internal/events"
	"animehub/internal/logging"
	"animehub/internal/matcher"
	"animehub/internal/metrics"
	"animehub/internal/normalize"
	"animehub/internal/pending"
	"animehub/internal/providers"
	"animehub/internal/synclog"
	"animehub/internal/titles"
	"animehub/pkg/models"
)

type ReconcileRequest struct {
	RunID       string
	ContentType models.ContentType
	Limit       int // records to look at; 0 uses Options.ReconcileLimit
	DaysBack    int // only records updated in the last N days; 0 means no cut-off
}

type ReconcileResult struct {
	RunID            string            `json:"runId"`
	Status           models.SyncStatus `json:"status"`
	ProcessedCount   int               `json:"processedCount"`
	ConfidentMatches int               `json:"confidentMatches"`
	UncertainMatches int               `json:"uncertainMatches"`
	NewItems         int               `json:"newItems"`
	Updated          int               `json:"updated"`
	Skipped          int               `json:"skipped"`
	ErrorCount       int               `json:"errorCount"`
	Errors           []string          `json:"errors"`
}

// Reconciler walks recently updated records of a secondary provider and
// decides, per record, whether it is a known title, a likely match, or new.
type Reconciler struct {
	Source  providers.Source
	Titles  *titles.Repo
	Pending *pending.Repo
	Finder  matcher.Finder
	Policy  matcher.Policy
	Logs    *synclog.Repo
	Events  events.Publisher
	Opts    Options
	Now     func() time.Time
}

func NewReconciler(src providers.Source, t *titles.Repo, q *pending.Repo, finder matcher.Finder, policy matcher.Policy, logs *synclog.Repo, pub events.Publisher, opts Options) *Reconciler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{
		Source:  src,
		Titles:  t,
		Pending: q,
		Finder:  finder,
		Policy:  policy,
		Logs:    logs,
		Events:  pub,
		Opts:    opts.withDefaults(),
		Now:     time.Now,
	}
}

func (rc *Reconciler) Run(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	opts := rc.Opts.withDefaults()
	if !req.ContentType.Valid() {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidRequest, req.ContentType)
	}
	if req.Limit < 0 || req.DaysBack < 0 {
		return nil, fmt.Errorf("%w: negative limit or daysBack", ErrInvalidRequest)
	}
	if err := rc.Policy.Validate(); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = opts.ReconcileLimit
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	now := time.Now
	if rc.Now != nil {
		now = rc.Now
	}
	var since time.Time
	if req.DaysBack > 0 {
		since = now().AddDate(0, 0, -req.DaysBack).UTC()
	}
	provider := rc.Source.Provider()

	if _, err := rc.Logs.Open(ctx, models.SyncLog{
		ID:          req.RunID,
		ContentType: req.ContentType,
		Provider:    provider,
		Kind:        models.SyncReconcile,
		StartPage:   1,
	}); err != nil {
		return nil, err
	}

	log := logging.With().
		Str("run_id", req.RunID).
		Str("content_type", string(req.ContentType)).
		Str("provider", string(provider)).
		Logger()
	log.Info().Int("limit", req.Limit).Int("days_back", req.DaysBack).Msg("[reconcile] run started")

	started := time.Now()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	st := newRunState(req.RunID, 1, opts.MaxErrorMessages)
	rc.publish(events.TypeRunStarted, req, provider, st, "", "")

	status := models.SyncCompleted
	var runErr error
	consecutive := 0
	page := 1

pages:
	for st.processed < req.Limit {
		if ctx.Err() != nil {
			status = models.SyncCancelled
			break
		}
		st.currentPage = page

		pg, err := rc.Source.FetchPage(ctx, providers.PageQuery{
			ContentType:  req.ContentType,
			Page:         page,
			PerPage:      opts.PerPage,
			UpdatedSince: since,
		})
		if err != nil {
			if ctx.Err() != nil {
				status = models.SyncCancelled
				break
			}
			consecutive++
			st.fail("page %d: %v", page, err)
			metrics.PageErrors.WithLabelValues(string(provider), string(req.ContentType)).Inc()
			log.Warn().Err(err).Int("page", page).Msg("[reconcile] page fetch failed, skipping")
			if consecutive >= opts.MaxConsecutivePageErrors {
				status = models.SyncFailed
				runErr = fmt.Errorf("%w: %d consecutive page errors", ErrProviderDown, consecutive)
				break
			}
			if err := sleep(ctx, opts.PageErrorPause); err != nil {
				status = models.SyncCancelled
				break
			}
			page++
			continue
		}
		consecutive = 0
		if len(pg.Records) == 0 {
			break
		}

		for _, raw := range pg.Records {
			if st.processed >= req.Limit {
				break pages
			}
			if ctx.Err() != nil {
				break
			}
			st.processed++
			outcome, err := rc.reconcile(ctx, raw)
			if err != nil {
				st.fail("%s %d: %v", raw.Provider, raw.ID, err)
				metrics.RecordOutcome(string(req.ContentType), "error")
				log.Debug().Err(err).Int64("external_id", raw.ID).Msg("[reconcile] record failed")
				continue
			}
			rc.count(st, outcome)
			metrics.RecordOutcome(string(req.ContentType), outcome.label())
		}
		st.pages++

		if err := rc.Logs.Progress(ctx, req.RunID, st.snapshot()); err != nil {
			log.Warn().Err(err).Msg("[reconcile] progress write failed")
		}
		rc.publish(events.TypeRunPage, req, provider, st, "", "")

		if !pg.HasNextPage {
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

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := rc.Logs.Finish(finishCtx, req.RunID, status, st.snapshot(), message); err != nil {
		log.Error().Err(err).Msg("[reconcile] could not close sync log")
	}
	rc.publish(events.TypeRunFinished, req, provider, st, string(status), message)
	metrics.RunDuration.WithLabelValues(string(models.SyncReconcile), string(status)).Observe(time.Since(started).Seconds())

	log.Info().
		Str("status", string(status)).
		Int("processed", st.processed).
		Int("confident", st.confident).
		Int("uncertain", st.uncertain).
		Int("new", st.created).
		Int("updated", st.updated).
		Int("skipped", st.skipped).
		Int("errors", st.errorCount).
		Dur("took", time.Since(started)).
		Msg("[reconcile] run finished")

	return &ReconcileResult{
		RunID:            req.RunID,
		Status:           status,
		ProcessedCount:   st.processed,
		ConfidentMatches: st.confident,
		UncertainMatches: st.uncertain,
		NewItems:         st.created,
		Updated:          st.updated,
		Skipped:          st.skipped,
		ErrorCount:       st.errorCount,
		Errors:           append([]string{}, st.errors...),
	}, runErr
}

type reconcileOutcome int

const (
	reconciledKnown reconcileOutcome = iota // duplicate guard hit
	reconciledSkipped
	reconciledConfident
	reconciledUncertain
	reconciledNew
)

func (o reconcileOutcome) label() string {
	switch o {
	case reconciledKnown, reconciledConfident:
		return outcomeUpdated
	case reconciledSkipped:
		return outcomeSkipped
	case reconciledUncertain:
		return outcomePending
	}
	return outcomeCreated
}

func (rc *Reconciler) count(st *runState, o reconcileOutcome) {
	switch o {
	case reconciledKnown:
		st.updated++
	case reconciledSkipped:
		st.skipped++
	case reconciledConfident:
		st.confident++
		st.updated++
	case reconciledUncertain:
		st.uncertain++
		st.pending++
	case reconciledNew:
		st.created++
	}
}

// reconcile handles one record. A failing candidate search fails the record;
// it never falls back to creating a new title.
func (rc *Reconciler) reconcile(ctx context.Context, raw providers.RawRecord) (reconcileOutcome, error) {
	rec, err := normalize.Record(raw)
	if err != nil {
		return 0, err
	}

	outcome, err := upsertKnown(ctx, rc.Titles, rec, false)
	if err != nil {
		return 0, err
	}
	if outcome != "" {
		return reconciledKnown, nil
	}

	// decided matches are terminal, open ones are waiting for review
	known, err := rc.Pending.IsKnown(ctx, rec.ContentType, rec.Provider, rec.ExternalID)
	if err != nil {
		return 0, err
	}
	if known {
		return reconciledSkipped, nil
	}

	candidates, err := rc.Finder.FindCandidates(ctx, rc.Policy.Query(rec))
	if err != nil {
		return 0, fmt.Errorf("find candidates: %w", err)
	}
	match := rc.Policy.Classify(candidates)

	switch match.Kind {
	case matcher.Confident:
		err := rc.Titles.ApplyUpdate(ctx, match.Best.TitleID, rec, true)
		if err == nil {
			return reconciledConfident, nil
		}
		if !errors.Is(err, titles.ErrConflict) {
			return 0, err
		}
		// the candidate already belongs to another record of this provider
		logging.Debug().
			Str("title_id", match.Best.TitleID).
			Int64("external_id", rec.ExternalID).
			Msg("[reconcile] confident match conflicts, queueing for review")
		fallthrough
	case matcher.Uncertain:
		if _, err := rc.Pending.Enqueue(ctx, rec, match.Candidates); err != nil {
			return 0, err
		}
		return reconciledUncertain, nil
	}

	if _, err := rc.Titles.Create(ctx, rec); err != nil {
		return 0, err
	}
	return reconciledNew, nil
}

func (rc *Reconciler) publish(typ string, req ReconcileRequest, provider models.Provider, st *runState, status, message string) {
	rc.Events.Publish(events.SyncEvent{
		Type:        typ,
		RunID:       req.RunID,
		Kind:        string(models.SyncReconcile),
		ContentType: string(req.ContentType),
		Provider:    string(provider),
		Page:        st.currentPage,
		Processed:   st.processed,
		Created:     st.created,
		Updated:     st.updated,
		Pending:     st.pending,
		Errors:      st.errorCount,
		Status:      status,
		Message:     message,
		At:          time.Now().UTC(),
	})
}
