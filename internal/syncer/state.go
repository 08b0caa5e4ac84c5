// Package syncer drives paged imports and reconciliation runs against the
// catalog providers.
package syncer

import (
	"context"
	"fmt"
	"time"

	"animehub/internal/synclog"
)

// Options tune every run. Zero fields fall back to DefaultOptions.
type Options struct {
	PerPage                  int           `koanf:"per_page" validate:"min=0,max=50"`
	DefaultMaxPages          int           `koanf:"max_pages" validate:"min=0"`
	MaxErrorMessages         int           `koanf:"max_error_messages" validate:"min=0"`
	PageErrorPause           time.Duration `koanf:"page_error_pause"`
	MaxConsecutivePageErrors int           `koanf:"max_consecutive_page_errors" validate:"min=0"`
	ReconcileLimit           int           `koanf:"reconcile_limit" validate:"min=0"`
}

func DefaultOptions() Options {
	return Options{
		PerPage:                  50,
		DefaultMaxPages:          10,
		MaxErrorMessages:         50,
		PageErrorPause:           time.Second,
		MaxConsecutivePageErrors: 5,
		ReconcileLimit:           100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PerPage <= 0 {
		o.PerPage = d.PerPage
	}
	if o.DefaultMaxPages <= 0 {
		o.DefaultMaxPages = d.DefaultMaxPages
	}
	if o.MaxErrorMessages <= 0 {
		o.MaxErrorMessages = d.MaxErrorMessages
	}
	if o.PageErrorPause < 0 {
		o.PageErrorPause = 0
	}
	if o.MaxConsecutivePageErrors <= 0 {
		o.MaxConsecutivePageErrors = d.MaxConsecutivePageErrors
	}
	if o.ReconcileLimit <= 0 {
		o.ReconcileLimit = d.ReconcileLimit
	}
	return o
}

// runState is owned by a single run; nothing in it is shared.
type runState struct {
	id          string
	currentPage int
	pages       int

	processed int
	created   int
	updated   int
	pending   int
	skipped   int
	confident int
	uncertain int

	errorCount int
	errors     []string
	maxErrors  int

	lastExternalID *int64
}

func newRunState(id string, startPage, maxErrors int) *runState {
	return &runState{id: id, currentPage: startPage, maxErrors: maxErrors}
}

// fail counts an error and keeps its message while under the cap.
func (s *runState) fail(format string, args ...any) {
	s.errorCount++
	if len(s.errors) < s.maxErrors {
		s.errors = append(s.errors, fmt.Sprintf(format, args...))
	}
}

func (s *runState) seen(id int64) {
	if s.lastExternalID == nil || id > *s.lastExternalID {
		v := id
		s.lastExternalID = &v
	}
}

func (s *runState) snapshot() synclog.Snapshot {
	return synclog.Snapshot{
		CurrentPage: s.currentPage,
		Pages:       s.pages,
		Processed:   s.processed,
		Created:     s.created,
		Updated:     s.updated,
		Pending:     s.pending,
		ErrorCount:  s.errorCount,
		Errors:      append([]string(nil), s.errors...),
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
