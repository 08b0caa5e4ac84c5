package syncer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"animehub/pkg/models"
)

// Outcome is one content type's share of a RunBoth call.
type Outcome struct {
	ContentType models.ContentType `json:"contentType"`
	Result      *Result            `json:"result,omitempty"`
	Err         error              `json:"-"`
	Error       string             `json:"error,omitempty"`
}

// RunBoth imports anime and manga concurrently. Both runs always finish; a
// failure of one is reported in its Outcome and does not stop the other.
func RunBoth(ctx context.Context, anime, manga *Importer, req Request) []Outcome {
	jobs := []struct {
		ct models.ContentType
		im *Importer
	}{
		{models.ContentAnime, anime},
		{models.ContentManga, manga},
	}
	out := make([]Outcome, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			r := req
			r.RunID = ""
			r.ContentType = job.ct
			res, err := job.im.Run(ctx, r)
			out[i] = Outcome{ContentType: job.ct, Result: res, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
