package core

import (
	"context"
	"fmt"
	"time"

	"github.com/framesight/framesight/internal/repository"
)

// Debounce limits for per-frame progress writes: a row update happens at
// most once per interval or once per frame batch, whichever comes first.
const (
	progressWriteInterval = 250 * time.Millisecond
	progressWriteFrames   = 5
)

// storeReporter maps per-frame progress inside one stage onto the job's
// progress scale and writes it to the store, debounced.
type storeReporter struct {
	repo    repository.VideoRepository
	videoID string
	stageID string
	name    string
	lo, hi  int

	lastWrite   time.Time
	framesSince int
	now         func() time.Time
}

func newStoreReporter(repo repository.VideoRepository, videoID string, stage Stage) *storeReporter {
	lo, hi := stage.Budget()
	return &storeReporter{
		repo:    repo,
		videoID: videoID,
		stageID: stage.ID(),
		name:    stage.Name(),
		lo:      lo,
		hi:      hi,
		now:     time.Now,
	}
}

// stageStart writes the stage's opening progress value unconditionally.
func (r *storeReporter) stageStart(ctx context.Context) error {
	r.lastWrite = r.now()
	r.framesSince = 0
	return r.repo.UpdateProgress(ctx, r.videoID, r.lo, r.stageID, r.name)
}

// ReportItemProgress writes linear within-stage progress, debounced.
func (r *storeReporter) ReportItemProgress(ctx context.Context, current, total int) {
	r.framesSince++
	if r.framesSince < progressWriteFrames && r.now().Sub(r.lastWrite) < progressWriteInterval {
		return
	}
	r.lastWrite = r.now()
	r.framesSince = 0

	progress := r.lo
	if total > 0 {
		progress = r.lo + (r.hi-r.lo)*current/total
	}
	text := fmt.Sprintf("%s (%d/%d)", r.name, current, total)
	// Progress writes are advisory; a failed write is not worth failing
	// the stage over.
	_ = r.repo.UpdateProgress(ctx, r.videoID, progress, r.stageID, text)
}
