package pipeline

import (
	"context"
	"sync"

	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
)

type State string

const (
	Received         State = "received"
	Validating       State = "validating"
	FanningOut       State = "fanning-out"
	Assembling       State = "assembling"
	CreatingDocument State = "creating-document"
	AttachingMedia   State = "attaching-media"
	Done             State = "done"
	Failed           State = "failed"
)

// Progress is a snapshot of one post being processed.
type Progress struct {
	RequestID    string `diff:"-"`
	State        State  `diff:"state"`
	URLsTotal    int    `diff:"urls_total"`
	URLsDone     int    `diff:"urls_done"`
	VideosTotal  int    `diff:"videos_total"`
	VideosDone   int    `diff:"videos_done"`
	VideosFailed int    `diff:"videos_failed"`
	ImagesTotal  int    `diff:"images_total"`
	ImagesDone   int    `diff:"images_done"`
	ImagesFailed int    `diff:"images_failed"`
	Error        string `diff:"error"`
}

// Items returns how many media items and links there are in total, and how many have been finished with.
func (p Progress) Items() (done int, total int) {
	return p.URLsDone + p.VideosDone + p.ImagesDone, p.URLsTotal + p.VideosTotal + p.ImagesTotal
}

// tracker serialises updates from the concurrent branches of a request, logging each change.
type tracker struct {
	mu       sync.Mutex
	progress Progress
	observer func(Progress)
}

func (t *tracker) update(ctx context.Context, f func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.progress
	f(&t.progress)
	if old == t.progress {
		return
	}
	logger := post_archiver.Logger(ctx)
	if changes, err := diff.Diff(old, t.progress); err != nil {
		logger.Warn("Failed to diff progress", zap.Error(err))
	} else {
		for _, change := range changes {
			logger.Debug("Progress changed", zap.Strings("path", change.Path), zap.Any("from", change.From), zap.Any("to", change.To))
		}
	}
	if t.observer != nil {
		t.observer(t.progress)
	}
}

func (t *tracker) setState(ctx context.Context, state State) {
	t.update(ctx, func(p *Progress) { p.State = state })
}
