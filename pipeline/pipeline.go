// Package pipeline turns a scraped post into an archived document: links are resolved, videos and images acquired
// concurrently, and the result written to the document sink.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/download"
)

const (
	DefaultVideoConcurrency = 2
	DefaultImageConcurrency = 5
)

type Resolver interface {
	ResolveAll(ctx context.Context, urls []string) []post_archiver.ResolvedURL
}

type VideoAcquirer interface {
	Acquire(ctx context.Context, ws *download.Workspace, ref post_archiver.RawVideo) post_archiver.AcquiredVideo
}

type ImageAcquirer interface {
	Acquire(ctx context.Context, post *post_archiver.RawPost, index int, ref post_archiver.RawImage) post_archiver.AcquiredImage
}

type Config struct {
	VideoConcurrency  int
	ImageConcurrency  int
	IncludeDebugLog   bool
	VideoNameTemplate *post_archiver.NameTemplate
	TempDir           string
}

type Orchestrator struct {
	config    Config
	resolver  Resolver
	videos    VideoAcquirer
	images    ImageAcquirer
	documents post_archiver.DocumentSink
	storage   post_archiver.Storage
}

func New(
	config Config,
	resolver Resolver,
	videos VideoAcquirer,
	images ImageAcquirer,
	documents post_archiver.DocumentSink,
	storage post_archiver.Storage,
) *Orchestrator {
	if config.VideoConcurrency < 1 {
		config.VideoConcurrency = DefaultVideoConcurrency
	}
	if config.ImageConcurrency < 1 {
		config.ImageConcurrency = DefaultImageConcurrency
	}
	if config.VideoNameTemplate == nil {
		config.VideoNameTemplate = post_archiver.MustNameTemplate("video", post_archiver.DefaultVideoNameTemplate)
	}
	return &Orchestrator{
		config:    config,
		resolver:  resolver,
		videos:    videos,
		images:    images,
		documents: documents,
		storage:   storage,
	}
}

type processOptions struct {
	observer  func(Progress)
	requestID string
}

type ProcessOption func(*processOptions)

// WithObserver receives a snapshot every time the progress of the request changes. It is called synchronously, so must
// not block.
func WithObserver(f func(Progress)) ProcessOption {
	return func(o *processOptions) {
		o.observer = f
	}
}

func WithRequestID(id string) ProcessOption {
	return func(o *processOptions) {
		o.requestID = id
	}
}

// branches is what the concurrent stage produces.
type branches struct {
	links  []post_archiver.ResolvedURL
	videos []post_archiver.AcquiredVideo
	images []post_archiver.AcquiredImage
}

// Process archives one post. Validation failures are *post_archiver.ValidationError and happen before anything else.
// Otherwise the only error is a failure to create the document: everything that fails per item is recorded in the
// document instead.
func (o *Orchestrator) Process(ctx context.Context, post *post_archiver.RawPost, opts ...ProcessOption) (post_archiver.ProcessingResult, error) {
	options := processOptions{requestID: uuid.NewString()}
	for _, opt := range opts {
		opt(&options)
	}

	debugLog := post_archiver.NewDebugLog()
	logger := debugLog.Attach(post_archiver.Logger(ctx)).With(zap.String("request", options.requestID))
	ctx = post_archiver.WithLogger(ctx, logger)
	t := &tracker{progress: Progress{RequestID: options.requestID, State: Received}, observer: options.observer}

	result, err := o.process(ctx, t, post, debugLog)
	if err != nil {
		t.update(ctx, func(p *Progress) {
			p.State = Failed
			p.Error = err.Error()
		})
		logger.Error("Failed to process post", zap.Error(err))
		return result, err
	}
	t.setState(ctx, Done)
	logger.Info("Processed post",
		zap.String("document", result.DocumentURL),
		zap.Int("videos", result.Counts.VideosProcessed),
		zap.Int("images", result.Counts.ImagesProcessed),
		zap.Int("urls", result.Counts.URLsResolved),
	)
	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, t *tracker, post *post_archiver.RawPost, debugLog *post_archiver.DebugLog) (post_archiver.ProcessingResult, error) {
	logger := post_archiver.Logger(ctx)

	t.setState(ctx, Validating)
	if err := post.Validate(); err != nil {
		return post_archiver.ProcessingResult{}, err
	}
	logger.Info("Processing post", zap.String("url", post.URL), zap.String("author", post.Author))

	ws, err := download.NewWorkspace(download.WithTempDir(o.config.TempDir))
	if err != nil {
		return post_archiver.ProcessingResult{}, err
	}
	defer ws.CloseLogged(ctx)

	out := o.fanOut(ctx, t, ws, post)

	t.setState(ctx, Assembling)
	doc := post_archiver.Document{
		Title:     post.Title(),
		Author:    post.Author,
		AuthorURL: post.AuthorURL,
		SourceURL: post.URL,
		Timestamp: post.Timestamp,
		Text:      post.Text,
		Links:     out.links,
		Videos:    out.videos,
	}
	if o.config.IncludeDebugLog {
		doc.DebugLog = debugLog.Entries()
	}

	t.setState(ctx, CreatingDocument)
	created, err := o.documents.CreateDocument(ctx, doc)
	if err != nil {
		return post_archiver.ProcessingResult{}, err
	}
	logger.Info("Created document", zap.String("id", created.ID), zap.String("url", created.URL))

	if len(out.images) > 0 {
		t.setState(ctx, AttachingMedia)
		if err := o.documents.AttachImages(ctx, created.ID, out.images, post.URL); err != nil {
			logger.Warn("Failed to attach images", zap.String("document", created.ID), zap.Error(err))
		}
	}

	return post_archiver.ProcessingResult{
		Success:     true,
		DocumentID:  created.ID,
		DocumentURL: created.URL,
		Counts:      countsOf(out),
	}, nil
}

// fanOut runs link resolution, video acquisition and image acquisition side by side. None of them can fail as a
// whole, so the join always has all three results.
func (o *Orchestrator) fanOut(ctx context.Context, t *tracker, ws *download.Workspace, post *post_archiver.RawPost) branches {
	links := post.Links()
	t.update(ctx, func(p *Progress) {
		p.State = FanningOut
		p.URLsTotal = len(links)
		p.VideosTotal = len(post.Videos)
		p.ImagesTotal = len(post.Images)
	})

	var out branches
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(links) > 0 {
			out.links = o.resolver.ResolveAll(gctx, links)
		}
		t.update(ctx, func(p *Progress) { p.URLsDone = len(out.links) })
		return nil
	})
	g.Go(func() error {
		out.videos = async.Map(gctx, post.Videos, o.config.VideoConcurrency, func(ctx context.Context, i int, ref post_archiver.RawVideo) post_archiver.AcquiredVideo {
			acquired := o.videos.Acquire(ctx, ws, ref)
			if acquired.IsOk() {
				acquired.Value = o.store(ctx, post, i, acquired.Value)
				acquired.Value = discard(ctx, ws, acquired.Value)
			}
			t.update(ctx, func(p *Progress) {
				p.VideosDone++
				if acquired.IsErr() {
					p.VideosFailed++
				}
			})
			return acquired
		})
		return nil
	})
	g.Go(func() error {
		out.images = async.Map(gctx, post.Images, o.config.ImageConcurrency, func(ctx context.Context, i int, ref post_archiver.RawImage) post_archiver.AcquiredImage {
			acquired := o.images.Acquire(ctx, post, i, ref)
			t.update(ctx, func(p *Progress) {
				p.ImagesDone++
				if acquired.IsErr() {
					p.ImagesFailed++
				}
			})
			return acquired
		})
		return nil
	})
	_ = g.Wait()
	return out
}

// store uploads an acquired video when storage is configured. A failed upload leaves the video unstored rather than
// failed, since it was still acquired.
func (o *Orchestrator) store(ctx context.Context, post *post_archiver.RawPost, index int, video post_archiver.Video) post_archiver.Video {
	logger := post_archiver.Logger(ctx).With(zap.String("video", video.SourceURL))
	if o.storage == nil || !o.storage.IsConfigured() {
		return video
	}

	name, err := o.config.VideoNameTemplate.Execute(post_archiver.NewNameArgs(post, index, uuid.NewString()[:8], filepath.Ext(video.LocalPath)))
	if err != nil {
		logger.Warn("Failed to name video", zap.Error(err))
		return video
	}
	f, err := os.Open(video.LocalPath)
	if err != nil {
		logger.Warn("Failed to open video for upload", zap.Error(err))
		return video
	}
	defer f.Close()
	stored, err := o.storage.Save(ctx, f, name)
	if err != nil {
		logger.Warn("Failed to store video", zap.String("name", name), zap.Error(err))
		return video
	}
	logger.Info("Stored video", zap.String("path", stored.Path))
	video.StoredPath = stored.Path
	video.ShareURL = stored.Link
	return video
}

// discard deletes the local copy of a video as soon as it is no longer needed.
func discard(ctx context.Context, ws *download.Workspace, video post_archiver.Video) post_archiver.Video {
	if video.LocalPath == "" {
		return video
	}
	if err := ws.Remove(video.LocalPath); err != nil {
		post_archiver.Logger(ctx).Warn("Failed to remove temporary file", zap.String("path", video.LocalPath), zap.Error(err))
	}
	video.LocalPath = ""
	return video
}

func countsOf(out branches) post_archiver.Counts {
	var counts post_archiver.Counts
	for _, v := range out.videos {
		if v.IsOk() {
			counts.VideosProcessed++
		}
	}
	for _, img := range out.images {
		if img.IsOk() {
			counts.ImagesProcessed++
		}
	}
	for _, link := range out.links {
		if link.Changed() {
			counts.URLsResolved++
		}
	}
	return counts
}
