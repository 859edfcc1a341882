// Package video downloads the videos of a post, probes them and transcodes any that are too large or in an
// unaccepted container.
package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/download"
	"github.com/alanbriolat/post-archiver/generic"
)

type Config struct {
	MaxSize          int64
	AcceptedFormats  []string
	TargetFormat     string
	Compression      string
	DownloadTimeout  time.Duration
	TranscodeTimeout time.Duration
	Retry            async.Policy
}

type Acquirer struct {
	config     Config
	accepted   generic.Set[string]
	preset     Preset
	registry   *Registry
	prober     Prober
	transcoder Transcoder
}

func NewAcquirer(config Config, registry *Registry, prober Prober, transcoder Transcoder) *Acquirer {
	accepted := generic.NewSet[string]()
	for _, f := range config.AcceptedFormats {
		accepted.Add(strings.ToLower(strings.TrimPrefix(f, ".")))
	}
	if config.TargetFormat == "" {
		config.TargetFormat = "mp4"
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = async.DefaultPolicy
	}
	return &Acquirer{
		config:     config,
		accepted:   accepted,
		preset:     PresetFor(config.Compression),
		registry:   registry,
		prober:     prober,
		transcoder: transcoder,
	}
}

// Acquire fetches one video into ws. It never fails outright: any problem is returned as a failed AcquiredVideo, with
// every file it created already removed.
func (a *Acquirer) Acquire(ctx context.Context, ws *download.Workspace, ref post_archiver.RawVideo) post_archiver.AcquiredVideo {
	log := post_archiver.Logger(ctx).With(zap.String("video", ref.URL))
	v, err := a.acquire(post_archiver.WithLogger(ctx, log), ws, ref)
	if err != nil {
		log.Warn("Failed to acquire video", zap.Error(err))
		return post_archiver.VideoFailed(ref.URL, err)
	}
	log.Info("Acquired video",
		zap.String("file", v.Filename),
		zap.Int64("size", v.Size),
		zap.Duration("duration", v.Duration),
		zap.String("resolution", v.Resolution()),
		zap.Bool("transcoded", v.Transcoded),
	)
	return post_archiver.VideoOk(v)
}

func (a *Acquirer) acquire(ctx context.Context, ws *download.Workspace, ref post_archiver.RawVideo) (post_archiver.Video, error) {
	log := post_archiver.Logger(ctx).Sugar()
	match, err := a.registry.Match(ref.URL)
	if err != nil {
		return post_archiver.Video{}, err
	}
	log.Debugw("Matched video provider", "provider", match.ProviderName)

	path, size, err := a.download(ctx, ws, match.Source)
	if err != nil {
		return post_archiver.Video{}, err
	}

	probe, err := a.prober.Probe(ctx, path)
	if err != nil {
		_ = ws.Remove(path)
		return post_archiver.Video{}, fmt.Errorf("failed to probe video: %w", err)
	}
	if !probe.HasVideo {
		_ = ws.Remove(path)
		return post_archiver.Video{}, post_archiver.ErrNoVideoStream
	}

	transcoded := false
	if reason := a.transcodeReason(size, probe); reason != "" {
		log.Infow("Transcoding video", "reason", reason, "preset", a.preset.Name)
		out, err := a.transcode(ctx, ws, path)
		// The original is not needed either way
		_ = ws.Remove(path)
		if err != nil {
			return post_archiver.Video{}, err
		}
		path, transcoded = out, true
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		if p, err := a.prober.Probe(ctx, path); err == nil {
			probe = p
		} else {
			log.Debugw("Failed to probe transcoded video", "error", err)
		}
	}

	return post_archiver.Video{
		LocalPath:  path,
		Filename:   filepath.Base(path),
		Size:       size,
		Duration:   probe.Duration,
		Width:      probe.Width,
		Height:     probe.Height,
		Format:     strings.TrimPrefix(filepath.Ext(path), "."),
		Transcoded: transcoded,
		SourceURL:  ref.URL,
	}, nil
}

// download saves the stream, retrying with backoff. Each attempt has its own timeout.
func (a *Acquirer) download(ctx context.Context, ws *download.Workspace, source Source) (string, int64, error) {
	log := post_archiver.Logger(ctx).Sugar()
	policy := a.config.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Infow("Video download failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	type saved struct {
		path string
		size int64
	}
	result, err := async.Retry(ctx, policy, func(ctx context.Context, attempt int) (saved, error) {
		if a.config.DownloadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.config.DownloadTimeout)
			defer cancel()
		}
		stream, err := source.Open(ctx)
		if err != nil {
			return saved{}, err
		}
		defer stream.Body.Close()
		path, size, err := ws.SaveStream(ctx, "video-*."+stream.Ext, stream.Body)
		if err != nil {
			return saved{}, err
		}
		if stream.Size > 0 && size != stream.Size {
			_ = ws.Remove(path)
			return saved{}, fmt.Errorf("short download: got %d of %d bytes", size, stream.Size)
		}
		return saved{path: path, size: size}, nil
	})
	if err != nil {
		return "", 0, err
	}
	log.Debugw("Downloaded video", "path", result.path, "size", result.size)
	return result.path, result.size, nil
}

func (a *Acquirer) transcode(ctx context.Context, ws *download.Workspace, in string) (string, error) {
	out, err := ws.ReserveTemp("transcoded-*." + a.config.TargetFormat)
	if err != nil {
		return "", err
	}
	if a.config.TranscodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.TranscodeTimeout)
		defer cancel()
	}
	if err := a.transcoder.Transcode(ctx, in, out, a.preset); err != nil {
		_ = ws.Remove(out)
		return "", fmt.Errorf("failed to transcode video: %w", err)
	}
	return out, nil
}

// transcodeReason explains why a video must be transcoded, or returns "" if it can be used as-is.
func (a *Acquirer) transcodeReason(size int64, probe Probe) string {
	if a.config.MaxSize > 0 && size > a.config.MaxSize {
		return fmt.Sprintf("size %d exceeds maximum %d", size, a.config.MaxSize)
	}
	if !a.accepted.ContainsAny(probe.FormatNames...) {
		return fmt.Sprintf("format %s is not accepted", strings.Join(probe.FormatNames, ","))
	}
	return ""
}
