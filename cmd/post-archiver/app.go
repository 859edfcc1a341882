package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/images"
	"github.com/alanbriolat/post-archiver/internal/config"
	"github.com/alanbriolat/post-archiver/internal/dropbox"
	"github.com/alanbriolat/post-archiver/internal/notion"
	"github.com/alanbriolat/post-archiver/internal/store"
	"github.com/alanbriolat/post-archiver/pipeline"
	"github.com/alanbriolat/post-archiver/resolve"
	"github.com/alanbriolat/post-archiver/video"
)

// app holds everything built from the configuration, in the order it must be torn down.
type app struct {
	config       *config.Config
	store        *store.Store
	resolver     *resolve.Resolver
	storage      *dropbox.Client
	refresher    *dropbox.Refresher
	orchestrator *pipeline.Orchestrator
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.String("log.level"))
	if err != nil {
		return nil, err
	}
	var zapConfig zap.Config
	if cfg.String("log.format") == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.String("store.path")
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}

func newResolver(cfg *config.Config, s *store.Store) *resolve.Resolver {
	var opts []resolve.Option
	if s != nil && cfg.Bool("resolver.cache") {
		opts = append(opts, resolve.WithCache(s))
	}
	return resolve.New(resolve.Config{
		UnshortenURL: cfg.String("resolver.unshorten_url"),
		Timeout:      cfg.Duration("resolver.timeout"),
		UserAgent:    cfg.String("resolver.user_agent"),
		ShortHosts:   cfg.Strings("resolver.short_hosts"),
		Concurrency:  cfg.Int("resolver.concurrency"),
	}, opts...)
}

// newApp wires the pipeline together. The returned app must be closed.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	videoNames, err := post_archiver.NewNameTemplate("video", cfg.String("storage.video_name_template"))
	if err != nil {
		return nil, fmt.Errorf("storage.video_name_template: %w", err)
	}
	imageNames, err := post_archiver.NewNameTemplate("image", cfg.String("storage.image_name_template"))
	if err != nil {
		return nil, fmt.Errorf("storage.image_name_template: %w", err)
	}

	a := &app{config: cfg}
	if a.store, err = openStore(cfg); err != nil {
		return nil, err
	}
	a.resolver = newResolver(cfg, a.store)

	a.storage = dropbox.New(dropbox.Config{
		AppKey:       cfg.String("storage.app_key"),
		AppSecret:    cfg.String("storage.app_secret"),
		RefreshToken: cfg.String("storage.refresh_token"),
		AccessToken:  cfg.String("storage.access_token"),
		Folder:       cfg.String("storage.folder"),
		APIURL:       cfg.String("storage.api_url"),
		ContentURL:   cfg.String("storage.content_url"),
		TokenURL:     cfg.String("storage.token_url"),
		Timeout:      cfg.Duration("storage.timeout"),
	})
	if !a.storage.IsConfigured() {
		post_archiver.Logger(ctx).Warn("Storage is not configured, media will not be archived")
	}
	a.refresher = dropbox.NewRefresher(a.storage, cfg.Duration("storage.refresh_interval"))
	a.refresher.Start(ctx)

	userAgent := cfg.String("video.user_agent")
	registry, err := video.NewRegistry(
		video.YouTubeProvider(&youtube.Client{}),
		video.HTTPProvider(video.NewHTTPClient(userAgent, cfg.Duration("video.download_timeout"))),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	ffmpeg := &video.FFmpeg{
		FFmpegPath:  cfg.String("video.ffmpeg_path"),
		FFprobePath: cfg.String("video.ffprobe_path"),
	}
	videos := video.NewAcquirer(video.Config{
		MaxSize:          cfg.Int64("video.max_size_bytes"),
		AcceptedFormats:  cfg.Strings("video.accepted_formats"),
		TargetFormat:     cfg.String("video.target_format"),
		Compression:      cfg.String("video.compression"),
		DownloadTimeout:  cfg.Duration("video.download_timeout"),
		TranscodeTimeout: cfg.Duration("video.transcode_timeout"),
		Retry: async.Policy{
			MaxAttempts: cfg.Int("video.retry_attempts"),
			BaseDelay:   cfg.Duration("video.retry_base_delay"),
		},
	}, registry, ffmpeg, ffmpeg)
	imageAcquirer := images.NewAcquirer(images.Config{
		Timeout:      cfg.Duration("image.download_timeout"),
		UserAgent:    userAgent,
		MaxSize:      cfg.Int64("image.max_size_bytes"),
		NameTemplate: imageNames,
	}, a.storage)

	documents := notion.New(notion.Config{
		Token:      cfg.String("notion.token"),
		DatabaseID: cfg.String("notion.database_id"),
		APIURL:     cfg.String("notion.api_url"),
		Version:    cfg.String("notion.version"),
		Timeout:    cfg.Duration("notion.timeout"),
	})

	a.orchestrator = pipeline.New(pipeline.Config{
		VideoConcurrency:  cfg.Int("video.concurrency"),
		ImageConcurrency:  cfg.Int("image.concurrency"),
		IncludeDebugLog:   cfg.Bool("document.include_debug_log"),
		VideoNameTemplate: videoNames,
		TempDir:           cfg.String("video.temp_dir"),
	}, a.resolver, videos, imageAcquirer, documents, a.storage)

	post_archiver.Logger(ctx).Info("Ready",
		zap.String("video_providers", strings.Join(registry.List(), ",")),
		zap.Bool("storage", a.storage.IsConfigured()),
		zap.Bool("cache", a.store != nil),
	)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			post_archiver.Logger(ctx).Warn("Failed to close store", zap.Error(err))
		}
	}
}
