package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/internal/config"
	"github.com/alanbriolat/post-archiver/internal/server"
	"github.com/alanbriolat/post-archiver/pipeline"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	app := &cli.App{
		Name:    "post-archiver",
		Usage:   "archive social media posts into a document database",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{config.DefaultEnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "load environment overrides from `FILE` if it exists",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.Load(c.String("config"), config.WithEnvFile(c.String("env-file")))
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("can't initialize zap logger: %w", err)
			}
			zap.RedirectStdLog(logger)
			zap.ReplaceGlobals(logger)
			c.Context = post_archiver.WithLogger(c.Context, logger)
			return nil
		},
		After: func(c *cli.Context) error {
			_ = zap.L().Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server for the browser extension",
				Action: func(c *cli.Context) error {
					return serve(c.Context, cfg)
				},
			},
			{
				Name:      "process",
				Usage:     "archive the posts in JSON files",
				ArgsUsage: "POST.json...",
				Action: func(c *cli.Context) error {
					return process(c.Context, cfg, c.Args().Slice())
				},
			},
			{
				Name:      "resolve",
				Usage:     "resolve short links",
				ArgsUsage: "URL...",
				Action: func(c *cli.Context) error {
					return resolveLinks(c.Context, cfg, c.Args().Slice())
				},
			},
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.RunContext(ctx, os.Args) })

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		err = <-result
	}
	if err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	if a.store == nil {
		return errors.New("store.path is required to serve")
	}

	handler := server.New(server.Config{
		AllowedOrigin: cfg.String("server.allowed_origin"),
		MaxBodyBytes:  cfg.Int64("server.max_body_bytes"),
		Version:       version,
	}, a.orchestrator, a.store)
	logger := post_archiver.Logger(ctx)
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.String("server.host"), strconv.Itoa(cfg.Int("server.port"))),
		Handler:      handler,
		ReadTimeout:  cfg.Duration("server.read_timeout"),
		WriteTimeout: cfg.Duration("server.write_timeout"),
		ErrorLog:     zap.NewStdLog(logger),
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return server.ListenAndServe(ctx, httpServer, cfg.Duration("server.shutdown_timeout"))
}

func process(ctx context.Context, cfg *config.Config, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no post files given")
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var post post_archiver.RawPost
		if err := json.Unmarshal(data, &post); err != nil {
			return fmt.Errorf("failed to parse %v: %w", path, err)
		}

		bar := progressbar.Default(1, path)
		result, err := a.orchestrator.Process(ctx, &post, pipeline.WithObserver(func(p pipeline.Progress) {
			done, total := p.Items()
			total++ // The document itself
			if p.State == pipeline.Done {
				done = total
			}
			if bar.GetMax() != total {
				bar.ChangeMax(total)
			}
			bar.Describe(fmt.Sprintf("%s: %s", path, p.State))
			_ = bar.Set(done)
		}))
		_ = bar.Finish()
		if err != nil {
			return fmt.Errorf("failed to process %v: %w", path, err)
		}
		fmt.Printf("%s -> %s (videos: %d, images: %d, links resolved: %d)\n",
			path, result.DocumentURL, result.Counts.VideosProcessed, result.Counts.ImagesProcessed, result.Counts.URLsResolved)
	}
	return nil
}

func resolveLinks(ctx context.Context, cfg *config.Config, links []string) error {
	if len(links) == 0 {
		return errors.New("no links given")
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	if s != nil {
		defer s.Close()
	}
	for _, resolved := range newResolver(cfg, s).ResolveAll(ctx, links) {
		method := string(resolved.Method)
		if method == "" {
			method = "unchanged"
		}
		fmt.Printf("%s\t%s\t%s\n", resolved.Original, resolved.Resolved, method)
	}
	return nil
}
