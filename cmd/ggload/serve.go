package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ggload/internal/api"
	"github.com/samcharles93/ggload/internal/gguf"
	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/statedict"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve a read-only HTTP view of a GGUF model",
		ArgsUsage: "<model.gguf>",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cfg.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = cfg.ServerAddress
			}

			path, err := resolveModel(cmd.Args().First(), "unet_gguf", "clip_gguf")
			if err != nil {
				return err
			}
			opts := []gguf.Option{gguf.WithLogger(log)}
			if noMmap {
				opts = append(opts, gguf.WithoutMmap())
			}
			f, err := gguf.Open(path, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			sd, err := statedict.Assemble(f, statedict.WithLogger(log))
			if err != nil {
				return err
			}
			defer func() { _ = sd.Close() }()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(f, sd, log).Register(e)
			log.Info("starting server", "address", addr, "model", path)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
