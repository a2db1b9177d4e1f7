package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ggload/internal/config"
	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/statedict"
)

// cfg holds the config file read by setup.
var cfg config.Config

// setup reads the config file and installs the logger in the context.
// Config values apply only where the matching flag was not given.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return ctx, err
	}

	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.Setup(logger.Config{Format: logFormat, Level: level, Output: cmd.Root().ErrWriter})
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// resolveModel returns arg itself when it names an existing file, and the
// catalog match in one of categories otherwise.
func resolveModel(arg string, categories ...string) (string, error) {
	if arg == "" {
		return "", errors.New("missing model path")
	}
	if st, err := os.Stat(arg); err == nil && !st.IsDir() {
		return arg, nil
	}
	catalog := cfg.NewCatalog()
	for _, c := range categories {
		path, err := catalog.Resolve(c, arg)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, config.ErrModelNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", config.ErrModelNotFound, arg)
}

func statedictOptions(ctx context.Context) []statedict.Option {
	opts := []statedict.Option{statedict.WithLogger(logger.FromContext(ctx))}
	if noMmap {
		opts = append(opts, statedict.WithoutMmap())
	}
	return opts
}
