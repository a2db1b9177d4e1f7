package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ggload/internal/logger"
)

func listCmd() *cli.Command {
	var (
		category  string
		modelsDir string
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List model files known to the catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "category",
				Aliases:     []string{"c"},
				Usage:       "only list this category (unet_gguf, clip_gguf, clip, ...)",
				Destination: &category,
			},
			&cli.StringFlag{
				Name:        "models-dir",
				Usage:       "root directory holding unet/ and clip/ (overrides config)",
				Destination: &modelsDir,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cmd.IsSet("models-dir") {
				cfg.ModelsDir = modelsDir
			}
			catalog := cfg.NewCatalog()

			categories := catalog.Categories()
			if category != "" {
				categories = []string{category}
			}
			var rows [][]string
			for _, c := range categories {
				names, err := catalog.List(c)
				if err != nil {
					return err
				}
				log.Debug("listed category", "category", c, "files", len(names))
				for _, n := range names {
					rows = append(rows, []string{c, n})
				}
			}
			renderTable(stdout(cmd), []string{"CATEGORY", "NAME"}, rows)
			return nil
		},
	}
}
