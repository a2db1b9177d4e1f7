package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ggload/internal/statedict"
	"github.com/samcharles93/ggload/internal/tensor"
)

func textencCmd() *cli.Command {
	var (
		remapPath string
		showKeys  bool
	)

	return &cli.Command{
		Name:      "textenc",
		Usage:     "Load text encoders (GGUF or safetensors) under their remapped names",
		ArgsUsage: "<encoder> [encoder...]",
		Flags: append(loadFlags(),
			&cli.StringFlag{Name: "remap", Usage: "YAML remap table (default: built-in T5 table)", Destination: &remapPath},
			&cli.BoolFlag{Name: "keys", Usage: "list every loaded key", Destination: &showKeys},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return errors.New("textenc: at least one encoder is required")
			}
			if cfg.Remap != "" && !cmd.IsSet("remap") {
				remapPath = cfg.Remap
			}
			var table *statedict.RemapTable
			if remapPath != "" {
				t, err := statedict.LoadRemapFile(remapPath)
				if err != nil {
					return err
				}
				table = t
			}

			paths := make([]string, 0, cmd.Args().Len())
			for _, arg := range cmd.Args().Slice() {
				p, err := resolveModel(arg, "clip_gguf", "clip")
				if err != nil {
					return err
				}
				paths = append(paths, p)
			}

			dicts, err := statedict.LoadTextEncoders(paths, table, statedictOptions(ctx)...)
			if err != nil {
				return err
			}
			defer func() {
				for _, sd := range dicts {
					_ = sd.Close()
				}
			}()

			out := stdout(cmd)
			for i, sd := range dicts {
				if i > 0 {
					_, _ = fmt.Fprintln(out)
				}
				_, _ = fmt.Fprintf(out, "%s: %d tensors\n", paths[i], len(sd))
				counts := sd.TypeCounts()
				var rows [][]string
				for _, t := range slices.Sorted(maps.Keys(counts)) {
					rows = append(rows, []string{t.String(), strconv.Itoa(counts[t])})
				}
				renderTable(out, []string{"TYPE", "TENSORS"}, rows)
				if showKeys {
					rows = nil
					for _, k := range sd.Keys() {
						t := sd[k]
						rows = append(rows, []string{k, t.Type().String(), formatShape(t.Shape()), strconv.FormatBool(tensor.IsQuantized(t))})
					}
					_, _ = fmt.Fprintln(out)
					renderTable(out, []string{"KEY", "TYPE", "SHAPE", "QUANTIZED"}, rows)
				}
			}
			return nil
		},
	}
}
