package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/ggload/internal/gguf"
	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/patcher"
	"github.com/samcharles93/ggload/internal/safetensors"
	"github.com/samcharles93/ggload/internal/statedict"
	"github.com/samcharles93/ggload/internal/tensor"
)

type dequantResult struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Shape   []int          `json:"shape"`
	Patched bool           `json:"patched,omitempty"`
	Summary tensor.Summary `json:"summary"`

	values []float32
}

func dequantCmd() *cli.Command {
	var (
		names    []string
		workers  int
		asJSON   bool
		outPath  string
		lora     string
		strength float64
	)

	return &cli.Command{
		Name:      "dequant",
		Usage:     "Dequantize tensors of a GGUF model and summarize their values",
		ArgsUsage: "<model.gguf>",
		Flags: append(loadFlags(),
			&cli.StringSliceFlag{Name: "tensor", Usage: "tensor to decode (repeatable, default all)", Destination: &names},
			&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "parallel decoders (0 = number of CPUs)", Destination: &workers},
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON", Destination: &asJSON},
			&cli.StringFlag{Name: "out", Usage: "write the decoded tensors to a safetensors file", Destination: &outPath},
			&cli.StringFlag{Name: "lora", Usage: "safetensors file with patches to apply first", Destination: &lora},
			&cli.FloatFlag{Name: "strength", Usage: "patch strength", Value: 1, Destination: &strength},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cfg.Workers != nil && !cmd.IsSet("workers") {
				workers = *cfg.Workers
			}
			if workers <= 0 {
				workers = runtime.NumCPU()
			}

			path, err := resolveModel(cmd.Args().First(), "unet_gguf", "clip_gguf")
			if err != nil {
				return err
			}
			sd, err := statedict.LoadModel(path, statedictOptions(ctx)...)
			if err != nil {
				return err
			}
			defer func() { _ = sd.Close() }()

			p := patcher.New(sd, log)
			if lora != "" {
				patches, err := patcher.LoadPatches(lora)
				if err != nil {
					return err
				}
				added := p.AddPatches(patches, float32(strength))
				log.Info("loaded patches", "path", lora, "applied", len(added), "ignored", len(patches)-len(added))
			}

			if len(names) == 0 {
				names = sd.Keys()
			}
			for _, n := range names {
				if _, ok := sd[n]; !ok {
					return fmt.Errorf("%w: %s", gguf.ErrTensorNotFound, n)
				}
			}

			results, err := decodeAll(ctx, p, names, workers, outPath != "")
			if err != nil {
				return err
			}
			log.Info("decoded tensors", "count", len(results), "workers", workers)

			if outPath != "" {
				if err := writeDecoded(outPath, results); err != nil {
					return err
				}
				log.Info("wrote safetensors", "path", outPath)
			}

			out := stdout(cmd)
			if asJSON {
				b, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				s := r.Summary
				rows = append(rows, []string{
					r.Name, r.Type, formatShape(r.Shape),
					formatFloat(float64(s.Min)), formatFloat(float64(s.Max)), formatFloat(s.Mean), formatFloat(s.RMS),
					strconv.Itoa(s.NaN),
				})
			}
			renderTable(out, []string{"NAME", "TYPE", "SHAPE", "MIN", "MAX", "MEAN", "RMS", "NAN"}, rows)
			return nil
		},
	}
}

// decodeAll materializes the named weights with at most workers decoders
// running at once. Results keep the order of names.
func decodeAll(ctx context.Context, p *patcher.Patcher, names []string, workers int, keep bool) ([]dequantResult, error) {
	// Weight mutates patcher state, so it runs before the workers start.
	weights := make([]tensor.Tensor, len(names))
	for i, name := range names {
		w, err := p.Weight(name)
		if err != nil {
			return nil, err
		}
		weights[i] = w
	}

	results := make([]dequantResult, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w := weights[i]
			var (
				values []float32
				err    error
			)
			if l, ok := w.(*tensor.Lazy); ok {
				values, err = l.Resolve()
			} else {
				values, err = w.Materialize()
			}
			if err != nil {
				return fmt.Errorf("tensor %s: %w", name, err)
			}
			results[i] = dequantResult{
				Name:    name,
				Type:    w.Type().String(),
				Shape:   w.Shape(),
				Patched: len(p.Patches(name)) > 0,
				Summary: tensor.Summarize(values),
			}
			if keep {
				results[i].values = values
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeDecoded(path string, results []dequantResult) error {
	entries := make([]safetensors.Entry, 0, len(results))
	for _, r := range results {
		data := make([]byte, 4*len(r.values))
		for i, v := range r.values {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		entries = append(entries, safetensors.Entry{Name: r.Name, DType: "F32", Shape: r.Shape, Data: data})
	}
	return safetensors.WriteFile(path, entries, map[string]string{"format": "pt"})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
