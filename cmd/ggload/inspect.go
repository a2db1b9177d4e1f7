package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ggload/internal/gguf"
	"github.com/samcharles93/ggload/internal/logger"
)

type inspectReport struct {
	Path        string              `json:"path"`
	Version     uint32              `json:"version"`
	Alignment   uint64              `json:"alignment"`
	DataOffset  uint64              `json:"data_offset"`
	Types       map[string]int      `json:"types"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
	Tensors     []inspectTensorInfo `json:"tensors,omitempty"`
	TensorCount int                 `json:"tensor_count"`
}

type inspectTensorInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Shape  []int  `json:"shape"`
	Bytes  uint64 `json:"bytes"`
	Offset uint64 `json:"offset"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON       bool
		showMeta     bool
		showTensors  bool
		tensorFilter string
		tensorLimit  int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the header, metadata and tensor table of a GGUF file",
		ArgsUsage: "<model.gguf>",
		Flags: append(loadFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "metadata", Aliases: []string{"kv"}, Usage: "list metadata entries", Destination: &showMeta},
			&cli.BoolFlag{Name: "tensors", Aliases: []string{"t"}, Usage: "list tensors", Destination: &showTensors},
			&cli.StringFlag{Name: "filter", Usage: "only list tensors whose name contains this", Destination: &tensorFilter},
			&cli.IntFlag{Name: "limit", Usage: "max tensors to list (0 = all)", Destination: &tensorLimit},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := resolveModel(cmd.Args().First(), "unet_gguf", "clip_gguf")
			if err != nil {
				return err
			}
			opts := []gguf.Option{gguf.WithLogger(logger.FromContext(ctx))}
			if noMmap {
				opts = append(opts, gguf.WithoutMmap())
			}
			f, err := gguf.Open(path, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			report := buildReport(f, showMeta || asJSON, showTensors || asJSON, tensorFilter, tensorLimit)
			out := stdout(cmd)
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			printReport(out, f, report)
			return nil
		},
	}
}

func buildReport(f *gguf.File, withMeta, withTensors bool, filter string, limit int) inspectReport {
	r := inspectReport{
		Path:        f.Path,
		Version:     f.Header.Version,
		Alignment:   f.Alignment,
		DataOffset:  f.DataOffset,
		Types:       make(map[string]int),
		TensorCount: len(f.Tensors),
	}
	for t, n := range f.TypeCounts() {
		r.Types[t.String()] = n
	}
	if withMeta {
		r.Metadata = make(map[string]string, len(f.KV))
		for k, v := range f.KV {
			r.Metadata[k] = gguf.FormatValue(v)
		}
	}
	if withTensors {
		for _, ti := range f.SortedTensors() {
			if filter != "" && !strings.Contains(ti.Name, filter) {
				continue
			}
			if limit > 0 && len(r.Tensors) >= limit {
				break
			}
			r.Tensors = append(r.Tensors, inspectTensorInfo{
				Name:   ti.Name,
				Type:   ti.Type.String(),
				Shape:  ti.Shape(),
				Bytes:  ti.Size(),
				Offset: ti.Offset,
			})
		}
	}
	return r
}

func printReport(w io.Writer, f *gguf.File, r inspectReport) {
	_, _ = fmt.Fprintf(w, "file:        %s\n", r.Path)
	_, _ = fmt.Fprintf(w, "version:     %d\n", r.Version)
	if arch := f.KV.Architecture(); arch != "" {
		_, _ = fmt.Fprintf(w, "arch:        %s\n", arch)
	}
	if name, ok := f.KV.String("general.name"); ok {
		_, _ = fmt.Fprintf(w, "name:        %s\n", name)
	}
	if ft, ok := f.KV.Uint64("general.file_type"); ok {
		_, _ = fmt.Fprintf(w, "file type:   %d\n", ft)
	}
	_, _ = fmt.Fprintf(w, "alignment:   %d\n", r.Alignment)
	_, _ = fmt.Fprintf(w, "data offset: %d\n", r.DataOffset)
	_, _ = fmt.Fprintf(w, "tensors:     %d\n", r.TensorCount)
	_, _ = fmt.Fprintf(w, "metadata:    %d keys\n\n", len(f.KV))

	bytesByType := make(map[string]uint64)
	for _, ti := range f.Tensors {
		bytesByType[ti.Type.String()] += ti.Size()
	}
	types := make([]string, 0, len(r.Types))
	for t := range r.Types {
		types = append(types, t)
	}
	slices.Sort(types)
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{t, strconv.Itoa(r.Types[t]), formatBytes(bytesByType[t])})
	}
	renderTable(w, []string{"TYPE", "TENSORS", "SIZE"}, rows)

	if r.Metadata != nil {
		_, _ = fmt.Fprintln(w)
		rows = nil
		for _, k := range f.KV.Keys() {
			rows = append(rows, []string{k, f.KV[k].Type.String(), r.Metadata[k]})
		}
		renderTable(w, []string{"KEY", "TYPE", "VALUE"}, rows)
	}
	if r.Tensors != nil {
		_, _ = fmt.Fprintln(w)
		rows = nil
		for _, t := range r.Tensors {
			rows = append(rows, []string{t.Name, t.Type, formatShape(t.Shape), formatBytes(t.Bytes), strconv.FormatUint(t.Offset, 10)})
		}
		renderTable(w, []string{"NAME", "TYPE", "SHAPE", "SIZE", "OFFSET"}, rows)
	}
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
