// Package api serves a read-only HTTP view of a loaded GGUF checkpoint.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/ggload/internal/gguf"
	"github.com/samcharles93/ggload/internal/logger"
	"github.com/samcharles93/ggload/internal/statedict"
	"github.com/samcharles93/ggload/internal/tensor"
	"github.com/samcharles93/ggload/pkg/quant"
)

const (
	defaultValueLimit = 64
	maxValueLimit     = 4096
)

type Server struct {
	file      *gguf.File
	dict      statedict.StateDict
	summaries *SummaryStore
	log       logger.Logger
}

// NewServer serves f. dict holds the tensors that are decoded on request;
// it must contain every tensor of f.
func NewServer(f *gguf.File, dict statedict.StateDict, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		file:      f,
		dict:      dict,
		summaries: NewSummaryStore(),
		log:       log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/model", s.handleModel)
	e.GET("/v1/stats", s.handleStats)
	e.GET("/v1/tensors", s.handleListTensors)
	e.GET("/v1/tensors/:name", s.handleGetTensor)
	e.GET("/v1/tensors/:name/values", s.handleTensorValues)
	e.GET("/v1/tensors/:name/summary", s.handleTensorSummary)
}

func (s *Server) handleModel(c *echo.Context) error {
	meta := make(map[string]string, len(s.file.KV))
	for k, v := range s.file.KV {
		meta[k] = gguf.FormatValue(v)
	}
	return c.JSON(http.StatusOK, ModelInfo{
		Object:       "model",
		Path:         s.file.Path,
		Version:      s.file.Header.Version,
		Architecture: s.file.KV.Architecture(),
		Alignment:    s.file.Alignment,
		DataOffset:   s.file.DataOffset,
		TensorCount:  len(s.file.Tensors),
		Metadata:     meta,
	})
}

func (s *Server) handleStats(c *echo.Context) error {
	out := Stats{
		Object:    "stats",
		Tensors:   len(s.file.Tensors),
		Types:     make(map[string]int),
		Summaries: s.summaries.Len(),
	}
	for t, n := range s.file.TypeCounts() {
		out.Types[t.String()] = n
	}
	for _, ti := range s.file.Tensors {
		out.Bytes += ti.Size()
	}
	if m := s.file.Mapping(); m != nil {
		out.Mapped = m.Mapped()
		out.Refs = m.Refs()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListTensors(c *echo.Context) error {
	var filter quant.Type
	hasFilter := false
	if raw := c.QueryParam("type"); raw != "" {
		t, ok := quant.ParseType(strings.ToUpper(raw))
		if !ok {
			return writeBadRequest(c, "type", "unknown tensor type "+strconv.Quote(raw))
		}
		filter, hasFilter = t, true
	}

	out := TensorList{Object: "list", Data: []TensorInfo{}}
	for _, ti := range s.file.SortedTensors() {
		if hasFilter && ti.Type != filter {
			continue
		}
		out.Data = append(out.Data, s.tensorInfo(ti))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTensor(c *echo.Context) error {
	ti, ok := s.file.TensorByName(c.Param("name"))
	if !ok {
		return writeNotFound(c, "tensor not found")
	}
	return c.JSON(http.StatusOK, s.tensorInfo(ti))
}

func (s *Server) handleTensorValues(c *echo.Context) error {
	name := c.Param("name")
	t, ok := s.dict[name]
	if !ok {
		return writeNotFound(c, "tensor not found")
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return writeBadRequest(c, "offset", err.Error())
	}
	limit, err := intParam(c, "limit", defaultValueLimit)
	if err != nil {
		return writeBadRequest(c, "limit", err.Error())
	}
	limit = min(limit, maxValueLimit)

	values, err := t.Materialize()
	if err != nil {
		s.log.Error("materialize tensor", "name", name, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	if offset > len(values) {
		return writeBadRequest(c, "offset", "offset beyond tensor length")
	}
	end := min(offset+limit, len(values))
	out := TensorValues{
		Object: "tensor.values",
		Name:   name,
		Offset: offset,
		Total:  len(values),
		Values: make([]Float, 0, end-offset),
	}
	for _, v := range values[offset:end] {
		out.Values = append(out.Values, Float(v))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleTensorSummary(c *echo.Context) error {
	name := c.Param("name")
	t, ok := s.dict[name]
	if !ok {
		return writeNotFound(c, "tensor not found")
	}
	sum, err := s.summaries.Compute(name, t)
	if err != nil {
		s.log.Error("summarize tensor", "name", name, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
	return c.JSON(http.StatusOK, newSummary(name, sum))
}

func (s *Server) tensorInfo(ti gguf.TensorInfo) TensorInfo {
	out := TensorInfo{
		Object:   "tensor",
		Name:     ti.Name,
		Type:     ti.Type.String(),
		Shape:    ti.Shape(),
		Elements: ti.Elements(),
		Bytes:    ti.Size(),
		Offset:   ti.Offset,
	}
	if spec, err := s.file.Registry().Lookup(ti.Type); err == nil {
		out.Quantized = spec.Quantized()
	}
	switch t := s.dict[ti.Name].(type) {
	case *tensor.Lazy:
		out.Cached = t.Materialized()
	case *tensor.Plain:
		out.Cached = true
	}
	return out
}

func intParam(c *echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
