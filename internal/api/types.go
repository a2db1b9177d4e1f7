package api

import (
	"math"
	"strconv"

	"github.com/samcharles93/ggload/internal/tensor"
)

// Float encodes non-finite values as null.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

type ModelInfo struct {
	Object       string            `json:"object"`
	Path         string            `json:"path"`
	Version      uint32            `json:"version"`
	Architecture string            `json:"architecture,omitempty"`
	Alignment    uint64            `json:"alignment"`
	DataOffset   uint64            `json:"data_offset"`
	TensorCount  int               `json:"tensor_count"`
	Metadata     map[string]string `json:"metadata"`
}

type TensorInfo struct {
	Object    string `json:"object"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Shape     []int  `json:"shape"`
	Elements  uint64 `json:"elements"`
	Bytes     uint64 `json:"bytes"`
	Offset    uint64 `json:"offset"`
	Quantized bool   `json:"quantized"`
	Cached    bool   `json:"cached"`
}

type TensorList struct {
	Object string       `json:"object"`
	Data   []TensorInfo `json:"data"`
}

type TensorValues struct {
	Object string  `json:"object"`
	Name   string  `json:"name"`
	Offset int     `json:"offset"`
	Total  int     `json:"total"`
	Values []Float `json:"values"`
}

type TensorSummary struct {
	Object string `json:"object"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Min    Float  `json:"min"`
	Max    Float  `json:"max"`
	Mean   Float  `json:"mean"`
	RMS    Float  `json:"rms"`
	NaN    int    `json:"nan"`
}

type Stats struct {
	Object    string         `json:"object"`
	Tensors   int            `json:"tensors"`
	Bytes     uint64         `json:"bytes"`
	Types     map[string]int `json:"types"`
	Mapped    bool           `json:"mapped"`
	Refs      int64          `json:"refs"`
	Summaries int            `json:"cached_summaries"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

func newSummary(name string, s tensor.Summary) TensorSummary {
	return TensorSummary{
		Object: "tensor.summary",
		Name:   name,
		Count:  s.Count,
		Min:    Float(s.Min),
		Max:    Float(s.Max),
		Mean:   Float(s.Mean),
		RMS:    Float(s.RMS),
		NaN:    s.NaN,
	}
}
