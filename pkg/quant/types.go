package quant

import "fmt"

// Type is a GGML tensor type tag as stored in a GGUF tensor descriptor.
type Type uint32

const (
	TypeF32     Type = 0
	TypeF16     Type = 1
	TypeQ4_0    Type = 2
	TypeQ4_1    Type = 3
	TypeQ5_0    Type = 6
	TypeQ5_1    Type = 7
	TypeQ8_0    Type = 8
	TypeQ8_1    Type = 9
	TypeQ2_K    Type = 10
	TypeQ3_K    Type = 11
	TypeQ4_K    Type = 12
	TypeQ5_K    Type = 13
	TypeQ6_K    Type = 14
	TypeQ8_K    Type = 15
	TypeIQ2_XXS Type = 16
	TypeIQ2_XS  Type = 17
	TypeIQ3_XXS Type = 18
	TypeIQ1_S   Type = 19
	TypeIQ4_NL  Type = 20
	TypeIQ3_S   Type = 21
	TypeIQ2_S   Type = 22
	TypeIQ4_XS  Type = 23
	TypeI8      Type = 24
	TypeI16     Type = 25
	TypeI32     Type = 26
	TypeI64     Type = 27
	TypeF64     Type = 28
	TypeIQ1_M   Type = 29
	TypeBF16    Type = 30
	TypeTQ1_0   Type = 34
	TypeTQ2_0   Type = 35
)

var typeNames = map[Type]string{
	TypeF32:     "F32",
	TypeF16:     "F16",
	TypeQ4_0:    "Q4_0",
	TypeQ4_1:    "Q4_1",
	TypeQ5_0:    "Q5_0",
	TypeQ5_1:    "Q5_1",
	TypeQ8_0:    "Q8_0",
	TypeQ8_1:    "Q8_1",
	TypeQ2_K:    "Q2_K",
	TypeQ3_K:    "Q3_K",
	TypeQ4_K:    "Q4_K",
	TypeQ5_K:    "Q5_K",
	TypeQ6_K:    "Q6_K",
	TypeQ8_K:    "Q8_K",
	TypeIQ2_XXS: "IQ2_XXS",
	TypeIQ2_XS:  "IQ2_XS",
	TypeIQ3_XXS: "IQ3_XXS",
	TypeIQ1_S:   "IQ1_S",
	TypeIQ4_NL:  "IQ4_NL",
	TypeIQ3_S:   "IQ3_S",
	TypeIQ2_S:   "IQ2_S",
	TypeIQ4_XS:  "IQ4_XS",
	TypeI8:      "I8",
	TypeI16:     "I16",
	TypeI32:     "I32",
	TypeI64:     "I64",
	TypeF64:     "F64",
	TypeIQ1_M:   "IQ1_M",
	TypeBF16:    "BF16",
	TypeTQ1_0:   "TQ1_0",
	TypeTQ2_0:   "TQ2_0",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// ParseType resolves a type name such as "Q4_K" back to its tag.
func ParseType(name string) (Type, bool) {
	for t, s := range typeNames {
		if s == name {
			return t, true
		}
	}
	return 0, false
}
