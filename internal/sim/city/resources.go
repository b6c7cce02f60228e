package city

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ResourceType int

const (
	ResourceNone ResourceType = iota
	Gold
	Wood
	Crystals
)

// ResourceTypes lists every ledger-valid resource type in declaration order.
var ResourceTypes = []ResourceType{Gold, Wood, Crystals}

var resourceNames = map[ResourceType]string{
	ResourceNone: "None",
	Gold:         "Gold",
	Wood:         "Wood",
	Crystals:     "Crystals",
}

var (
	ErrNegativeAmount  = errors.New("negative resource amount")
	ErrUnknownResource = errors.New("unknown resource type")
)

func (t ResourceType) String() string {
	if s, ok := resourceNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ResourceType(%d)", int(t))
}

func (t ResourceType) Valid() bool { return t > ResourceNone && t <= Crystals }

func (t ResourceType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ResourceType) UnmarshalText(b []byte) error {
	v, err := ParseResourceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseResourceType is case-insensitive and rejects the None sentinel.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.TrimSpace(s)
	for _, t := range ResourceTypes {
		if strings.EqualFold(resourceNames[t], s) {
			return t, nil
		}
	}
	return ResourceNone, fmt.Errorf("%w: %q", ErrUnknownResource, s)
}

// Vector is an immutable multi-resource quantity. Zero amounts are never stored,
// so absent and zero are indistinguishable.
type Vector struct {
	m map[ResourceType]int
}

type (
	Cost   = Vector
	Income = Vector
)

var Zero = Vector{}

func NewVector(amounts map[ResourceType]int) (Vector, error) {
	m := make(map[ResourceType]int, len(amounts))
	for t, n := range amounts {
		if !t.Valid() {
			return Vector{}, fmt.Errorf("%w: %d", ErrUnknownResource, int(t))
		}
		if n < 0 {
			return Vector{}, fmt.Errorf("%w: %s=%d", ErrNegativeAmount, t, n)
		}
		if n > 0 {
			m[t] = n
		}
	}
	return Vector{m: m}, nil
}

// MustVector panics on invalid input. Use it for literals and tests.
func MustVector(amounts map[ResourceType]int) Vector {
	v, err := NewVector(amounts)
	if err != nil {
		panic(err)
	}
	return v
}

// Single builds a one-resource vector.
func Single(t ResourceType, n int) (Vector, error) {
	return NewVector(map[ResourceType]int{t: n})
}

func (v Vector) Amount(t ResourceType) int { return v.m[t] }

func (v Vector) IsZero() bool { return len(v.m) == 0 }

// Types returns the resource types present in v, sorted.
func (v Vector) Types() []ResourceType {
	out := make([]ResourceType, 0, len(v.m))
	for t := range v.m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Map returns a copy of the stored amounts.
func (v Vector) Map() map[ResourceType]int {
	out := make(map[ResourceType]int, len(v.m))
	for t, n := range v.m {
		out[t] = n
	}
	return out
}

func (v Vector) Add(o Vector) Vector {
	if len(o.m) == 0 {
		return v
	}
	if len(v.m) == 0 {
		return o
	}
	m := v.Map()
	for t, n := range o.m {
		m[t] += n
	}
	return Vector{m: m}
}

// Half floors every amount. Entries that become zero are dropped.
func (v Vector) Half() Vector {
	m := make(map[ResourceType]int, len(v.m))
	for t, n := range v.m {
		if h := n / 2; h > 0 {
			m[t] = h
		}
	}
	return Vector{m: m}
}

func (v Vector) Equal(o Vector) bool {
	if len(v.m) != len(o.m) {
		return false
	}
	for t, n := range v.m {
		if o.m[t] != n {
			return false
		}
	}
	return true
}

func (v Vector) String() string {
	if len(v.m) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, t := range v.Types() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%d", t, v.m[t])
	}
	b.WriteByte('}')
	return b.String()
}
