package labels

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping is a fixed bijection between class indices and garment names.
type Mapping struct {
	names   []string
	indices map[string]int
}

var (
	// FashionMNIST is the ten-class table of the Fashion-MNIST benchmark.
	FashionMNIST = mustNew(
		"tshirttop",
		"trouser",
		"pullover",
		"dress",
		"coat",
		"sandal",
		"shirt",
		"sneaker",
		"bag",
		"ankle_boot",
	)

	// Garments is the three-class table used by the trained model. The order
	// matches the sorted class directories the trainer reads.
	Garments = mustNew("bag", "shirt", "sneaker")
)

const (
	VariantFashionMNIST = "fashion_mnist"
	VariantGarments     = "garments"
)

func New(names ...string) (*Mapping, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label mapping needs at least one name")
	}

	m := &Mapping{
		names:   make([]string, len(names)),
		indices: make(map[string]int, len(names)),
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
		if prev, ok := m.indices[name]; ok {
			return nil, fmt.Errorf("label %q used for both %d and %d", name, prev, i)
		}
		m.names[i] = name
		m.indices[name] = i
	}
	return m, nil
}

func mustNew(names ...string) *Mapping {
	m, err := New(names...)
	if err != nil {
		panic(err)
	}
	return m
}

// ByName returns the table for a variant name ("garments" or "fashion_mnist").
func ByName(variant string) (*Mapping, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case VariantGarments, "three", "3":
		return Garments, nil
	case VariantFashionMNIST, "ten", "10":
		return FashionMNIST, nil
	}
	return nil, fmt.Errorf("unknown label variant %q", variant)
}

// Name returns the label for index i. ok is false outside [0, Len()).
func (m *Mapping) Name(i int) (string, bool) {
	if i < 0 || i >= len(m.names) {
		return "", false
	}
	return m.names[i], true
}

// Index returns the class index for name. ok is false for unknown names.
func (m *Mapping) Index(name string) (int, bool) {
	i, ok := m.indices[name]
	return i, ok
}

func (m *Mapping) Len() int {
	return len(m.names)
}

// Names returns a copy of the labels in index order.
func (m *Mapping) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Matches reports whether classes lists exactly this table's labels, in order.
func (m *Mapping) Matches(classes []string) bool {
	if len(classes) != len(m.names) {
		return false
	}
	for i, c := range classes {
		if m.names[i] != c {
			return false
		}
	}
	return true
}

// Sorted reports whether the labels are in lexical order, which is the order a
// directory-trained model assigns indices in.
func (m *Mapping) Sorted() bool {
	return sort.StringsAreSorted(m.names)
}
