package record

import "strings"

// Vocabulary is the set of field names valid for one destination kind,
// such as a lab result or a location path.
type Vocabulary struct {
	name  string
	names []string
	index map[string]string
	open  bool
}

// NewVocabulary returns a closed vocabulary containing names.
func NewVocabulary(name string, names ...string) *Vocabulary {
	v := &Vocabulary{
		name:  name,
		index: make(map[string]string, len(names)),
	}
	for _, n := range names {
		key := normalize(n)
		if _, dup := v.index[key]; dup {
			continue
		}
		v.index[key] = n
		v.names = append(v.names, n)
	}
	return v
}

// OpenVocabulary returns a vocabulary that accepts every name. Export
// mappings use it because their columns are declared by the document.
func OpenVocabulary(name string) *Vocabulary {
	return &Vocabulary{name: name, index: map[string]string{}, open: true}
}

// Name returns the destination kind the vocabulary describes.
func (v *Vocabulary) Name() string {
	return v.name
}

// IsOpen reports whether every name is accepted.
func (v *Vocabulary) IsOpen() bool {
	return v.open
}

// Contains reports whether name is valid, ignoring case.
func (v *Vocabulary) Contains(name string) bool {
	if v == nil {
		return false
	}
	if v.open {
		return strings.TrimSpace(name) != ""
	}
	_, ok := v.index[normalize(name)]
	return ok
}

// Canonical returns the declared spelling of name, or name itself.
func (v *Vocabulary) Canonical(name string) string {
	if c, ok := v.index[normalize(name)]; ok {
		return c
	}
	return name
}

// Names returns the declared names in declaration order.
func (v *Vocabulary) Names() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}
