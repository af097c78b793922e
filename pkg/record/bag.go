// Package record provides the field/value bag used for source rows and target
// records. Field names are compared case-insensitively and kept in insertion
// order. A bag may be bound to a Vocabulary, the closed set of field names a
// destination kind accepts.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

type field struct {
	name  string
	value Value
}

// Bag is an ordered, case-insensitive mapping from field name to Value.
// The zero Bag is empty and ready to use.
type Bag struct {
	fields []field
	index  map[string]int
	vocab  *Vocabulary
}

// New returns an empty, unbound bag.
func New() *Bag {
	return &Bag{}
}

// NewBound returns an empty bag that only accepts names in vocab.
func NewBound(vocab *Vocabulary) *Bag {
	return &Bag{vocab: vocab}
}

// FromPairs builds an unbound bag from alternating name/value strings.
func FromPairs(pairs ...string) *Bag {
	b := New()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.put(pairs[i], String(pairs[i+1]))
	}
	return b
}

// FromMap builds an unbound bag from a map. Iteration order of the map is not
// preserved; use FromPairs when order matters.
func FromMap(m map[string]interface{}) *Bag {
	b := New()
	for k, v := range m {
		b.put(k, FromInterface(v))
	}
	return b
}

// normalize folds case only. Surrounding spaces are part of the name.
func normalize(name string) string {
	return strings.ToLower(name)
}

// Vocabulary returns the vocabulary the bag is bound to, or nil.
func (b *Bag) Vocabulary() *Vocabulary {
	return b.vocab
}

// Len returns the number of fields set.
func (b *Bag) Len() int {
	return len(b.fields)
}

// Has reports whether name is set.
func (b *Bag) Has(name string) bool {
	_, ok := b.index[normalize(name)]
	return ok
}

// Get returns the value of name and whether it is set.
func (b *Bag) Get(name string) (Value, bool) {
	i, ok := b.index[normalize(name)]
	if !ok {
		return Null(), false
	}
	return b.fields[i].value, true
}

// GetOr returns the value of name, or def when it is absent or null.
func (b *Bag) GetOr(name string, def Value) Value {
	v, ok := b.Get(name)
	if !ok || v.IsNull() {
		return def
	}
	return v
}

// GetString returns the text form of name, or def when it is absent or null.
func (b *Bag) GetString(name, def string) string {
	return b.GetOr(name, String(def)).String()
}

// Set assigns v to name. A bound bag rejects names outside its vocabulary.
func (b *Bag) Set(name string, v Value) error {
	if b.vocab != nil && !b.vocab.Contains(name) {
		return fmt.Errorf("'%s' is not a valid %s field", name, b.vocab.Name())
	}
	if b.vocab != nil {
		// keep the vocabulary's spelling of the name
		name = b.vocab.Canonical(name)
	}
	b.put(name, v)
	return nil
}

// SetString is Set with a text value.
func (b *Bag) SetString(name, s string) error {
	return b.Set(name, String(s))
}

func (b *Bag) put(name string, v Value) {
	key := normalize(name)
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[key]; ok {
		b.fields[i].value = v
		return
	}
	b.index[key] = len(b.fields)
	b.fields = append(b.fields, field{name: name, value: v})
}

// Names returns the set field names in insertion order.
func (b *Bag) Names() []string {
	names := make([]string, len(b.fields))
	for i, f := range b.fields {
		names[i] = f.name
	}
	return names
}

// ValidNames returns the vocabulary of a bound bag, or the set names of an
// unbound one.
func (b *Bag) ValidNames() []string {
	if b.vocab != nil {
		return b.vocab.Names()
	}
	return b.Names()
}

// Each calls fn for every field in insertion order.
func (b *Bag) Each(fn func(name string, v Value)) {
	for _, f := range b.fields {
		fn(f.name, f.value)
	}
}

// Strings returns the fields as a name to text map.
func (b *Bag) Strings() map[string]string {
	out := make(map[string]string, len(b.fields))
	for _, f := range b.fields {
		out[f.name] = f.value.String()
	}
	return out
}

// Clone returns a copy of the bag bound to the same vocabulary.
func (b *Bag) Clone() *Bag {
	c := &Bag{vocab: b.vocab}
	for _, f := range b.fields {
		c.put(f.name, f.value)
	}
	return c
}

// String renders the bag as {Name: value, ...}.
func (b *Bag) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range b.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.name)
		sb.WriteString(": ")
		sb.WriteString(f.value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON encodes the bag as a JSON object in insertion order.
func (b *Bag) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range b.fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		k, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		v, err := f.value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		sb.Write(k)
		sb.WriteByte(':')
		sb.Write(v)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes a JSON object into an unbound bag, preserving key order.
func (b *Bag) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object")
	}
	*b = Bag{vocab: b.vocab}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected string key")
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return err
		}
		b.put(key, v)
	}
	_, err = dec.Token()
	return err
}
