package setter

import "strings"

// Entry maps one candidate source value to its replacement.
type Entry struct {
	Match string
	Value string
}

// Table is an ordered lookup list for one scope. Else, when set, replaces
// unmatched values instead of the rule's default.
type Table struct {
	Scope   string
	Entries []Entry
	Else    *string
}

func (t *Table) add(match, value string) {
	t.Entries = append(t.Entries, Entry{Match: match, Value: value})
}

// Lookup returns the replacement for the first entry matching v, ignoring case.
func (t *Table) Lookup(v string) (string, bool) {
	for _, e := range t.Entries {
		if strings.EqualFold(e.Match, v) {
			return e.Value, true
		}
	}
	return "", false
}
