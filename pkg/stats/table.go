// Package stats tabulates header values across a dataset and reports whether
// the dataset is consistent.
package stats

import (
	"sort"
	"strconv"
	"strings"
)

// Entry is one distinct value of a FrequencyTable and how often it was seen
type Entry struct {
	// Key is the printable form of the value
	Key string

	// Values holds the tuple components; nil for string keys
	Values []float64

	Count int
}

// FrequencyTable counts occurrences of tuple or string values
type FrequencyTable struct {
	entries map[string]*Entry
	total   int
}

// NewFrequencyTable returns an empty table
func NewFrequencyTable() *FrequencyTable {
	return &FrequencyTable{entries: make(map[string]*Entry)}
}

// Add counts one occurrence of a numeric tuple
func (t *FrequencyTable) Add(values []float64) {
	key := FormatTuple(values)
	if e, ok := t.entries[key]; ok {
		e.Count++
	} else {
		t.entries[key] = &Entry{Key: key, Values: append([]float64(nil), values...), Count: 1}
	}
	t.total++
}

// AddInts counts one occurrence of an integer tuple
func (t *FrequencyTable) AddInts(values []int) {
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	t.Add(f)
}

// AddString counts one occurrence of a string key
func (t *FrequencyTable) AddString(key string) {
	if e, ok := t.entries[key]; ok {
		e.Count++
	} else {
		t.entries[key] = &Entry{Key: key, Count: 1}
	}
	t.total++
}

// Len returns the number of distinct values
func (t *FrequencyTable) Len() int { return len(t.entries) }

// Total returns the number of values added
func (t *FrequencyTable) Total() int { return t.total }

// Count returns how often the value printed as key was seen
func (t *FrequencyTable) Count(key string) int {
	if e, ok := t.entries[key]; ok {
		return e.Count
	}
	return 0
}

// Entries returns the distinct values in descending key order. Tuples compare
// component by component, strings lexicographically.
func (t *FrequencyTable) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[j], out[i])
	})
	return out
}

// Only returns the single entry of a table holding exactly one distinct value
func (t *FrequencyTable) Only() (Entry, bool) {
	if len(t.entries) != 1 {
		return Entry{}, false
	}
	for _, e := range t.entries {
		return *e, true
	}
	return Entry{}, false
}

func less(a, b Entry) bool {
	if a.Values == nil || b.Values == nil {
		return a.Key < b.Key
	}
	for i := 0; i < len(a.Values) && i < len(b.Values); i++ {
		if a.Values[i] != b.Values[i] {
			return a.Values[i] < b.Values[i]
		}
	}
	return len(a.Values) < len(b.Values)
}

// FormatTuple prints values as "(256, 256, 128)"
func FormatTuple(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
